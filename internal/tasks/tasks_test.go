package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalatori/chaind/internal/klog"
)

func TestSpawnAndShutdownJoinsAllTasks(t *testing.T) {
	tr := New(context.Background(), klog.Root())

	var ran int32
	for i := 0; i < 5; i++ {
		tr.Spawn("worker", func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			<-ctx.Done()
			return nil
		})
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 5 }, time.Second, time.Millisecond)
	require.NoError(t, tr.Shutdown())
	require.Len(t, tr.Names(), 5)
}

func TestShutdownReturnsFirstTaskError(t *testing.T) {
	tr := New(context.Background(), klog.Root())
	boom := errors.New("boom")

	tr.Spawn("failing", func(ctx context.Context) error { return boom })
	tr.Spawn("quiet", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	err := tr.Shutdown()
	require.Error(t, err)
}

func TestSpawnRecoversPanic(t *testing.T) {
	tr := New(context.Background(), klog.Root())

	tr.Spawn("panicker", func(ctx context.Context) error {
		panic("kaboom")
	})

	err := tr.Shutdown()
	require.Error(t, err)
}

func TestCancelStopsContextBeforeShutdown(t *testing.T) {
	tr := New(context.Background(), klog.Root())
	done := make(chan struct{})

	tr.Spawn("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return nil
	})

	tr.Cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}
	require.NoError(t, tr.Shutdown())
}
