// Package tasks implements structured goroutine supervision: every
// spawned goroutine is named, joined on shutdown, and reacts to a
// single shared cancellation signal, built on golang.org/x/sync/errgroup.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalatori/chaind/internal/klog"
)

// Tracker owns a cancellation context and joins every task spawned
// through it. Shutdown is not complete until every task has returned.
type Tracker struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	log klog.Logger

	mu    sync.Mutex
	names []string
}

// New creates a tracker rooted at parent. Cancel() or the parent's own
// cancellation trips every task's ctx.Done().
func New(parent context.Context, log klog.Logger) *Tracker {
	ctx, cancel := context.WithCancel(parent)
	return &Tracker{ctx: ctx, cancel: cancel, group: new(errgroup.Group), log: log}
}

// Context returns the tracker's shared cancellation context. Components
// check ctx.Done() at every suspension point.
func (t *Tracker) Context() context.Context { return t.ctx }

// Cancel trips the shared cancellation token; every tracked task should
// observe ctx.Done() at its next suspension point.
func (t *Tracker) Cancel() { t.cancel() }

// Spawn registers and starts a named task. A panic inside fn is
// recovered and converted into an error result rather than crashing the
// process, so one misbehaving task cannot take down the others mid-join.
func (t *Tracker) Spawn(name string, fn func(ctx context.Context) error) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()

	t.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %q panicked: %v", name, r)
				t.log.Error("task panicked", "task", name, "panic", r)
			}
		}()
		t.log.Debug("task starting", "task", name)
		err = fn(t.ctx)
		if err != nil {
			t.log.Warn("task exited with error", "task", name, "err", err)
		} else {
			t.log.Debug("task exited", "task", name)
		}
		return err
	})
}

// Shutdown cancels every task and waits for all of them to return,
// returning the first non-nil error observed, if any.
func (t *Tracker) Shutdown() error {
	t.cancel()
	return t.group.Wait()
}

// Names returns the names of every task spawned so far, for diagnostics.
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}
