package signer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalatori/chaind/internal/klog"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewFromMnemonicRejectsInvalidPhrase(t *testing.T) {
	_, _, err := NewFromMnemonic(context.Background(), "not a real mnemonic phrase at all", klog.Root())
	require.Error(t, err)
}

func TestPublicKeyIsDeterministic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, h, err := NewFromMnemonic(ctx, testMnemonic, klog.Root())
	require.NoError(t, err)

	recipient := "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

	addrA, err := h.PublicKey(ctx, recipient, "order-1")
	require.NoError(t, err)
	addrB, err := h.PublicKey(ctx, recipient, "order-1")
	require.NoError(t, err)
	require.Equal(t, addrA, addrB)

	addrC, err := h.PublicKey(ctx, recipient, "order-2")
	require.NoError(t, err)
	require.NotEqual(t, addrA, addrC, "distinct order ids must derive distinct addresses")
}

func TestPublicKeyRejectsBadRecipient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, h, err := NewFromMnemonic(ctx, testMnemonic, klog.Root())
	require.NoError(t, err)

	_, err = h.PublicKey(ctx, "not-ss58", "order-1")
	require.Error(t, err)
}

func TestShutdownStopsWorker(t *testing.T) {
	_, h, err := NewFromMnemonic(context.Background(), testMnemonic, klog.Root())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}
