package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalatori/chaind/internal/rpc"
)

func TestInvoiceCheckNative(t *testing.T) {
	fake := rpc.NewFake()
	block := rpc.Hash{1}
	account := rpc.AccountID{2}
	fake.Balances[block] = map[rpc.AccountID]uint64{account: 1_000}

	inv := Invoice{ID: "order-1", Address: [32]byte(account), Currency: "KLT", Amount: NewBalance(1_000)}
	props := CurrencyProperties{Kind: TokenNative}

	ok, bal, err := inv.check(context.Background(), fake, block, props)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1_000), bal.Uint64())
}

func TestInvoiceCheckShortfall(t *testing.T) {
	fake := rpc.NewFake()
	block := rpc.Hash{1}
	account := rpc.AccountID{3}
	fake.Balances[block] = map[rpc.AccountID]uint64{account: 500}

	inv := Invoice{ID: "order-2", Address: [32]byte(account), Currency: "KLT", Amount: NewBalance(1_000)}
	props := CurrencyProperties{Kind: TokenNative}

	ok, _, err := inv.check(context.Background(), fake, block, props)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvoiceCheckAsset(t *testing.T) {
	fake := rpc.NewFake()
	block := rpc.Hash{9}
	account := rpc.AccountID{4}
	fake.AssetBalances[block] = map[uint32]map[rpc.AccountID]uint64{7: {account: 2_000}}

	assetID := uint32(7)
	inv := Invoice{ID: "order-3", Address: [32]byte(account), Currency: "USDK", Amount: NewBalance(2_000)}
	props := CurrencyProperties{Kind: TokenAsset, AssetID: &assetID}

	ok, _, err := inv.check(context.Background(), fake, block, props)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInvoiceDeathReapSemantics(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	pastDue := Invoice{Death: now.Add(-time.Second)}
	require.True(t, pastDue.dead(now))

	exactlyNow := Invoice{Death: now}
	require.True(t, exactlyNow.dead(now), "death == now must reap")

	future := Invoice{Death: now.Add(time.Second)}
	require.False(t, future.dead(now))
}
