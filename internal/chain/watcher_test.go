package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalatori/chaind/internal/klog"
	"github.com/kalatori/chaind/internal/rpc"
	"github.com/kalatori/chaind/internal/signer"
	"github.com/kalatori/chaind/internal/state"
	"github.com/kalatori/chaind/internal/tasks"
)

func TestFilterAssetsKeepsOnlyDeclaredSet(t *testing.T) {
	descriptor := Descriptor{
		Name:        "kalatori-testnet",
		Endpoints:   []string{"wss://x"},
		NativeToken: &NativeToken{Name: "KLT", Decimals: 12},
		Assets:      []AssetEntry{{Name: "USDK", ID: 7}},
	}
	w := &Watcher{descriptor: descriptor}

	assetID := uint32(7)
	otherID := uint32(99)
	onChain := map[string]rpc.AssetProperties{
		"KLT":       {Kind: 0},
		"USDK":      {Kind: 1, AssetID: &assetID},
		"UNWANTED":  {Kind: 1, AssetID: &otherID},
	}
	specs := rpc.Specs{Decimals: 12}

	filtered := w.filterAssets(onChain, specs)
	require.Len(t, filtered, 2)
	require.Contains(t, filtered, "KLT")
	require.Contains(t, filtered, "USDK")
	require.NotContains(t, filtered, "UNWANTED")
}

func TestFilterAssetsRejectsDecimalsMismatch(t *testing.T) {
	descriptor := Descriptor{
		NativeToken: &NativeToken{Name: "KLT", Decimals: 12},
	}
	w := &Watcher{descriptor: descriptor}

	onChain := map[string]rpc.AssetProperties{"KLT": {Kind: 0}}
	specs := rpc.Specs{Decimals: 10}

	filtered := w.filterAssets(onChain, specs)
	require.NotContains(t, filtered, "KLT")
}

// TestWatcherPaysOrderExactlyOnce drives a full prepareChain + handleBlock
// pass against a fake RPC client and asserts OrderPaid fires exactly
// once for a native-token payment observed in a finalized block, even
// if the same block is redelivered.
func TestWatcherPaysOrderExactlyOnce(t *testing.T) {
	fake := rpc.NewFake()
	fake.Versions[0] = rpc.RuntimeVersion{SpecName: "kalatori-testnet", SpecVersion: 1}
	fake.Specs = rpc.Specs{Decimals: 12, SS58Prefix: 42}
	fake.Assets = map[string]rpc.AssetProperties{"KLT": {Kind: 0}}
	fake.Genesis = rpc.Hash{0xAA}

	descriptor := Descriptor{
		Name:        "kalatori-testnet",
		Endpoints:   []string{"wss://fake"},
		NativeToken: &NativeToken{Name: "KLT", Decimals: 12},
		SS58Prefix:  42,
	}

	dial := func(ctx context.Context, endpoint string) (rpc.Client, error) { return fake, nil }

	st := state.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := tasks.New(ctx, klog.Root())

	w := New(descriptor, dial, st.Interface(), tr, signer.Handle{}, klog.Root())

	watched := make(map[string]Invoice)
	account := rpc.AccountID{7}
	blockOneHash := rpc.Hash{1}
	fake.Balances[blockOneHash] = map[rpc.AccountID]uint64{account: 5_000}
	fake.Events[blockOneHash] = rpc.BlockEvents{
		Transfers: []rpc.TransferEvent{{To: account, Amount: 5_000}},
	}
	// Delivered up front so prepareChain's first sub.Next(ctx) call has
	// a block number to pin, the way a real finalized-heads subscription
	// would already be producing one by the time the connection is live.
	fake.PushBlock(1, blockOneHash)

	conn, err := w.prepareChain(ctx, "wss://fake", watched)
	require.NoError(t, err)

	watched["order-1"] = Invoice{
		ID:       "order-1",
		Address:  [32]byte(account),
		Currency: "KLT",
		Amount:   NewBalance(5_000),
	}

	cont, err := w.handleBlock(ctx, conn, 1, watched)
	require.NoError(t, err)
	require.True(t, cont)

	require.Equal(t, 1, st.PaidCount("order-1"))
	require.NotContains(t, watched, "order-1")

	// A second delivery of the same block must not re-emit OrderPaid:
	// the invoice was already removed from the watched set above.
	cont, err = w.handleBlock(ctx, conn, 1, watched)
	require.NoError(t, err)
	require.True(t, cont)
	require.Equal(t, 1, st.PaidCount("order-1"))
}

// TestWatcherRecordsTransactionForTouchingEvent checks that a transfer
// landing on a watched invoice's address is recorded via
// state.RecordTransaction even on the same pass that marks the order
// paid, with the block's timestamp and the event's own position.
func TestWatcherRecordsTransactionForTouchingEvent(t *testing.T) {
	fake := rpc.NewFake()
	fake.Versions[0] = rpc.RuntimeVersion{SpecName: "kalatori-testnet", SpecVersion: 1}
	fake.Specs = rpc.Specs{Decimals: 12, SS58Prefix: 42}
	fake.Assets = map[string]rpc.AssetProperties{"KLT": {Kind: 0}}
	fake.Genesis = rpc.Hash{0xAA}

	descriptor := Descriptor{
		Name:        "kalatori-testnet",
		Endpoints:   []string{"wss://fake"},
		NativeToken: &NativeToken{Name: "KLT", Decimals: 12},
		SS58Prefix:  42,
	}
	dial := func(ctx context.Context, endpoint string) (rpc.Client, error) { return fake, nil }

	st := state.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := tasks.New(ctx, klog.Root())
	w := New(descriptor, dial, st.Interface(), tr, signer.Handle{}, klog.Root())

	account := rpc.AccountID{8}
	blockOneHash := rpc.Hash{1}
	recipient := rpc.AccountID{1, 2, 3}
	blockTime := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fake.Balances[blockOneHash] = map[rpc.AccountID]uint64{account: 3_000}
	fake.Events[blockOneHash] = rpc.BlockEvents{
		Timestamp: blockTime,
		Transfers: []rpc.TransferEvent{{ExtrinsicIndex: 4, HasExtrinsic: true, From: recipient, To: account, Amount: 3_000}},
	}
	fake.PushBlock(1, blockOneHash)

	watched := make(map[string]Invoice)
	conn, err := w.prepareChain(ctx, "wss://fake", watched)
	require.NoError(t, err)

	watched["order-9"] = Invoice{
		ID:       "order-9",
		Address:  [32]byte(account),
		Currency: "KLT",
		Amount:   NewBalance(3_000),
	}

	_, err = w.handleBlock(ctx, conn, 1, watched)
	require.NoError(t, err)

	txs := st.Transactions("order-9")
	require.Len(t, txs, 1)
	require.Equal(t, uint64(1), txs[0].BlockNumber)
	require.Equal(t, uint32(4), txs[0].PositionInBlock)
	require.Equal(t, "2026-03-01T00:00:00Z", txs[0].Timestamp)
	require.Equal(t, "payment", txs[0].Kind)
	require.Equal(t, state.TxFinalized, txs[0].Status)
}

// TestWatcherRecordsWithdrawalForOutgoingEvent checks that a transfer
// sent FROM a watched invoice's address is recorded as a withdrawal,
// not a payment, and does not mark the invoice paid.
func TestWatcherRecordsWithdrawalForOutgoingEvent(t *testing.T) {
	fake := rpc.NewFake()
	fake.Versions[0] = rpc.RuntimeVersion{SpecName: "kalatori-testnet", SpecVersion: 1}
	fake.Specs = rpc.Specs{Decimals: 12, SS58Prefix: 42}
	fake.Assets = map[string]rpc.AssetProperties{"KLT": {Kind: 0}}
	fake.Genesis = rpc.Hash{0xAA}

	descriptor := Descriptor{
		Name:        "kalatori-testnet",
		Endpoints:   []string{"wss://fake"},
		NativeToken: &NativeToken{Name: "KLT", Decimals: 12},
		SS58Prefix:  42,
	}
	dial := func(ctx context.Context, endpoint string) (rpc.Client, error) { return fake, nil }

	st := state.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := tasks.New(ctx, klog.Root())
	w := New(descriptor, dial, st.Interface(), tr, signer.Handle{}, klog.Root())

	account := rpc.AccountID{10}
	other := rpc.AccountID{11}
	blockOneHash := rpc.Hash{1}
	fake.Balances[blockOneHash] = map[rpc.AccountID]uint64{account: 0}
	fake.Events[blockOneHash] = rpc.BlockEvents{
		Transfers: []rpc.TransferEvent{{ExtrinsicIndex: 2, HasExtrinsic: true, From: account, To: other, Amount: 1_000}},
	}
	fake.PushBlock(1, blockOneHash)

	watched := make(map[string]Invoice)
	conn, err := w.prepareChain(ctx, "wss://fake", watched)
	require.NoError(t, err)

	watched["order-10"] = Invoice{
		ID:       "order-10",
		Address:  [32]byte(account),
		Currency: "KLT",
		Amount:   NewBalance(5_000),
		Death:    time.Now().Add(time.Hour),
	}

	_, err = w.handleBlock(ctx, conn, 1, watched)
	require.NoError(t, err)

	txs := st.Transactions("order-10")
	require.Len(t, txs, 1)
	require.Equal(t, "withdrawal", txs[0].Kind)
	require.Equal(t, 0, st.PaidCount("order-10"))
	require.Contains(t, watched, "order-10")
}

// TestWatcherReapsExpiredInvoice checks that an invoice whose death
// deadline has passed is removed from the watched set during a block
// pass, even when the block carries no event touching its address.
func TestWatcherReapsExpiredInvoice(t *testing.T) {
	fake := rpc.NewFake()
	fake.Versions[0] = rpc.RuntimeVersion{SpecName: "kalatori-testnet", SpecVersion: 1}
	fake.Specs = rpc.Specs{Decimals: 12, SS58Prefix: 42}
	fake.Assets = map[string]rpc.AssetProperties{"KLT": {Kind: 0}}
	fake.Genesis = rpc.Hash{0xAA}

	descriptor := Descriptor{
		Name:        "kalatori-testnet",
		Endpoints:   []string{"wss://fake"},
		NativeToken: &NativeToken{Name: "KLT", Decimals: 12},
		SS58Prefix:  42,
	}
	dial := func(ctx context.Context, endpoint string) (rpc.Client, error) { return fake, nil }

	st := state.NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := tasks.New(ctx, klog.Root())
	w := New(descriptor, dial, st.Interface(), tr, signer.Handle{}, klog.Root())

	account := rpc.AccountID{12}
	blockOneHash := rpc.Hash{1}
	fake.Balances[blockOneHash] = map[rpc.AccountID]uint64{account: 0}
	fake.Events[blockOneHash] = rpc.BlockEvents{}
	fake.PushBlock(1, blockOneHash)

	watched := make(map[string]Invoice)
	conn, err := w.prepareChain(ctx, "wss://fake", watched)
	require.NoError(t, err)

	watched["order-11"] = Invoice{
		ID:       "order-11",
		Address:  [32]byte(account),
		Currency: "KLT",
		Amount:   NewBalance(5_000),
		Death:    time.Now().Add(-time.Minute),
	}

	_, err = w.handleBlock(ctx, conn, 1, watched)
	require.NoError(t, err)
	require.NotContains(t, watched, "order-11")
	require.Equal(t, 0, st.PaidCount("order-11"))
}

func TestWatcherRejectsWrongNetwork(t *testing.T) {
	fake := rpc.NewFake()
	fake.Versions[0] = rpc.RuntimeVersion{SpecName: "some-other-chain"}
	fake.Specs = rpc.Specs{Decimals: 12}
	fake.Genesis = rpc.Hash{0xAA}

	descriptor := Descriptor{
		Name:      "kalatori-testnet",
		Endpoints: []string{"wss://fake"},
	}
	dial := func(ctx context.Context, endpoint string) (rpc.Client, error) { return fake, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := tasks.New(ctx, klog.Root())
	st := state.NewInMemory()

	w := New(descriptor, dial, st.Interface(), tr, signer.Handle{}, klog.Root())

	fake.PushBlock(1, rpc.Hash{1})

	_, err := w.prepareChain(ctx, "wss://fake", map[string]Invoice{})
	require.Error(t, err)
}
