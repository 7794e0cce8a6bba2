package rpc

import (
	"context"
	"sync"
)

// Fake is an in-memory Client double for unit tests of the chain
// watcher and payout engine.
type Fake struct {
	mu sync.Mutex

	Genesis  Hash
	Versions map[uint64]RuntimeVersion // RuntimeVersionAt returns any one entry, whatever the block
	Specs    Specs
	Assets   map[string]AssetProperties
	Balances map[Hash]map[AccountID]uint64
	AssetBalances map[Hash]map[uint32]map[AccountID]uint64
	Events   map[Hash]BlockEvents
	Hashes   map[uint64]Hash

	Submitted []string

	blockFeed chan uint64
	closed    bool
}

// NewFake builds an empty fake client; tests populate the exported maps
// directly before exercising the watcher against it.
func NewFake() *Fake {
	return &Fake{
		Versions:      make(map[uint64]RuntimeVersion),
		Assets:        make(map[string]AssetProperties),
		Balances:      make(map[Hash]map[AccountID]uint64),
		AssetBalances: make(map[Hash]map[uint32]map[AccountID]uint64),
		Events:        make(map[Hash]BlockEvents),
		Hashes:        make(map[uint64]Hash),
		blockFeed:     make(chan uint64, 16),
	}
}

// PushBlock enqueues a finalized block number for delivery to whatever
// BlockSubscription the test obtained from SubscribeFinalizedBlocks.
func (f *Fake) PushBlock(number uint64, hash Hash) {
	f.mu.Lock()
	f.Hashes[number] = hash
	f.mu.Unlock()
	f.blockFeed <- number
}

func (f *Fake) GenesisHash(ctx context.Context) (Hash, error) { return f.Genesis, nil }

func (f *Fake) SubscribeFinalizedBlocks(ctx context.Context) (BlockSubscription, error) {
	return &fakeSub{f: f}, nil
}

type fakeSub struct{ f *Fake }

func (s *fakeSub) Next(ctx context.Context) (uint64, error) {
	select {
	case n := <-s.f.blockFeed:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *fakeSub) Unsubscribe() {}

func (f *Fake) BlockHash(ctx context.Context, number *uint64) (Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number == nil {
		return f.Genesis, nil
	}
	return f.Hashes[*number], nil
}

func (f *Fake) RuntimeVersionAt(ctx context.Context, block Hash) (RuntimeVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.Versions {
		return v, nil
	}
	return RuntimeVersion{}, nil
}

func (f *Fake) MetadataAt(ctx context.Context, block Hash) (Metadata, error) {
	return &fakeMetadata{}, nil
}

type fakeMetadata struct{}

func (m *fakeMetadata) SpecName() string { return "" }

func (f *Fake) SpecsAt(ctx context.Context, block Hash) (Specs, error) { return f.Specs, nil }

func (f *Fake) AssetsSetAt(ctx context.Context, block Hash) (map[string]AssetProperties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]AssetProperties, len(f.Assets))
	for k, v := range f.Assets {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SystemBalance(ctx context.Context, block Hash, account AccountID) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Balances[block][account], nil
}

func (f *Fake) AssetBalance(ctx context.Context, block Hash, assetID uint32, account AccountID) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AssetBalances[block][assetID][account], nil
}

func (f *Fake) EventsAt(ctx context.Context, block Hash) (BlockEvents, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Events[block], nil
}

func (f *Fake) SubmitExtrinsic(ctx context.Context, hexBytes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Submitted = append(f.Submitted, hexBytes)
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
