// Package rpc is the RPC client adapter for a single chain connection,
// backed by github.com/centrifuge/go-substrate-rpc-client/v2 (gsrpc) for
// the Substrate JSON-RPC/WS protocol, SCALE decoding, and metadata
// parsing.
package rpc

import (
	"context"
	"time"
)

// Hash is a block or genesis hash (H256).
type Hash [32]byte

// RuntimeVersion is an opaque comparable token used to detect runtime
// upgrades. gsrpc reports this as a spec_version integer plus a
// transaction_version; both are folded in so either changing counts as
// an upgrade.
type RuntimeVersion struct {
	SpecName       string
	SpecVersion    uint32
	TransactionVer uint32
}

// Specs are the short chain specs used to render/derive addresses and
// validate decimals.
type Specs struct {
	Decimals   uint8
	SS58Prefix uint16
}

// AccountID is a 32-byte sr25519/ed25519 public key.
type AccountID [32]byte

// AssetProperties is what the chain reports about one on-chain asset
// entry, before filtering to the configured set.
type AssetProperties struct {
	Kind     int // 0 = native, 1 = asset; mirrors chain.TokenKind
	AssetID  *uint32
	Decimals uint8
}

// TransferEvent is one decoded balances/assets transfer observed at a
// block, paired with the extrinsic index that produced it.
type TransferEvent struct {
	ExtrinsicIndex uint32
	HasExtrinsic   bool
	From           AccountID
	To             AccountID
	AssetID        *uint32 // nil for a native balances transfer
	Amount         uint64  // smallest units; widened to Balance by the caller
}

// BlockEvents is the decoded event set for one block.
type BlockEvents struct {
	Timestamp time.Time
	Transfers []TransferEvent
}

// BlockSubscription streams finalized block numbers.
type BlockSubscription interface {
	// Next blocks until the next finalized block number is available,
	// the context is cancelled, or the underlying stream ends.
	Next(ctx context.Context) (uint64, error)
	Unsubscribe()
}

// Client is the typed adapter over a single chain connection. Every
// call fails with a typed network/decoding error
// (chainerr.ErrConnectionFailed / ErrCallFailed / ErrDecodeFailed);
// none are retried here — retry policy lives one layer up, in the chain
// watcher.
type Client interface {
	GenesisHash(ctx context.Context) (Hash, error)
	SubscribeFinalizedBlocks(ctx context.Context) (BlockSubscription, error)
	BlockHash(ctx context.Context, number *uint64) (Hash, error)
	RuntimeVersionAt(ctx context.Context, block Hash) (RuntimeVersion, error)
	MetadataAt(ctx context.Context, block Hash) (Metadata, error)
	SpecsAt(ctx context.Context, block Hash) (Specs, error)
	AssetsSetAt(ctx context.Context, block Hash) (map[string]AssetProperties, error)
	SystemBalance(ctx context.Context, block Hash, account AccountID) (uint64, error)
	AssetBalance(ctx context.Context, block Hash, assetID uint32, account AccountID) (uint64, error)
	EventsAt(ctx context.Context, block Hash) (BlockEvents, error)
	SubmitExtrinsic(ctx context.Context, hexBytes string) error
	Close() error
}

// Metadata is an opaque handle to decoded runtime metadata, used by the
// gsrpc client's EventsAt to decode event records. It wraps
// *gsrpctypes.Metadata without leaking that import into callers that
// only need to hold and forward the value. Chain identity validation
// uses RuntimeVersion.SpecName directly, not this handle.
type Metadata interface {
	SpecName() string
}
