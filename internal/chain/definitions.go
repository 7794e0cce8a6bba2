// Package chain implements the chain-interaction subsystem: the chain
// descriptor and invoice data model, the per-chain watcher actor, its
// block subscription child, the payout engine, and the chain manager
// that routes requests across watchers.
package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"github.com/kalatori/chaind/internal/chainerr"
	"github.com/kalatori/chaind/internal/state"
)

// TokenKind distinguishes a chain's native balance from a pallet-assets
// entry.
type TokenKind int

const (
	TokenNative TokenKind = iota
	TokenAsset
)

func (k TokenKind) String() string {
	if k == TokenAsset {
		return "asset"
	}
	return "native"
}

// AssetID is the on-chain numeric identifier of a pallet-assets entry.
type AssetID = uint32

// NativeToken is the chain descriptor's optional native-token declaration.
type NativeToken struct {
	Name     string
	Decimals uint8
}

// AssetEntry is one declared asset in a chain descriptor.
type AssetEntry struct {
	Name string
	ID   AssetID
}

// Descriptor is the immutable-after-load chain configuration.
type Descriptor struct {
	Name        string
	Endpoints   []string
	NativeToken *NativeToken
	Assets      []AssetEntry

	// SS58Prefix is the chain's address format prefix, used by the payout
	// engine to render the invoice recipient's address for the signer.
	SS58Prefix uint16
}

// Validate checks that asset names are unique within the chain; that
// native-token decimals equal the chain's reported decimals is
// validated separately, once connected (see watcher.go).
func (d Descriptor) Validate() error {
	if len(d.Endpoints) == 0 {
		return fmt.Errorf("%w: chain %q", chainerr.ErrMissingEndpoints, d.Name)
	}
	seen := make(map[string]struct{}, len(d.Assets))
	for _, a := range d.Assets {
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: %q in chain %q", chainerr.ErrDuplicateAsset, a.Name, d.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// AssetCount is the number of currencies a chain declares: the native
// token, if any, plus every declared pallet-asset entry. prepareChain
// compares this against the filtered on-chain set to catch a
// misconfigured or missing asset.
func (d Descriptor) AssetCount() int {
	n := len(d.Assets)
	if d.NativeToken != nil {
		n++
	}
	return n
}

// CurrencyProperties is the bridge between a currency's textual name and
// its on-chain representation.
type CurrencyProperties struct {
	Kind     TokenKind
	AssetID  *AssetID
	Decimals uint8
}

// Balance is an exact, non-negative integer in the smallest
// denomination of a currency. Backed by holiman/uint256 for exact,
// allocation-free 256-bit arithmetic.
type Balance struct {
	v uint256.Int
}

// NewBalance wraps a uint64 amount of smallest units.
func NewBalance(units uint64) Balance {
	var b Balance
	b.v.SetUint64(units)
	return b
}

// ParseDecimal converts a human amount (e.g. 1.5) at the given decimal
// precision into a Balance of smallest units, rounding to the nearest
// unit.
func ParseDecimal(amount float64, decimals uint8) Balance {
	scaled := amount
	for i := uint8(0); i < decimals; i++ {
		scaled *= 10
	}
	var b Balance
	b.v.SetUint64(uint64(scaled + 0.5))
	return b
}

// Decimal renders the balance as a float at the given decimal precision,
// the inverse of ParseDecimal.
func (b Balance) Decimal(decimals uint8) float64 {
	f := new(big.Float).SetInt(b.v.ToBig())
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, divisor)
	result, _ := f.Float64()
	return result
}

// Cmp compares two balances exactly, with no floating-point rounding.
func (b Balance) Cmp(o Balance) int { return b.v.Cmp(&o.v) }

// GTE reports whether b >= o, the comparator Invoice.check uses to
// decide whether an order is paid.
func (b Balance) GTE(o Balance) bool { return b.Cmp(o) >= 0 }

// Sub returns b - o. Subtraction is exact; the payout engine relies on
// this never underflowing because it only subtracts an amount already
// known to be <= the observed balance by the surplus dispatch in
// payout.go.
func (b Balance) Sub(o Balance) Balance {
	var r Balance
	r.v.Sub(&b.v, &o.v)
	return r
}

func (b Balance) String() string { return b.v.Dec() }

// Bytes32 renders the balance as big-endian bytes; the payout engine's
// extrinsic builder re-orders these to SCALE's little-endian wire form.
func (b Balance) Bytes32() [32]byte {
	return b.v.Bytes32()
}

// Uint64 returns the balance truncated to a uint64, used only where the
// caller has already established the value fits (existential-deposit
// multiples, tolerance bands).
func (b Balance) Uint64() uint64 { return b.v.Uint64() }

// FromUint256 wraps a *uint256.Int returned by the RPC adapter's SCALE
// decoding of a balance storage entry.
func FromUint256(v *uint256.Int) Balance {
	var b Balance
	b.v.Set(v)
	return b
}

// Invoice is the active record of one watched order inside a chain
// watcher's map. It is exclusively owned by its watcher.
type Invoice struct {
	ID        string
	Address   ss58Account
	Currency  string
	Amount    Balance
	Recipient ss58Account
	Death     time.Time
}

// ss58Account is kept as an alias so invoice.go/payout.go can refer to
// the same 32-byte account-id representation without importing common/ss58
// in this file's doc comments.
type ss58Account = [32]byte

// WatchAccount is the transient request to begin watching an order,
// carrying a one-shot reply channel.
type WatchAccount struct {
	ID        string
	Address   ss58Account
	Currency  string
	Amount    Balance
	Recipient ss58Account
	Death     time.Time

	Reply chan error
}

// InvoiceFromRequest converts an accepted WatchAccount into the Invoice
// stored in the watcher's map, acknowledging the request's reply channel
// exactly once.
func InvoiceFromRequest(req WatchAccount) Invoice {
	select {
	case req.Reply <- nil:
	default:
	}
	return Invoice{
		ID:        req.ID,
		Address:   req.Address,
		Currency:  req.Currency,
		Amount:    req.Amount,
		Recipient: req.Recipient,
		Death:     req.Death,
	}
}

// TransactionKind classifies an observed transfer relative to an
// invoice's address.
type TransactionKind int

const (
	KindPayment TransactionKind = iota
	KindWithdrawal
)

func (k TransactionKind) String() string {
	if k == KindWithdrawal {
		return "withdrawal"
	}
	return "payment"
}

// EndpointHealth classifies an endpoint's connectivity. No component in
// this module reports or aggregates it.
type EndpointHealth int

const (
	HealthOk EndpointHealth = iota
	HealthDegraded
	HealthCritical
)

func (h EndpointHealth) String() string {
	switch h {
	case HealthOk:
		return "ok"
	case HealthDegraded:
		return "degraded"
	default:
		return "critical"
	}
}

// newTransactionInfo builds a state.TransactionInfo to hand to
// state.State.RecordTransaction.
func newTransactionInfo(blockNumber uint64, position uint32, ts time.Time, sender, recipient ss58Account, amount Balance, decimals uint8, currency string, kind TransactionKind, status state.TxStatus) state.TransactionInfo {
	return state.TransactionInfo{
		BlockNumber:     blockNumber,
		PositionInBlock: position,
		Timestamp:       ts.UTC().Format(time.RFC3339),
		Sender:          sender,
		Recipient:       recipient,
		Amount:          state.AmountExact(amount.Decimal(decimals)),
		Currency:        currency,
		Kind:            kind.String(),
		Status:          status,
	}
}
