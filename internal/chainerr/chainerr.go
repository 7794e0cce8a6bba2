// Package chainerr defines the typed error values surfaced by the
// chain-interaction core, following Go's sentinel-plus-wrapping idiom
// so callers can compare with errors.Is/As instead of string matching.
package chainerr

import (
	"errors"
	"fmt"
)

// Sentinel chain errors, compared with errors.Is.
var (
	ErrWrongNetwork   = errors.New("chain reports an unexpected spec name")
	ErrAssetsInvalid  = errors.New("configured asset set is not fully present on chain")
	ErrInvalidCurrency = errors.New("unknown currency for this chain")
	ErrInvoiceAccount = errors.New("payment account is not valid base58/SS58")
	ErrConnectionFailed = errors.New("failed to connect to RPC endpoint")
	ErrCallFailed     = errors.New("RPC call failed")
	ErrSubscriptionDropped = errors.New("block subscription dropped")
	ErrDecodeFailed   = errors.New("failed to decode RPC response")
	ErrUnknownChain   = errors.New("no chain configured for this currency")
	ErrServiceUnavailable = errors.New("chain watcher is unavailable")
)

// Sentinel signer errors.
var (
	ErrSignerDown = errors.New("signer worker is down")
	ErrBadMnemonic = errors.New("mnemonic is missing or invalid")
)

// Sentinel configuration errors.
var (
	ErrMissingEndpoints = errors.New("chain has no configured endpoints")
	ErrDuplicateAsset   = errors.New("asset name is not unique within chain")
	ErrDecimalsMismatch = errors.New("native token decimals do not match chain decimals")
)

// ChainError wraps a sentinel with context about which chain/endpoint hit it.
type ChainError struct {
	Chain    string
	Endpoint string
	Err      error
}

func (e *ChainError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("chain %q (%s): %v", e.Chain, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("chain %q: %v", e.Chain, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// WrongNetwork builds the error raised when a chain's reported spec
// name doesn't match its configured name.
func WrongNetwork(chain, endpoint, expected, actual string) *ChainError {
	return &ChainError{
		Chain:    chain,
		Endpoint: endpoint,
		Err:      fmt.Errorf("%w: expected %q, got %q", ErrWrongNetwork, expected, actual),
	}
}

// AssetsInvalid builds the error raised when the configured asset set
// isn't fully present on the connected chain.
func AssetsInvalid(chain string, want, got int) *ChainError {
	return &ChainError{
		Chain: chain,
		Err:   fmt.Errorf("%w: want %d configured assets, found %d on chain", ErrAssetsInvalid, want, got),
	}
}
