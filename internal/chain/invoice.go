package chain

import (
	"context"
	"time"

	"github.com/kalatori/chaind/internal/rpc"
)

// balance fetches the invoice's current balance at block, dispatching
// to the native or asset storage query depending on how the watcher's
// currency table classifies the invoice's currency.
func (inv Invoice) balance(ctx context.Context, client rpc.Client, block rpc.Hash, props CurrencyProperties) (Balance, error) {
	switch props.Kind {
	case TokenAsset:
		units, err := client.AssetBalance(ctx, block, *props.AssetID, rpc.AccountID(inv.Address))
		if err != nil {
			return Balance{}, err
		}
		return NewBalance(units), nil
	default:
		units, err := client.SystemBalance(ctx, block, rpc.AccountID(inv.Address))
		if err != nil {
			return Balance{}, err
		}
		return NewBalance(units), nil
	}
}

// check reports whether the invoice is paid at block: the observed
// balance(currency, address, block) >= amount, compared as exact
// integers with no floating-point involved.
func (inv Invoice) check(ctx context.Context, client rpc.Client, block rpc.Hash, props CurrencyProperties) (bool, Balance, error) {
	bal, err := inv.balance(ctx, client, block, props)
	if err != nil {
		return false, Balance{}, err
	}
	return bal.GTE(inv.Amount), bal, nil
}

// dead reports whether the invoice has passed its death deadline at
// now. An invoice whose death deadline equals now is reaped: the
// comparison is death <= now, not death < now (see DESIGN.md's Open
// Question decisions).
func (inv Invoice) dead(now time.Time) bool {
	return !inv.Death.After(now)
}
