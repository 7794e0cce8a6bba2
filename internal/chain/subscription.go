package chain

import (
	"context"
	"fmt"

	"github.com/kalatori/chaind/internal/klog"
	"github.com/kalatori/chaind/internal/rpc"
)

// runSubscription is the block-subscription child task spawned at the
// end of a successful connection: it does nothing but forward finalized
// block numbers into the watcher's inbox until the subscription breaks
// or ctx is cancelled.
func runSubscription(ctx context.Context, sub rpc.BlockSubscription, inbox chan<- any, log klog.Logger) error {
	for {
		number, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("block subscription: %w", err)
		}
		log.Debug("received finalized block", "number", number)
		select {
		case inbox <- newBlock{number: number}:
		case <-ctx.Done():
			return nil
		}
	}
}
