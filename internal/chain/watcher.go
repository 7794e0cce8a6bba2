package chain

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalatori/chaind/common/backoff"
	"github.com/kalatori/chaind/internal/chainerr"
	"github.com/kalatori/chaind/internal/klog"
	"github.com/kalatori/chaind/internal/rpc"
	"github.com/kalatori/chaind/internal/signer"
	"github.com/kalatori/chaind/internal/state"
	"github.com/kalatori/chaind/internal/tasks"
)

// watchdogTimeout bounds how long the inner request loop waits for its
// next message before concluding the connection is stalled and cycling
// to the next endpoint.
const watchdogTimeout = 120 * time.Second

// inboxCapacity bounds every watcher's request channel.
const inboxCapacity = 64

// newBlock, reap and watcherShutdown are the watcher's inbox message
// kinds; WatchAccount (defined in definitions.go) is the fourth.
type newBlock struct{ number uint64 }

type reap struct {
	id string
}

type watcherShutdown struct {
	done chan<- struct{}
}

// Dialer opens an rpc.Client against one endpoint; production code uses
// rpc.Dial, tests substitute a constructor returning an rpc.Fake.
type Dialer func(ctx context.Context, endpoint string) (rpc.Client, error)

// Watcher is one chain's actor: it owns a single live RPC connection at
// a time, cycling endpoints on failure, and serialises every invoice
// mutation through its inbox.
type Watcher struct {
	descriptor   Descriptor
	dial         Dialer
	state        state.State
	tasks        *tasks.Tracker
	signerHandle signer.Handle
	log          klog.Logger

	inbox chan any

	eventCache *lru.Cache[rpc.Hash, rpc.BlockEvents]
}

// New constructs a watcher for one chain descriptor. Run must be called
// to actually start the reconnection loop.
func New(descriptor Descriptor, dial Dialer, st state.State, tr *tasks.Tracker, sh signer.Handle, log klog.Logger) *Watcher {
	cache, _ := lru.New[rpc.Hash, rpc.BlockEvents](256)
	return &Watcher{
		descriptor:   descriptor,
		dial:         dial,
		state:        st,
		tasks:        tr,
		signerHandle: sh,
		log:          log.With("chain", descriptor.Name),
		inbox:        make(chan any, inboxCapacity),
		eventCache:   cache,
	}
}

// Inbox exposes the channel the chain manager and shutdown paths send
// requests on.
func (w *Watcher) Inbox() chan<- any { return w.inbox }

// connected snapshot, rebuilt each time prepareChain succeeds.
type connected struct {
	client  rpc.Client
	genesis rpc.Hash
	specs   rpc.Specs
	version rpc.RuntimeVersion
	assets  map[string]CurrencyProperties
	sub     rpc.BlockSubscription
}

// Run is the outer reconnection loop: cycle endpoints, waiting after each
// failed connection attempt for that endpoint's capped-exponential
// back-off, until ctx is cancelled or a Shutdown request is served.
func (w *Watcher) Run(ctx context.Context) error {
	watched := make(map[string]Invoice)
	backoffs := make([]*backoff.Exponential, len(w.descriptor.Endpoints))
	for i := range backoffs {
		backoffs[i] = backoff.NewExponential(500*time.Millisecond, 30*time.Second, 250*time.Millisecond)
	}

	if err := w.descriptor.Validate(); err != nil {
		return err
	}
	if len(w.descriptor.Endpoints) == 0 {
		return fmt.Errorf("%w: chain %q", chainerr.ErrMissingEndpoints, w.descriptor.Name)
	}

	shutdownRequested := false
	for idx := 0; ; idx = (idx + 1) % len(w.descriptor.Endpoints) {
		if ctx.Err() != nil || shutdownRequested {
			return nil
		}
		endpoint := w.descriptor.Endpoints[idx]
		bo := backoffs[idx]

		conn, err := w.prepareChain(ctx, endpoint, watched)
		if err != nil {
			w.log.Warn("failed to connect, switching RPC endpoint", "endpoint", endpoint, "err", err)
			select {
			case <-time.After(bo.NextDuration()):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		bo.Reset()

		done, err := w.serve(ctx, conn, watched)
		conn.sub.Unsubscribe()
		_ = conn.client.Close()
		if done {
			shutdownRequested = true
		}
		if err != nil {
			w.log.Info("connection lost, switching RPC endpoint", "endpoint", endpoint, "err", err)
		}
	}
}

// prepareChain dials one endpoint, pins a starting block, validates
// chain identity and the configured asset set against it, publishes the
// currency table, re-evaluates any invoices carried over from a prior
// connection, and spawns the block-subscription child task.
func (w *Watcher) prepareChain(ctx context.Context, endpoint string, watched map[string]Invoice) (*connected, error) {
	client, err := w.dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	genesis, err := client.GenesisHash(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	sub, err := client.SubscribeFinalizedBlocks(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	firstBlockNum, err := sub.Next(ctx)
	if err != nil {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, err
	}
	block, err := client.BlockHash(ctx, &firstBlockNum)
	if err != nil {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, err
	}

	version, err := client.RuntimeVersionAt(ctx, block)
	if err != nil {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, err
	}
	if version.SpecName != w.descriptor.Name {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, chainerr.WrongNetwork(w.descriptor.Name, endpoint, w.descriptor.Name, version.SpecName)
	}

	specs, err := client.SpecsAt(ctx, block)
	if err != nil {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, err
	}

	onChain, err := client.AssetsSetAt(ctx, block)
	if err != nil {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, err
	}

	assets := w.filterAssets(onChain, specs)
	if len(assets) != w.descriptor.AssetCount() {
		sub.Unsubscribe()
		_ = client.Close()
		return nil, chainerr.AssetsInvalid(w.descriptor.Name, w.descriptor.AssetCount(), len(assets))
	}

	published := make(map[string]state.CurrencyProperties, len(assets))
	for name, props := range assets {
		var assetID *uint32
		if props.AssetID != nil {
			id := *props.AssetID
			assetID = &id
		}
		published[name] = state.CurrencyProperties{Kind: int(props.Kind), AssetID: assetID, Decimals: props.Decimals}
	}
	w.state.ConnectChain(w.descriptor.Name, published)

	w.reevaluate(ctx, client, block, assets, watched)

	w.tasks.Spawn(fmt.Sprintf("chain %s block subscription at %s", w.descriptor.Name, endpoint), func(ctx context.Context) error {
		return runSubscription(ctx, sub, w.inbox, w.log)
	})

	return &connected{client: client, genesis: genesis, specs: specs, version: version, assets: assets, sub: sub}, nil
}

// filterAssets keeps only the currencies the chain descriptor actually
// declares, matching by name+decimals for the native token and by
// name+asset-id for pallet-assets entries.
func (w *Watcher) filterAssets(onChain map[string]rpc.AssetProperties, specs rpc.Specs) map[string]CurrencyProperties {
	out := make(map[string]CurrencyProperties)
	if nt := w.descriptor.NativeToken; nt != nil {
		if _, ok := onChain[nt.Name]; ok && nt.Decimals == specs.Decimals {
			out[nt.Name] = CurrencyProperties{Kind: TokenNative, Decimals: specs.Decimals}
		}
	}
	for _, declared := range w.descriptor.Assets {
		props, ok := onChain[declared.Name]
		if !ok || props.AssetID == nil || *props.AssetID != declared.ID {
			continue
		}
		id := declared.ID
		out[declared.Name] = CurrencyProperties{Kind: TokenAsset, AssetID: &id, Decimals: props.Decimals}
	}
	return out
}

// reevaluate checks every carried-over invoice against the freshly
// pinned block, the same pass prepareChain's Rust counterpart performs
// before handing control back to the request loop.
func (w *Watcher) reevaluate(ctx context.Context, client rpc.Client, block rpc.Hash, assets map[string]CurrencyProperties, watched map[string]Invoice) {
	var paid []string
	for id, inv := range watched {
		props, ok := assets[inv.Currency]
		if !ok {
			continue
		}
		ok, bal, err := inv.check(ctx, client, block, props)
		if err != nil {
			w.log.Warn("account fetch error during reconnect", "order", id, "err", err)
			continue
		}
		if ok {
			w.state.OrderPaid(id)
			paid = append(paid, id)
			_ = bal
		}
	}
	for _, id := range paid {
		delete(watched, id)
	}
}

// serve runs the inner request loop against one live connection. It
// returns done=true only when a Shutdown request was handled.
func (w *Watcher) serve(ctx context.Context, conn *connected, watched map[string]Invoice) (done bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(watchdogTimeout):
			return false, fmt.Errorf("watchdog timeout waiting for next request")
		case msg := <-w.inbox:
			switch m := msg.(type) {
			case newBlock:
				if cont, serveErr := w.handleBlock(ctx, conn, m.number, watched); !cont {
					return false, serveErr
				}
			case WatchAccount:
				watched[m.ID] = InvoiceFromRequest(m)
			case reap:
				if inv, ok := watched[m.id]; ok {
					w.spawnPayout(conn, inv)
				}
			case watcherShutdown:
				close(m.done)
				return true, nil
			}
		}
	}
}

// handleBlock processes one finalized block: re-validate the runtime
// version hasn't changed, fetch transfer events, record every transfer
// touching a watched invoice's address, check whether that invoice is
// now fully funded, and reap any invoice past its death deadline.
func (w *Watcher) handleBlock(ctx context.Context, conn *connected, number uint64, watched map[string]Invoice) (cont bool, err error) {
	block, err := conn.client.BlockHash(ctx, &number)
	if err != nil {
		return false, err
	}

	version, err := conn.client.RuntimeVersionAt(ctx, block)
	if err != nil {
		return false, err
	}
	if version != conn.version {
		w.log.Info("runtime version changed, restarting connection", "chain", w.descriptor.Name)
		return false, nil
	}

	events, err := w.eventsAt(ctx, conn, block)
	if err != nil {
		return false, err
	}

	var paid []string
	for id, inv := range watched {
		transfers := matchingTransfers(events, inv.Address)
		if len(transfers) == 0 {
			continue
		}
		props, ok := conn.assets[inv.Currency]
		if !ok {
			continue
		}
		for _, ev := range transfers {
			kind := KindPayment
			if rpc.AccountID(inv.Address) != ev.To {
				kind = KindWithdrawal
			}
			info := newTransactionInfo(number, ev.ExtrinsicIndex, events.Timestamp, ev.From, ev.To, NewBalance(ev.Amount), props.Decimals, inv.Currency, kind, state.TxFinalized)
			w.state.RecordTransaction(id, info)
		}
		ok, _, err := inv.check(ctx, conn.client, block, props)
		if err != nil {
			w.log.Warn("account fetch error", "order", id, "err", err)
			continue
		}
		if ok {
			w.state.OrderPaid(id)
			paid = append(paid, id)
		}
	}
	for _, id := range paid {
		delete(watched, id)
	}

	now := time.Now()
	var expired []string
	for id, inv := range watched {
		if inv.dead(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(watched, id)
	}

	return true, nil
}

func (w *Watcher) eventsAt(ctx context.Context, conn *connected, block rpc.Hash) (rpc.BlockEvents, error) {
	if cached, ok := w.eventCache.Get(block); ok {
		return cached, nil
	}
	events, err := conn.client.EventsAt(ctx, block)
	if err != nil {
		return rpc.BlockEvents{}, err
	}
	w.eventCache.Add(block, events)
	return events, nil
}

// matchingTransfers returns every transfer in events where address is
// either the recipient (a Payment) or the sender (a Withdrawal).
func matchingTransfers(events rpc.BlockEvents, address [32]byte) []rpc.TransferEvent {
	acct := rpc.AccountID(address)
	var out []rpc.TransferEvent
	for _, ev := range events.Transfers {
		if ev.To == acct || ev.From == acct {
			out = append(out, ev)
		}
	}
	return out
}
