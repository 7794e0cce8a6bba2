package chain

import (
	"context"
	"fmt"

	"github.com/kalatori/chaind/internal/chainerr"
	"github.com/kalatori/chaind/internal/klog"
	"github.com/kalatori/chaind/internal/signer"
	"github.com/kalatori/chaind/internal/state"
	"github.com/kalatori/chaind/internal/tasks"
)

// Manager owns every chain watcher and routes requests by currency.
// Currency names are global, so a currency->chain lookup table is
// built once at startup from the configured descriptors.
type Manager struct {
	watchers map[string]*Watcher // keyed by chain name
	byCurrency map[string]string // currency name -> chain name

	tasks *tasks.Tracker
	log   klog.Logger
}

// NewManager builds a manager over the given chain descriptors, one
// watcher per descriptor, all using dial to open connections.
func NewManager(descriptors []Descriptor, dial Dialer, st state.State, sh signer.Handle, tr *tasks.Tracker, log klog.Logger) (*Manager, error) {
	m := &Manager{
		watchers:   make(map[string]*Watcher, len(descriptors)),
		byCurrency: make(map[string]string),
		tasks:      tr,
		log:        log,
	}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if d.NativeToken != nil {
			if existing, dup := m.byCurrency[d.NativeToken.Name]; dup {
				return nil, fmt.Errorf("%w: %q claimed by both %q and %q", chainerr.ErrDuplicateAsset, d.NativeToken.Name, existing, d.Name)
			}
			m.byCurrency[d.NativeToken.Name] = d.Name
		}
		for _, a := range d.Assets {
			if existing, dup := m.byCurrency[a.Name]; dup {
				return nil, fmt.Errorf("%w: %q claimed by both %q and %q", chainerr.ErrDuplicateAsset, a.Name, existing, d.Name)
			}
			m.byCurrency[a.Name] = d.Name
		}
		m.watchers[d.Name] = New(d, dial, st, tr, sh, log)
	}
	return m, nil
}

// Start spawns every chain watcher's reconnection loop under the shared
// task tracker.
func (m *Manager) Start() {
	for name, w := range m.watchers {
		watcher := w
		m.tasks.Spawn(fmt.Sprintf("chain %s watcher", name), watcher.Run)
	}
}

// WatchAccount routes a watch request to the chain that offers the
// invoice's currency, failing with ErrUnknownChain if none does.
func (m *Manager) WatchAccount(ctx context.Context, req WatchAccount) error {
	chainName, ok := m.byCurrency[req.Currency]
	if !ok {
		return fmt.Errorf("%w: currency %q", chainerr.ErrUnknownChain, req.Currency)
	}
	w, ok := m.watchers[chainName]
	if !ok {
		return fmt.Errorf("%w: chain %q", chainerr.ErrServiceUnavailable, chainName)
	}
	if req.Reply == nil {
		req.Reply = make(chan error, 1)
	}
	select {
	case w.Inbox() <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reap routes a withdrawal request to the chain that owns currency.
func (m *Manager) Reap(ctx context.Context, currency, orderID string) error {
	chainName, ok := m.byCurrency[currency]
	if !ok {
		return fmt.Errorf("%w: currency %q", chainerr.ErrUnknownChain, currency)
	}
	w, ok := m.watchers[chainName]
	if !ok {
		return fmt.Errorf("%w: chain %q", chainerr.ErrServiceUnavailable, chainName)
	}
	select {
	case w.Inbox() <- reap{id: orderID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown requests every watcher stop, waiting for all of them to
// acknowledge in parallel — a fan-out join, not a sequential one, so one
// slow chain doesn't delay the others.
func (m *Manager) Shutdown(ctx context.Context) error {
	acks := make([]chan struct{}, 0, len(m.watchers))
	for _, w := range m.watchers {
		done := make(chan struct{})
		acks = append(acks, done)
		select {
		case w.Inbox() <- watcherShutdown{done: done}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, done := range acks {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
