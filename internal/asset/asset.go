// Package asset holds the configured ledgers and their cached chain
// counters.
package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ecchat/internal/ledger"
)

// Primary is the index of the asset that carries the relay.
const Primary = 0

type Asset struct {
	Symbol  string
	Service ledger.Service

	Blocks int64
	Peers  int64

	// Notify is set when the daemon pushes new-block notifications for
	// this asset; otherwise counters are polled on the maintenance tick.
	Notify bool
	// RelayReady is set on the primary asset when packet notifications
	// are available.
	RelayReady bool
	Endpoints  []ledger.NotificationEndpoint
}

// Registry is the ordered set of assets for one run. It is owned by the
// dispatcher and is not safe for concurrent mutation.
type Registry struct {
	assets []*Asset
	index  map[string]int
}

func NewRegistry(assets ...*Asset) (*Registry, error) {
	if len(assets) == 0 {
		return nil, errors.New("no assets configured")
	}
	r := &Registry{index: make(map[string]int, len(assets))}
	for i, a := range assets {
		if a == nil || strings.TrimSpace(a.Symbol) == "" {
			return nil, fmt.Errorf("asset %d: missing symbol", i)
		}
		if a.Service == nil {
			return nil, fmt.Errorf("asset %s: missing ledger service", a.Symbol)
		}
		if _, dup := r.index[a.Symbol]; dup {
			return nil, fmt.Errorf("asset %s: duplicate symbol", a.Symbol)
		}
		r.index[a.Symbol] = i
		r.assets = append(r.assets, a)
	}
	return r, nil
}

func (r *Registry) Len() int { return len(r.assets) }

func (r *Registry) Get(i int) *Asset {
	if i < 0 || i >= len(r.assets) {
		return nil
	}
	return r.assets[i]
}

func (r *Registry) Primary() *Asset { return r.assets[Primary] }

// Lookup resolves a symbol to its index. Symbols are case-sensitive.
func (r *Registry) Lookup(symbol string) (int, bool) {
	i, ok := r.index[symbol]
	return i, ok
}

func (r *Registry) Symbol(i int) string {
	if a := r.Get(i); a != nil {
		return a.Symbol
	}
	return ""
}

func (r *Registry) Symbols() []string {
	out := make([]string, len(r.assets))
	for i, a := range r.assets {
		out[i] = a.Symbol
	}
	return out
}

// Refresh re-reads block height and peer count for asset i. The cache keeps
// its previous values for whichever call fails.
func (r *Registry) Refresh(ctx context.Context, i int) error {
	a := r.Get(i)
	if a == nil {
		return fmt.Errorf("asset index %d out of range", i)
	}
	var errs []error
	if blocks, err := a.Service.GetBlockCount(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s getblockcount: %w", a.Symbol, err))
	} else {
		a.Blocks = blocks
	}
	if peers, err := a.Service.GetConnectionCount(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s getconnectioncount: %w", a.Symbol, err))
	} else {
		a.Peers = peers
	}
	return errors.Join(errs...)
}

// ApplyEndpoints records the daemon's advertised publishers for asset i and
// derives the notification flags from them.
func (r *Registry) ApplyEndpoints(i int, eps []ledger.NotificationEndpoint) {
	a := r.Get(i)
	if a == nil {
		return
	}
	a.Endpoints = eps
	a.Notify = false
	a.RelayReady = false
	for _, ep := range eps {
		switch ep.Type {
		case ledger.EndpointHashBlock:
			a.Notify = true
		case ledger.EndpointPacket:
			if i == Primary {
				a.RelayReady = true
			}
		}
	}
}

// Status renders "sym blocks/peers" for every asset, space separated.
func (r *Registry) Status() string {
	parts := make([]string, len(r.assets))
	for i, a := range r.assets {
		parts[i] = fmt.Sprintf("%s %d/%d", a.Symbol, a.Blocks, a.Peers)
	}
	return strings.Join(parts, "  ")
}

func (r *Registry) service(i int) (ledger.Service, error) {
	a := r.Get(i)
	if a == nil {
		return nil, fmt.Errorf("asset index %d out of range", i)
	}
	return a.Service, nil
}

func (r *Registry) Balance(ctx context.Context, i int) (float64, error) {
	svc, err := r.service(i)
	if err != nil {
		return 0, err
	}
	return svc.GetBalance(ctx)
}

func (r *Registry) UnconfirmedBalance(ctx context.Context, i int) (float64, error) {
	svc, err := r.service(i)
	if err != nil {
		return 0, err
	}
	return svc.GetUnconfirmedBalance(ctx)
}

func (r *Registry) NewAddress(ctx context.Context, i int) (string, error) {
	svc, err := r.service(i)
	if err != nil {
		return "", err
	}
	return svc.GetNewAddress(ctx)
}

func (r *Registry) Transfer(ctx context.Context, i int, addr string, amount float64, memo string) (string, error) {
	svc, err := r.service(i)
	if err != nil {
		return "", err
	}
	return svc.SendToAddress(ctx, addr, amount, memo)
}
