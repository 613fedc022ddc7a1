package whiteboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/registry"
)

// activation brings a provider up. ctx is cancelled when the provider is
// retracted. A nil Release with a nil error means nothing to undo.
type activation func(ctx context.Context) (Release, error)

// gate runs an activation while every selector query has at least one match
// and releases it as soon as one query has none.
type gate struct {
	desc      Descriptor
	selectors []string
	queries   []string
	activate  activation

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	matches  []map[registry.ServiceID]struct{}
	trackers []*registry.Tracker
	active   bool
	closed   bool
	release  Release
	actStop  context.CancelFunc
}

// openGate starts gating act on the selector queries of desc. With no
// selectors act runs immediately. The returned Release closes the gate and
// releases the activation if it is up. An error means a selector could not
// be tracked; nothing is left open in that case.
func openGate(ctx context.Context, reg registry.Registry, desc Descriptor, selectors []string, act activation) (Release, error) {
	g := newGate(ctx, desc, selectors, act)
	if err := g.open(reg); err != nil {
		return nil, err
	}
	return once(g.close), nil
}

func newGate(ctx context.Context, desc Descriptor, selectors []string, act activation) *gate {
	gctx, cancel := context.WithCancel(ctx)
	g := &gate{
		desc:      desc,
		selectors: selectors,
		activate:  act,
		ctx:       gctx,
		cancel:    cancel,
		matches:   make([]map[registry.ServiceID]struct{}, len(selectors)),
	}
	for i, sel := range selectors {
		g.queries = append(g.queries, extensionQuery(sel))
		g.matches[i] = make(map[registry.ServiceID]struct{})
	}
	return g
}

// open tracks the selector queries, or activates right away when there are
// none.
func (g *gate) open(reg registry.Registry) error {
	if len(g.queries) == 0 {
		g.mu.Lock()
		g.evaluateLocked()
		g.mu.Unlock()
		return nil
	}

	for i, query := range g.queries {
		t, err := reg.Track(g.ctx, query, registry.HandlerFuncs{
			OnAdded:   func(ref registry.Reference) { g.update(i, ref, true) },
			OnRemoved: func(ref registry.Reference) { g.update(i, ref, false) },
		})
		if err != nil {
			_ = g.close()
			return &ConfigError{
				ProviderID: g.desc.ID,
				Key:        ExtensionSelect,
				Err:        fmt.Errorf("%w %q: %w", ErrInvalidSelector, g.selectors[i], err),
			}
		}
		g.mu.Lock()
		g.trackers = append(g.trackers, t)
		g.mu.Unlock()
	}

	log.Debug(log.CatGate, "Gate opened", "provider", g.desc.ID, "kind", g.desc.Kind, "selectors", len(g.queries))
	return nil
}

// retry activates a satisfied gate whose last activation failed.
func (g *gate) retry() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.active || !g.opened() {
		return
	}
	if g.satisfied() {
		log.Debug(log.CatGate, "Retrying activation", "provider", g.desc.ID, "kind", g.desc.Kind)
		g.activateLocked()
	}
}

// opened reports whether every selector is tracked. Callers hold g.mu.
func (g *gate) opened() bool {
	return len(g.trackers) == len(g.queries)
}

func (g *gate) update(query int, ref registry.Reference, present bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	if present {
		g.matches[query][ref.ID()] = struct{}{}
	} else {
		delete(g.matches[query], ref.ID())
	}
	g.evaluateLocked()
}

func (g *gate) satisfied() bool {
	for _, m := range g.matches {
		if len(m) == 0 {
			return false
		}
	}
	return true
}

// evaluateLocked moves the gate to the state its match sets call for. An
// inactive gate with satisfied queries retries activation on every call.
func (g *gate) evaluateLocked() {
	ready := g.satisfied()
	switch {
	case ready && !g.active:
		g.activateLocked()
	case !ready && g.active:
		if err := g.deactivateLocked(); err != nil {
			log.ErrorErr(log.CatGate, "Release failed", err, "provider", g.desc.ID)
		}
	}
}

func (g *gate) activateLocked() {
	actx, stop := context.WithCancel(g.ctx)
	rel, err := g.activate(actx)
	if err != nil {
		stop()
		log.ErrorErr(log.CatGate, "Activation failed", err, "provider", g.desc.ID, "kind", g.desc.Kind)
		return
	}
	g.active = true
	g.release = rel
	g.actStop = stop
	log.Debug(log.CatGate, "Activated", "provider", g.desc.ID, "kind", g.desc.Kind)
}

func (g *gate) deactivateLocked() error {
	rel, stop := g.release, g.actStop
	g.active = false
	g.release = nil
	g.actStop = nil

	if stop != nil {
		stop()
	}
	log.Debug(log.CatGate, "Deactivated", "provider", g.desc.ID, "kind", g.desc.Kind)
	if rel == nil {
		return nil
	}
	return rel()
}

// close stops tracking before releasing so no callback can reactivate the
// gate afterwards.
func (g *gate) close() error {
	g.cancel()

	g.mu.Lock()
	trackers := g.trackers
	g.trackers = nil
	g.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if !g.active {
		return nil
	}
	if err := g.deactivateLocked(); err != nil {
		return fmt.Errorf("provider %d: %w", g.desc.ID, err)
	}
	return nil
}
