package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/tracing"
)

// pipeline follows the providers of one kind and keeps one gated activation
// per live provider id.
type pipeline struct {
	run      *run
	kind     Kind
	validate func(desc Descriptor) error
	activate func(ctx context.Context, desc Descriptor) (Release, error)

	mu      sync.Mutex
	live    map[registry.ServiceID]*gate
	tracker *registry.Tracker
}

func newPipeline(r *run, kind Kind, activate func(context.Context, Descriptor) (Release, error), validate func(Descriptor) error) *pipeline {
	return &pipeline{
		run:      r,
		kind:     kind,
		validate: validate,
		activate: activate,
		live:     make(map[registry.ServiceID]*gate),
	}
}

func (p *pipeline) start() error {
	t, err := p.run.engine.reg.Track(p.run.ctx, providerQuery(p.kind.baseKey()), registry.HandlerFuncs{
		OnAdded:   p.added,
		OnRemoved: p.removed,
	})
	if err != nil {
		return fmt.Errorf("tracking %s providers: %w", p.kind, err)
	}
	p.mu.Lock()
	p.tracker = t
	p.mu.Unlock()
	return nil
}

func (p *pipeline) added(ref registry.Reference) {
	desc := newDescriptor(p.kind, ref)

	p.mu.Lock()
	if _, dup := p.live[desc.ID]; dup {
		p.mu.Unlock()
		log.Warn(log.CatEngine, "Ignoring duplicate provider", "provider", desc.ID, "kind", p.kind)
		return
	}
	p.live[desc.ID] = nil
	p.mu.Unlock()

	if p.validate != nil {
		if err := p.validate(desc); err != nil {
			p.run.configFailed(desc, err)
			return
		}
	}

	g := newGate(p.run.ctx, desc, desc.Selectors(), func(ctx context.Context) (Release, error) {
		return p.run.activated(ctx, desc, p.activate)
	})
	p.mu.Lock()
	if _, ok := p.live[desc.ID]; !ok {
		p.mu.Unlock()
		return
	}
	p.live[desc.ID] = g
	p.mu.Unlock()

	if err := g.open(p.run.engine.reg); err != nil {
		p.mu.Lock()
		if p.live[desc.ID] == g {
			p.live[desc.ID] = nil
		}
		p.mu.Unlock()
		p.run.configFailed(desc, err)
	}
}

func (p *pipeline) removed(ref registry.Reference) {
	p.mu.Lock()
	g, ok := p.live[ref.ID()]
	delete(p.live, ref.ID())
	p.mu.Unlock()

	if !ok {
		return
	}
	if g != nil {
		if err := g.close(); err != nil {
			log.ErrorErr(log.CatEngine, "Retraction incomplete", err, "provider", ref.ID(), "kind", p.kind)
		}
	}
	p.run.engine.status.clearFailure(ref.ID())
}

// retryFailed re-runs the activation of every satisfied gate that is down
// because its last activation failed.
func (p *pipeline) retryFailed() {
	p.mu.Lock()
	gates := make([]*gate, 0, len(p.live))
	for _, g := range p.live {
		if g != nil {
			gates = append(gates, g)
		}
	}
	p.mu.Unlock()

	for _, g := range gates {
		g.retry()
	}
}

// size returns the number of live provider ids.
func (p *pipeline) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// close stops tracking and releases every activation, newest first. All
// activations are released even when some fail.
func (p *pipeline) close() error {
	p.mu.Lock()
	t := p.tracker
	p.tracker = nil
	p.mu.Unlock()

	if t != nil {
		t.Close()
	}

	p.mu.Lock()
	ids := make([]registry.ServiceID, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	slices.Reverse(ids)
	gates := make([]*gate, 0, len(ids))
	for _, id := range ids {
		gates = append(gates, p.live[id])
		delete(p.live, id)
	}
	p.mu.Unlock()

	var errs []error
	for i, g := range gates {
		if g != nil {
			if err := g.close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.run.engine.status.clearFailure(ids[i])
	}
	return errors.Join(errs...)
}

// activated wraps an activation with its span, status and journal entries.
func (r *run) activated(ctx context.Context, desc Descriptor, act func(context.Context, Descriptor) (Release, error)) (Release, error) {
	ctx, span := tracing.Start(ctx, r.engine.tracer, tracing.SpanGateActivate,
		attribute.Int64(tracing.AttrProviderID, int64(desc.ID)),
		attribute.String(tracing.AttrProviderKind, string(desc.Kind)),
		attribute.Int(tracing.AttrSelectorCount, len(desc.Selectors())),
	)
	rel, err := act(ctx, desc)
	tracing.End(span, err)

	if err != nil {
		r.engine.status.fail(desc, StageActivate, err)
		r.record(ctx, journal.KindActivationFailed, desc.ID, "", err.Error())
		return nil, err
	}
	r.engine.status.clearFailure(desc.ID)
	return rel, nil
}

func (r *run) configFailed(desc Descriptor, err error) {
	log.ErrorErr(log.CatConfig, "Provider misconfigured", err, "provider", desc.ID, "kind", desc.Kind)
	r.engine.status.fail(desc, StageConfig, err)
	r.record(r.ctx, journal.KindConfigError, desc.ID, "", err.Error())
}
