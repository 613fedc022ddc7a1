package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/whiteboard/internal/bus"
	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/tracing"
)

// validateFilter rejects filter providers without a usable base.
func validateFilter(desc Descriptor) error {
	base, ok := baseOf(desc.Properties, FilterBase)
	if !ok || base == "" {
		return &ConfigError{ProviderID: desc.ID, Key: FilterBase, Err: ErrMissingFilterBase}
	}
	return nil
}

// activateFilter binds the filter to every published endpoint whose address
// starts with the filter base, for as long as the activation lives.
func (r *run) activateFilter(ctx context.Context, desc Descriptor) (Release, error) {
	reg := r.engine.reg
	ref := desc.Reference()
	base, _ := baseOf(desc.Properties, FilterBase)
	base = bus.NormalizeAddress(base)

	svc, err := reg.GetService(ref)
	if err != nil {
		return nil, fmt.Errorf("getting filter service: %w", err)
	}
	f, ok := svc.(bus.Filter)
	if !ok {
		reg.UngetService(ref)
		return nil, fmt.Errorf("%w: filter %d is %T", ErrServiceType, desc.ID, svc)
	}

	b := &filterBinder{
		run:     r,
		ctx:     ctx,
		desc:    desc,
		base:    base,
		filter:  f,
		key:     fmt.Sprintf("filter-%d", desc.ID),
		bound:   make(map[registry.ServiceID]*attachment),
		pending: make(map[registry.ServiceID]registry.Reference),
	}
	tracker, err := reg.Track(ctx, endpointQuery, b)
	if err != nil {
		reg.UngetService(ref)
		return nil, fmt.Errorf("tracking endpoints: %w", err)
	}

	log.Debug(log.CatFilter, "Filter active", "provider", desc.ID, "base", base)
	return once(func() error {
		tracker.Close()
		err := b.detachAll()
		reg.UngetService(ref)
		return err
	}), nil
}

type attachment struct {
	ref     registry.Reference
	ep      *bus.Endpoint
	binding Binding
}

// filterBinder follows endpoint projections for one active filter. Added and
// Removed run on the tracker goroutine; detachAll runs after it has stopped.
type filterBinder struct {
	run    *run
	ctx    context.Context
	desc   Descriptor
	base   string
	filter bus.Filter
	key    string

	mu      sync.Mutex
	bound   map[registry.ServiceID]*attachment
	pending map[registry.ServiceID]registry.Reference
}

// Added implements registry.Handler.
func (b *filterBinder) Added(ref registry.Reference) {
	b.retryPending()
	b.tryAttach(ref)
}

// Removed implements registry.Handler.
func (b *filterBinder) Removed(ref registry.Reference) {
	b.mu.Lock()
	delete(b.pending, ref.ID())
	a, ok := b.bound[ref.ID()]
	delete(b.bound, ref.ID())
	b.mu.Unlock()

	if ok {
		b.detach(a)
	}
	b.retryPending()
}

func (b *filterBinder) matches(ref registry.Reference) (string, bool) {
	address, _ := ref.Property(EndpointAddress).(string)
	return address, address != "" && hasBase(address, b.base)
}

// hasBase reports whether a normalized endpoint address starts with a
// normalized filter base. The root base matches every address.
func hasBase(address, base string) bool {
	return base == DefaultAddress || strings.HasPrefix(address, base)
}

func (b *filterBinder) tryAttach(ref registry.Reference) {
	address, ok := b.matches(ref)
	if !ok {
		return
	}

	b.mu.Lock()
	_, bound := b.bound[ref.ID()]
	b.mu.Unlock()
	if bound {
		return
	}

	a, err := b.attach(ref, address)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.pending[ref.ID()] = ref
		log.ErrorErr(log.CatFilter, "Filter attach failed", err, "provider", b.desc.ID, "address", address)
		b.run.engine.status.fail(b.desc, StageAttach, err)
		b.run.record(b.ctx, journal.KindActivationFailed, b.desc.ID, address, err.Error())
		return
	}
	delete(b.pending, ref.ID())
	b.bound[ref.ID()] = a
	b.run.binders.add(ref.ID(), b)
	if len(b.pending) == 0 {
		b.run.engine.status.clearFailure(b.desc.ID)
	}
}

func (b *filterBinder) retryPending() {
	b.mu.Lock()
	refs := make([]registry.Reference, 0, len(b.pending))
	for _, ref := range b.pending {
		refs = append(refs, ref)
	}
	b.mu.Unlock()

	for _, ref := range refs {
		b.tryAttach(ref)
	}
}

func (b *filterBinder) attach(ref registry.Reference, address string) (a *attachment, err error) {
	ctx, span := tracing.Start(b.ctx, b.run.engine.tracer, tracing.SpanFilterAttach,
		attribute.Int64(tracing.AttrProviderID, int64(b.desc.ID)),
		attribute.String(tracing.AttrFilterBase, b.base),
		attribute.String(tracing.AttrEndpointAddress, address),
	)
	defer func() { tracing.End(span, err) }()

	reg := b.run.engine.reg
	svc, err := reg.GetService(ref)
	if err != nil {
		return nil, fmt.Errorf("getting endpoint %s: %w", address, err)
	}
	ep, ok := svc.(*bus.Endpoint)
	if !ok {
		reg.UngetService(ref)
		return nil, fmt.Errorf("%w: endpoint %s is %T", ErrServiceType, address, svc)
	}

	err = origin.WithOrigin(ctx, b.desc.Origin, func(ctx context.Context) error {
		return ep.AddFilter(ctx, b.key, b.filter)
	})
	if err != nil {
		reg.UngetService(ref)
		return nil, fmt.Errorf("attaching to %s: %w", address, err)
	}

	binding := Binding{FilterID: b.desc.ID, EndpointID: endpointProvider(ref), Address: address}
	b.run.engine.status.addBinding(binding)
	b.run.record(ctx, journal.KindBindingAttached, b.desc.ID, address, fmt.Sprintf("endpoint %d", binding.EndpointID))
	log.Info(log.CatFilter, "Filter attached", "provider", b.desc.ID, "address", address)

	return &attachment{ref: ref, ep: ep, binding: binding}, nil
}

// detach removes the filter from the endpoint. The endpoint may already be
// closed, in which case the filter is gone already.
func (b *filterBinder) detach(a *attachment) {
	b.run.binders.remove(a.ref.ID(), b)
	a.ep.RemoveFilter(b.key)
	b.run.engine.reg.UngetService(a.ref)
	b.run.engine.status.removeBinding(a.binding)
	b.run.record(b.ctx, journal.KindBindingDetached, b.desc.ID, a.binding.Address, fmt.Sprintf("endpoint %d", a.binding.EndpointID))
	log.Info(log.CatFilter, "Filter detached", "provider", b.desc.ID, "address", a.binding.Address)
}

// endpointRetracting detaches from the endpoint projected as id before that
// endpoint is closed.
func (b *filterBinder) endpointRetracting(id registry.ServiceID) {
	b.mu.Lock()
	delete(b.pending, id)
	a, ok := b.bound[id]
	delete(b.bound, id)
	b.mu.Unlock()

	if ok {
		b.detach(a)
	}
}

func (b *filterBinder) detachAll() error {
	b.mu.Lock()
	attached := make([]*attachment, 0, len(b.bound))
	for id, a := range b.bound {
		attached = append(attached, a)
		delete(b.bound, id)
	}
	clear(b.pending)
	b.mu.Unlock()

	var errs []error
	for _, a := range attached {
		func() {
			defer func() {
				if v := recover(); v != nil {
					errs = append(errs, fmt.Errorf("detaching from %s: %v", a.binding.Address, v))
				}
			}()
			b.detach(a)
		}()
	}
	return errors.Join(errs...)
}

// endpointProvider returns the provider id recorded on an endpoint projection.
func endpointProvider(ref registry.Reference) registry.ServiceID {
	switch v := ref.Property(EndpointProvider).(type) {
	case int64:
		return registry.ServiceID(v)
	case registry.ServiceID:
		return v
	default:
		return 0
	}
}

// bindingIndex maps endpoint projections to the binders attached to them, so
// an endpoint can drop its bindings before it goes away.
type bindingIndex struct {
	mu         sync.Mutex
	byEndpoint map[registry.ServiceID]map[*filterBinder]struct{}
}

func (x *bindingIndex) add(endpoint registry.ServiceID, b *filterBinder) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.byEndpoint == nil {
		x.byEndpoint = make(map[registry.ServiceID]map[*filterBinder]struct{})
	}
	set, ok := x.byEndpoint[endpoint]
	if !ok {
		set = make(map[*filterBinder]struct{})
		x.byEndpoint[endpoint] = set
	}
	set[b] = struct{}{}
}

func (x *bindingIndex) remove(endpoint registry.ServiceID, b *filterBinder) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set := x.byEndpoint[endpoint]
	delete(set, b)
	if len(set) == 0 {
		delete(x.byEndpoint, endpoint)
	}
}

// take removes and returns the binders attached to endpoint.
func (x *bindingIndex) take(endpoint registry.ServiceID) []*filterBinder {
	x.mu.Lock()
	defer x.mu.Unlock()
	set := x.byEndpoint[endpoint]
	delete(x.byEndpoint, endpoint)
	out := make([]*filterBinder, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

// retractBindings detaches every filter bound to the endpoint projected as
// id. Binder locks are taken after the index lock is released.
func (r *run) retractBindings(id registry.ServiceID) {
	for _, b := range r.binders.take(id) {
		b.endpointRetracting(id)
	}
}
