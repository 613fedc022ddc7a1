// Package registry provides an in-memory service registry with filter-based
// tracking. Every change is published in order on a lossless broker so that
// trackers observe the exact sequence of registrations, modifications and
// unregistrations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zjrosen/whiteboard/internal/cachemanager"
	"github.com/zjrosen/whiteboard/internal/ldapfilter"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/pubsub"
)

var (
	// ErrClosed is returned by every operation on a closed registry.
	ErrClosed = errors.New("registry closed")
	// ErrNotFound is returned when a reference no longer has a registration.
	ErrNotFound = errors.New("service not registered")
	// ErrNoClasses is returned when Register is called without object classes.
	ErrNoClasses = errors.New("at least one object class is required")
	// ErrNilService is returned when Register is called with a nil service.
	ErrNilService = errors.New("service cannot be nil")
)

// Registry is the surface of the registry the whiteboard engine depends on.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Register publishes service under the given object classes.
	Register(o origin.Origin, service any, props Properties, classes ...string) (*Registration, error)

	// Lookup returns the references matching filter, highest ranking first.
	// An empty filter matches every registration.
	Lookup(filter string) ([]Reference, error)

	// Track calls h for every current match of filter and then for every
	// later change, in registry order, on a dedicated goroutine.
	Track(ctx context.Context, filter string, h Handler) (*Tracker, error)

	// GetService returns the service object of ref and counts one use.
	GetService(ref Reference) (any, error)

	// UngetService returns one use. It reports false if ref was not in use.
	UngetService(ref Reference) bool
}

type entry struct {
	ref      Reference
	service  any
	uses     int
	instance any
}

// InMemoryRegistry is the in-process Registry implementation.
type InMemoryRegistry struct {
	mu      sync.Mutex
	nextID  ServiceID
	entries map[ServiceID]*entry
	events  *pubsub.Broker[ServiceEvent]
	filters *cachemanager.ReadThroughCache[string, ldapfilter.Filter]
	closed  bool
}

// Option configures an InMemoryRegistry.
type Option func(*options)

type options struct {
	filterTTL time.Duration
}

// WithFilterTTL sets how long compiled filters stay cached.
func WithFilterTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.filterTTL = ttl
	}
}

// New creates an empty registry.
func New(opts ...Option) *InMemoryRegistry {
	o := options{filterTTL: cachemanager.DefaultExpiration}
	for _, opt := range opts {
		opt(&o)
	}

	cache := cachemanager.NewInMemoryCacheManager[string, ldapfilter.Filter](
		"registry-filters", o.filterTTL, cachemanager.DefaultCleanupInterval)

	return &InMemoryRegistry{
		entries: make(map[ServiceID]*entry),
		events:  pubsub.NewBroker[ServiceEvent](),
		filters: cachemanager.NewReadThroughCache(
			cachemanager.CacheManager[string, ldapfilter.Filter](cache),
			func(_ context.Context, src string) (ldapfilter.Filter, error) {
				return ldapfilter.Compile(src)
			},
			o.filterTTL,
		),
	}
}

// compile returns nil for the empty filter, which matches everything.
func (r *InMemoryRegistry) compile(src string) (ldapfilter.Filter, error) {
	if src == "" {
		return nil, nil
	}
	f, err := r.filters.Get(context.Background(), src)
	if err != nil {
		return nil, fmt.Errorf("compiling filter: %w", err)
	}
	return f, nil
}

func matches(f ldapfilter.Filter, ref Reference) bool {
	return f == nil || f.Match(ref.props)
}

// Register implements Registry.
func (r *InMemoryRegistry) Register(o origin.Origin, service any, props Properties, classes ...string) (*Registration, error) {
	if service == nil {
		return nil, ErrNilService
	}
	if len(classes) == 0 {
		return nil, ErrNoClasses
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	r.nextID++
	id := r.nextID
	ref := Reference{
		id:     id,
		origin: o,
		props:  withStandardProps(props, id, classes),
	}
	r.entries[id] = &entry{ref: ref, service: service}
	r.events.Publish(pubsub.RegisteredEvent, ServiceEvent{Type: pubsub.RegisteredEvent, Ref: ref})

	log.Debug(log.CatRegistry, "Registered service", "id", id, "classes", classes, "origin", o)

	return &Registration{registry: r, id: id}, nil
}

func withStandardProps(props Properties, id ServiceID, classes []string) Properties {
	out := props.Clone()
	out[PropServiceID] = int64(id)
	out[PropObjectClass] = slices.Clone(classes)
	if _, ok := out[PropServiceRanking]; !ok {
		out[PropServiceRanking] = 0
	}
	return out
}

func (r *InMemoryRegistry) setProperties(id ServiceID, props Properties) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}

	prev := e.ref
	e.ref = Reference{
		id:     id,
		origin: prev.origin,
		props:  withStandardProps(props, id, prev.Classes()),
	}
	r.events.Publish(pubsub.ModifiedEvent, ServiceEvent{Type: pubsub.ModifiedEvent, Ref: e.ref, Previous: prev})

	log.Debug(log.CatRegistry, "Modified service", "id", id)
	return nil
}

func (r *InMemoryRegistry) unregister(id ServiceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	if !r.closed {
		r.events.Publish(pubsub.UnregisteringEvent, ServiceEvent{Type: pubsub.UnregisteringEvent, Ref: e.ref})
	}
	if f, ok := e.service.(ServiceFactory); ok && e.instance != nil {
		f.ReleaseService(e.ref, e.instance)
	}

	log.Debug(log.CatRegistry, "Unregistered service", "id", id)
}

// Lookup implements Registry.
func (r *InMemoryRegistry) Lookup(filter string) ([]Reference, error) {
	f, err := r.compile(filter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	return r.snapshot(f), nil
}

// snapshot must be called with r.mu held.
func (r *InMemoryRegistry) snapshot(f ldapfilter.Filter) []Reference {
	var refs []Reference
	for _, e := range r.entries {
		if matches(f, e.ref) {
			refs = append(refs, e.ref)
		}
	}
	slices.SortFunc(refs, compareReferences)
	return refs
}

// Track implements Registry. The initial snapshot and the live subscription
// are taken atomically, so no change is missed or seen twice.
func (r *InMemoryRegistry) Track(ctx context.Context, filter string, h Handler) (*Tracker, error) {
	f, err := r.compile(filter)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	tctx, cancel := context.WithCancel(ctx)
	initial := r.snapshot(f)
	events := r.events.Subscribe(tctx)
	r.mu.Unlock()

	t := &Tracker{
		filter:  filter,
		match:   f,
		handler: h,
		cancel:  cancel,
		done:    make(chan struct{}),
		tracked: make(map[ServiceID]Reference),
	}
	go t.run(tctx, initial, events)

	log.Debug(log.CatRegistry, "Tracking", "filter", filter, "initial", len(initial))
	return t, nil
}

// GetService implements Registry.
func (r *InMemoryRegistry) GetService(ref Reference) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ref.id]
	if !ok {
		return nil, fmt.Errorf("service %d: %w", ref.id, ErrNotFound)
	}

	f, isFactory := e.service.(ServiceFactory)
	if !isFactory {
		e.uses++
		return e.service, nil
	}

	if e.instance == nil {
		instance, err := f.GetService(e.ref)
		if err != nil {
			return nil, fmt.Errorf("service %d factory: %w", ref.id, err)
		}
		if instance == nil {
			return nil, fmt.Errorf("service %d factory returned nil", ref.id)
		}
		e.instance = instance
	}
	e.uses++
	return e.instance, nil
}

// UngetService implements Registry.
func (r *InMemoryRegistry) UngetService(ref Reference) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[ref.id]
	if !ok || e.uses == 0 {
		return false
	}
	e.uses--
	if e.uses == 0 && e.instance != nil {
		if f, ok := e.service.(ServiceFactory); ok {
			f.ReleaseService(e.ref, e.instance)
		}
		e.instance = nil
	}
	return true
}

// Uses returns the current use count of ref. Zero once unregistered.
func (r *InMemoryRegistry) Uses(ref Reference) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[ref.id]; ok {
		return e.uses
	}
	return 0
}

// Len returns the number of registrations.
func (r *InMemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close shuts the registry down. Trackers receive Removed for what they still
// track and then stop. Further operations return ErrClosed.
func (r *InMemoryRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.events.Close()
}

// Registration is the handle returned by Register.
type Registration struct {
	registry *InMemoryRegistry
	id       ServiceID
	once     sync.Once
}

// ID returns the service id.
func (reg *Registration) ID() ServiceID {
	return reg.id
}

// Reference returns the current reference. ok is false once unregistered.
func (reg *Registration) Reference() (ref Reference, ok bool) {
	r := reg.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[reg.id]
	if !ok {
		return Reference{}, false
	}
	return e.ref, true
}

// SetProperties replaces the properties of the registration. service.id and
// objectClass are preserved.
func (reg *Registration) SetProperties(props Properties) error {
	return reg.registry.setProperties(reg.id, props)
}

// Unregister removes the registration. Safe to call more than once.
func (reg *Registration) Unregister() {
	reg.once.Do(func() {
		reg.registry.unregister(reg.id)
	})
}
