// Package bus routes HTTP requests to the endpoints published by the
// whiteboard. One Bus is shared by every endpoint; each endpoint owns a chi
// router for its resources wrapped by the middleware of its filters.
package bus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/origin"
)

var (
	// ErrClosed is returned when binding to a closed bus.
	ErrClosed = errors.New("bus closed")
	// ErrAddressInUse is returned when an endpoint is already bound at an address.
	ErrAddressInUse = errors.New("endpoint address already in use")
)

// RuntimeDelegate supplies the responses the bus produces on its own.
type RuntimeDelegate interface {
	// NotFound answers requests no endpoint accepts.
	NotFound(w http.ResponseWriter, r *http.Request)
	// Recovered answers a request whose handler panicked.
	Recovered(w http.ResponseWriter, r *http.Request, v any)
}

// DelegateResolver produces the RuntimeDelegate. It runs once, under the
// host origin.
type DelegateResolver func(ctx context.Context) (RuntimeDelegate, error)

type defaultDelegate struct {
	owner origin.Origin
}

func (d defaultDelegate) NotFound(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

func (d defaultDelegate) Recovered(w http.ResponseWriter, r *http.Request, v any) {
	log.Error(log.CatHTTP, "Handler panicked", "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// DefaultDelegate answers with plain net/http errors.
func DefaultDelegate(ctx context.Context) (RuntimeDelegate, error) {
	return defaultDelegate{owner: origin.FromContext(ctx)}, nil
}

// Bus dispatches requests to bound endpoints by longest address prefix.
// Mutations are serialized; ServeHTTP reads an immutable router snapshot.
type Bus struct {
	delegate RuntimeDelegate

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	closed    bool

	router atomic.Pointer[chi.Mux]
}

// Option configures a Bus.
type Option func(*settings)

type settings struct {
	resolver DelegateResolver
}

// WithDelegateResolver replaces DefaultDelegate.
func WithDelegateResolver(resolver DelegateResolver) Option {
	return func(s *settings) {
		s.resolver = resolver
	}
}

// New creates a bus. The runtime delegate is resolved under origin.Host so it
// never observes the origin of whoever triggered the start.
func New(ctx context.Context, opts ...Option) (*Bus, error) {
	s := settings{resolver: DefaultDelegate}
	for _, opt := range opts {
		opt(&s)
	}

	var delegate RuntimeDelegate
	err := origin.WithOrigin(ctx, origin.Host, func(ctx context.Context) error {
		d, err := s.resolver(ctx)
		if err != nil {
			return err
		}
		delegate = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving runtime delegate: %w", err)
	}
	if delegate == nil {
		return nil, fmt.Errorf("resolving runtime delegate: resolver returned nil")
	}

	b := &Bus{
		delegate:  delegate,
		endpoints: make(map[string]*Endpoint),
	}
	b.router.Store(b.buildRouter())
	return b, nil
}

// ServeHTTP implements http.Handler.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.Load().ServeHTTP(w, r)
}

// Addresses returns the bound endpoint addresses, sorted.
func (b *Bus) Addresses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	addrs := make([]string, 0, len(b.endpoints))
	for addr := range b.endpoints {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// Close unbinds every endpoint. Requests afterwards get NotFound.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	remaining := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		remaining = append(remaining, ep)
	}
	b.endpoints = make(map[string]*Endpoint)
	b.router.Store(b.buildRouter())
	b.mu.Unlock()

	for _, ep := range remaining {
		ep.markClosed()
	}
	log.Debug(log.CatEndpoint, "Bus closed", "endpoints", len(remaining))
	return nil
}

func (b *Bus) bind(ep *Endpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, ok := b.endpoints[ep.address]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, ep.address)
	}
	b.endpoints[ep.address] = ep
	b.router.Store(b.buildRouter())
	return nil
}

func (b *Bus) unbind(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.endpoints[ep.address] != ep {
		return
	}
	delete(b.endpoints, ep.address)
	b.router.Store(b.buildRouter())
}

// buildRouter must be called with b.mu held or before b is shared.
func (b *Bus) buildRouter() *chi.Mux {
	root := chi.NewRouter()
	root.NotFound(b.delegate.NotFound)
	root.MethodNotAllowed(b.delegate.NotFound)
	for addr, ep := range b.endpoints {
		root.Mount(addr, ep)
	}
	return root
}

// NormalizeAddress makes addr absolute without a trailing slash. The empty
// address is "/".
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "/") {
		addr = "/" + addr
	}
	if len(addr) > 1 {
		addr = strings.TrimRight(addr, "/")
		if addr == "" {
			addr = "/"
		}
	}
	return addr
}
