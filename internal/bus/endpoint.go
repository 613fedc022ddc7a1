package bus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/zjrosen/whiteboard/internal/log"
)

// AddressProperty is the endpoint property holding its bus address.
const AddressProperty = "endpoint-address"

var (
	// ErrEndpointClosed is returned by operations on a closed endpoint.
	ErrEndpointClosed = errors.New("endpoint closed")
	// ErrDuplicateFilter is returned when a filter key is attached twice.
	ErrDuplicateFilter = errors.New("filter already attached")
)

type attachedFilter struct {
	key string
	mw  Middleware
}

// Endpoint is an application bound into the bus at one address.
type Endpoint struct {
	bus     *Bus
	address string
	app     Application
	props   map[string]any
	routes  http.Handler

	mu      sync.Mutex
	filters []attachedFilter
	closed  bool

	handler atomic.Pointer[http.Handler]
}

// NewEndpoint binds the singletons of app into b under the address found in
// props[AddressProperty]. Routes are collected with ctx, which should carry
// the origin of the provider. Nothing is left bound when an error is returned.
func NewEndpoint(ctx context.Context, b *Bus, app Application, props map[string]any) (*Endpoint, error) {
	addr, _ := props[AddressProperty].(string)
	ep := &Endpoint{
		bus:     b,
		address: NormalizeAddress(addr),
		app:     app,
		props:   maps.Clone(props),
	}

	router := chi.NewRouter()
	router.NotFound(b.delegate.NotFound)
	for i, res := range app.Singletons() {
		if res == nil {
			return nil, fmt.Errorf("application %s: singleton %d is nil", app.Name(), i)
		}
		if err := res.Routes(ctx, router); err != nil {
			return nil, fmt.Errorf("application %s: binding singleton %d: %w", app.Name(), i, err)
		}
	}
	ep.routes = router
	ep.rebuild()

	if err := b.bind(ep); err != nil {
		return nil, err
	}

	log.Debug(log.CatEndpoint, "Endpoint bound", "address", ep.address, "application", app.Name())
	return ep, nil
}

// Address returns the normalized bus address.
func (ep *Endpoint) Address() string {
	return ep.address
}

// Application returns the bound application.
func (ep *Endpoint) Application() Application {
	return ep.app
}

// Properties returns a copy of the endpoint properties.
func (ep *Endpoint) Properties() map[string]any {
	return maps.Clone(ep.props)
}

// AddFilter attaches f under key. Middleware is obtained with ctx, which
// should carry the origin of the filter provider. Filters run in attach order,
// the first attached outermost.
func (ep *Endpoint) AddFilter(ctx context.Context, key string, f Filter) error {
	ep.mu.Lock()
	closed := ep.closed
	dup := slices.ContainsFunc(ep.filters, func(a attachedFilter) bool { return a.key == key })
	ep.mu.Unlock()

	if closed {
		return ErrEndpointClosed
	}
	if dup {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateFilter, key, ep.address)
	}

	mw, err := f.Middleware(ctx)
	if err != nil {
		return fmt.Errorf("filter %s: %w", key, err)
	}
	if mw == nil {
		return fmt.Errorf("filter %s: nil middleware", key)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return ErrEndpointClosed
	}
	if slices.ContainsFunc(ep.filters, func(a attachedFilter) bool { return a.key == key }) {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateFilter, key, ep.address)
	}
	ep.filters = append(ep.filters, attachedFilter{key: key, mw: mw})
	ep.rebuildLocked()

	log.Debug(log.CatFilter, "Filter attached", "filter", key, "address", ep.address)
	return nil
}

// RemoveFilter detaches the filter attached under key. It reports whether
// one was attached.
func (ep *Endpoint) RemoveFilter(key string) bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	idx := slices.IndexFunc(ep.filters, func(a attachedFilter) bool { return a.key == key })
	if idx < 0 {
		return false
	}
	ep.filters = slices.Delete(ep.filters, idx, idx+1)
	ep.rebuildLocked()

	log.Debug(log.CatFilter, "Filter detached", "filter", key, "address", ep.address)
	return true
}

// Filters returns the keys of the attached filters in attach order.
func (ep *Endpoint) Filters() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	keys := make([]string, len(ep.filters))
	for i, a := range ep.filters {
		keys[i] = a.key
	}
	return keys
}

// Close detaches every filter and unbinds the endpoint. Safe to call more
// than once and after the bus is closed.
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	ep.filters = nil
	ep.rebuildLocked()
	ep.mu.Unlock()

	ep.bus.unbind(ep)
	log.Debug(log.CatEndpoint, "Endpoint unbound", "address", ep.address)
	return nil
}

// Closed reports whether the endpoint was closed, directly or with its bus.
func (ep *Endpoint) Closed() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.closed
}

func (ep *Endpoint) markClosed() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.closed = true
	ep.filters = nil
	ep.rebuildLocked()
}

// ServeHTTP implements http.Handler.
func (ep *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*ep.handler.Load()).ServeHTTP(w, r)
}

func (ep *Endpoint) rebuild() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.rebuildLocked()
}

func (ep *Endpoint) rebuildLocked() {
	var h http.Handler = ep.routes
	for i := len(ep.filters) - 1; i >= 0; i-- {
		h = ep.filters[i].mw(h)
	}
	h = ep.recoverer(h)
	ep.handler.Store(&h)
}

func (ep *Endpoint) recoverer(next http.Handler) http.Handler {
	delegate := ep.bus.delegate
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				delegate.Recovered(w, r, v)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
