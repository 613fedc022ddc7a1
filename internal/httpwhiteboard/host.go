// Package httpwhiteboard serves servlets registered in the registry. A
// servlet is any http.Handler registered under ServletClass with a pattern
// property; the host mounts every servlet selecting its context into one chi
// router and rebuilds it whenever the set changes.
package httpwhiteboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/whiteboard/internal/ldapfilter"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/tracing"
)

// Registry object class and property keys understood by the host.
const (
	ServletClass       = "httpwhiteboard.Servlet"
	PropPattern        = "osgi.http.whiteboard.servlet.pattern"
	PropContextSelect  = "osgi.http.whiteboard.context.select"
	PropContextName    = "osgi.http.whiteboard.context.name"
	DefaultContextName = "default"
)

// DefaultContextSelect selects the default servlet context.
func DefaultContextSelect() string {
	return "(" + PropContextName + "=" + DefaultContextName + ")"
}

type servlet struct {
	ref     registry.Reference
	pattern string
	handler http.Handler
}

// Host tracks servlet registrations and dispatches requests to them.
type Host struct {
	reg         registry.Registry
	tracer      trace.Tracer
	contextName string

	mu       sync.Mutex
	servlets map[registry.ServiceID]servlet
	tracker  *registry.Tracker

	router atomic.Pointer[chi.Mux]
}

// Option configures a Host.
type Option func(*Host)

// WithTracer opens a span per request.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Host) {
		h.tracer = tracer
	}
}

// WithContextName serves servlets selecting name instead of the default
// context.
func WithContextName(name string) Option {
	return func(h *Host) {
		h.contextName = name
	}
}

// NewHost creates a host over reg. Call Start to begin tracking.
func NewHost(reg registry.Registry, opts ...Option) *Host {
	h := &Host{
		reg:         reg,
		contextName: DefaultContextName,
		servlets:    make(map[registry.ServiceID]servlet),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.router.Store(h.build(nil))
	return h
}

// Start tracks servlet registrations until ctx is done or Close is called.
func (h *Host) Start(ctx context.Context) error {
	tracker, err := h.reg.Track(ctx, "(objectClass="+ServletClass+")", registry.HandlerFuncs{
		OnAdded:   h.added,
		OnRemoved: h.removed,
	})
	if err != nil {
		return fmt.Errorf("tracking servlets: %w", err)
	}
	h.mu.Lock()
	h.tracker = tracker
	h.mu.Unlock()
	return nil
}

// Close stops tracking and returns every servlet obtained from the registry.
func (h *Host) Close() {
	h.mu.Lock()
	tracker := h.tracker
	h.tracker = nil
	h.mu.Unlock()

	if tracker != nil {
		tracker.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.servlets {
		h.reg.UngetService(s.ref)
		delete(h.servlets, id)
	}
	h.router.Store(h.build(nil))
}

// ServeHTTP implements http.Handler.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.Load().ServeHTTP(w, r)
}

// Patterns returns the mounted patterns in mount order.
func (h *Host) Patterns() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for _, s := range h.ordered() {
		out = append(out, s.pattern)
	}
	return out
}

func (h *Host) selects(ref registry.Reference) bool {
	sel, _ := ref.Property(PropContextSelect).(string)
	if sel == "" {
		return h.contextName == DefaultContextName
	}
	f, err := ldapfilter.Compile(sel)
	if err != nil {
		log.Warn(log.CatHTTP, "Ignoring servlet with invalid context select", "id", ref.ID(), "select", sel, "error", err)
		return false
	}
	return f.Match(map[string]any{PropContextName: h.contextName})
}

func (h *Host) added(ref registry.Reference) {
	if !h.selects(ref) {
		return
	}
	pattern, _ := ref.Property(PropPattern).(string)
	if pattern == "" {
		log.Warn(log.CatHTTP, "Ignoring servlet without pattern", "id", ref.ID())
		return
	}

	svc, err := h.reg.GetService(ref)
	if err != nil {
		log.ErrorErr(log.CatHTTP, "Servlet unavailable", err, "id", ref.ID())
		return
	}
	handler, ok := svc.(http.Handler)
	if !ok {
		h.reg.UngetService(ref)
		log.Error(log.CatHTTP, "Servlet is not an http.Handler", "id", ref.ID(), "type", fmt.Sprintf("%T", svc))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.servlets[ref.ID()] = servlet{ref: ref, pattern: pattern, handler: handler}
	h.router.Store(h.build(h.ordered()))

	log.Info(log.CatHTTP, "Servlet mounted", "id", ref.ID(), "pattern", pattern, "ranking", ref.Ranking())
}

func (h *Host) removed(ref registry.Reference) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.servlets[ref.ID()]
	if !ok {
		return
	}
	delete(h.servlets, ref.ID())
	h.reg.UngetService(s.ref)
	h.router.Store(h.build(h.ordered()))

	log.Info(log.CatHTTP, "Servlet unmounted", "id", ref.ID(), "pattern", s.pattern)
}

// ordered must be called with h.mu held.
func (h *Host) ordered() []servlet {
	out := make([]servlet, 0, len(h.servlets))
	for _, s := range h.servlets {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b servlet) int {
		if a.ref.Ranking() != b.ref.Ranking() {
			return b.ref.Ranking() - a.ref.Ranking()
		}
		return int(a.ref.ID() - b.ref.ID())
	})
	return out
}

// build mounts servlets highest ranking first. A pattern already taken by a
// higher ranked servlet is skipped.
func (h *Host) build(servlets []servlet) *chi.Mux {
	root := chi.NewRouter()
	root.Use(tracing.HTTPMiddleware(h.tracer))

	taken := make(map[string]registry.ServiceID)
	for _, s := range servlets {
		key := strings.TrimSuffix(s.pattern, "*")
		if owner, ok := taken[key]; ok {
			log.Warn(log.CatHTTP, "Servlet pattern shadowed", "id", s.ref.ID(), "pattern", s.pattern, "owner", owner)
			continue
		}
		taken[key] = s.ref.ID()

		if prefix, ok := strings.CutSuffix(s.pattern, "/*"); ok {
			if prefix == "" {
				prefix = "/"
			}
			root.Mount(prefix, s.handler)
		} else {
			root.Handle(s.pattern, s.handler)
		}
	}
	return root
}

// ListenAndServe serves the host on addr until ctx is done, then shuts the
// server down gracefully.
func (h *Host) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return h.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (h *Host) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info(log.CatHTTP, "HTTP host listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
