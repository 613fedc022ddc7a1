// Package whiteboard publishes REST providers found in the service registry.
//
// Applications and resources become endpoints on a shared bus; filters are
// attached to every endpoint whose address starts with their base. Providers
// that declare extension selectors are held back until every selector has a
// matching extension registered. The bus is exposed to the HTTP host as a
// single servlet.
package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/whiteboard/internal/bus"
	"github.com/zjrosen/whiteboard/internal/httpwhiteboard"
	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/tracing"
)

// DefaultServletRanking keeps the bus servlet below explicitly ranked
// servlets on the same pattern.
const DefaultServletRanking = -1

// Option configures an Engine.
type Option func(*Engine)

// WithTracer sets the tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithJournal records engine activity to rec.
func WithJournal(rec journal.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.journal = rec
		}
	}
}

// WithBusOptions passes options to the bus created on every start.
func WithBusOptions(opts ...bus.Option) Option {
	return func(e *Engine) {
		e.busOpts = append(e.busOpts, opts...)
	}
}

// WithContextPath mounts the bus servlet below prefix.
func WithContextPath(prefix string) Option {
	return func(e *Engine) {
		e.contextPath = prefix
	}
}

// WithServletRanking sets the ranking of the bus servlet.
func WithServletRanking(ranking int) Option {
	return func(e *Engine) {
		e.servletRanking = ranking
	}
}

// Engine drives the three provider pipelines over one registry.
type Engine struct {
	reg            registry.Registry
	tracer         trace.Tracer
	journal        journal.Recorder
	busOpts        []bus.Option
	contextPath    string
	servletRanking int

	status *statusBook

	mu  sync.Mutex
	run *run
}

// New creates a stopped engine over reg.
func New(reg registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:            reg,
		tracer:         tracing.Noop(),
		journal:        journal.NewMemory(1000),
		servletRanking: DefaultServletRanking,
		status:         newStatusBook(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the state of one Start/Stop cycle.
type run struct {
	engine *Engine
	id     string
	bus    *bus.Bus

	ctx    context.Context
	cancel context.CancelFunc

	servlet      *registry.Registration
	applications *pipeline
	resources    *pipeline
	filters      *pipeline

	// freed is signalled whenever a closed endpoint gives up its address.
	freed     chan struct{}
	stopRetry context.CancelFunc
	retryDone chan struct{}
	binders   bindingIndex
}

// Start creates the bus, registers it as a servlet and starts tracking
// providers. Activations outlive ctx; they end with Stop.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return ErrAlreadyStarted
	}

	runID := journal.NewRunID()
	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanEngineStart, attribute.String(tracing.AttrRunID, runID))
	defer func() { tracing.End(span, err) }()

	b, err := bus.New(ctx, e.busOpts...)
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{engine: e, id: runID, bus: b, ctx: rctx, cancel: cancel}

	r.servlet, err = e.reg.Register(origin.Host, b, e.servletProperties(), httpwhiteboard.ServletClass)
	if err != nil {
		cancel()
		_ = b.Close()
		return fmt.Errorf("registering servlet: %w", err)
	}

	r.record(ctx, journal.KindEngineStarted, 0, "", "")

	r.applications = newPipeline(r, KindApplication, r.activateEndpoint, nil)
	r.filters = newPipeline(r, KindFilter, r.activateFilter, validateFilter)
	r.resources = newPipeline(r, KindResource, r.activateEndpoint, nil)

	r.startRetries()

	for _, p := range []*pipeline{r.applications, r.resources, r.filters} {
		if err := p.start(); err != nil {
			return errors.Join(err, r.close())
		}
	}

	e.run = r
	log.Info(log.CatEngine, "Engine started", "run", runID, "context_path", e.contextPath)
	return nil
}

// Stop retracts applications, then filters, then resources, and finally
// removes the servlet. Every step runs even if an earlier one fails; the
// failures are joined. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.run
	if r == nil {
		return nil
	}
	e.run = nil

	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanEngineStop, attribute.String(tracing.AttrRunID, r.id))
	defer func() { tracing.End(span, err) }()

	err = r.close()
	r.record(ctx, journal.KindEngineStopped, 0, "", "")
	e.status.reset()

	if err != nil {
		log.ErrorErr(log.CatEngine, "Engine stopped with errors", err, "run", r.id)
	} else {
		log.Info(log.CatEngine, "Engine stopped", "run", r.id)
	}
	return err
}

// Status returns a snapshot of published endpoints, filter bindings and
// provider failures.
func (e *Engine) Status() Status {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()

	st := e.status.snapshot()
	if r != nil {
		st.Running = true
		st.RunID = r.id
	}
	return st
}

// Bus returns the bus of the current run, or nil when stopped.
func (e *Engine) Bus() *bus.Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.run.bus
}

func (e *Engine) servletProperties() registry.Properties {
	return registry.Properties{
		httpwhiteboard.PropPattern:       path.Join("/", e.contextPath, "*"),
		httpwhiteboard.PropContextSelect: httpwhiteboard.DefaultContextSelect(),
		registry.PropServiceRanking:      e.servletRanking,
	}
}

func (r *run) close() error {
	if r.stopRetry != nil {
		r.stopRetry()
		<-r.retryDone
	}

	var errs []error
	for _, p := range []*pipeline{r.applications, r.filters, r.resources} {
		if p == nil {
			continue
		}
		if err := p.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s providers: %w", p.kind, err))
		}
	}
	if r.servlet != nil {
		r.servlet.Unregister()
	}
	if err := r.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing bus: %w", err))
	}
	r.cancel()
	return errors.Join(errs...)
}

// startRetries re-runs failed application and resource activations each
// time an endpoint address is freed.
func (r *run) startRetries() {
	ctx, stop := context.WithCancel(r.ctx)
	r.freed = make(chan struct{}, 1)
	r.stopRetry = stop
	r.retryDone = make(chan struct{})

	log.SafeGo("engine.retry", func() {
		defer close(r.retryDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.freed:
				r.applications.retryFailed()
				r.resources.retryFailed()
			}
		}
	})
}

// addressFreed wakes the retry loop without blocking.
func (r *run) addressFreed() {
	select {
	case r.freed <- struct{}{}:
	default:
	}
}

func (r *run) record(ctx context.Context, kind journal.Kind, provider registry.ServiceID, address, detail string) {
	err := r.engine.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		RunID:      r.id,
		Kind:       kind,
		ProviderID: int64(provider),
		Address:    address,
		Detail:     detail,
	})
	if err != nil {
		log.Warn(log.CatJournal, "Journal write failed", "kind", kind, "error", err)
	}
}
