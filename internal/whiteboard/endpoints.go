package whiteboard

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/whiteboard/internal/bus"
	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/log"
	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/tracing"
)

// activateEndpoint publishes the endpoint of an application or resource
// provider and projects it back into the registry.
func (r *run) activateEndpoint(ctx context.Context, desc Descriptor) (Release, error) {
	props := endpointProperties(desc, desc.Kind.baseKey())
	address, _ := props[EndpointAddress].(string)

	ctx, span := tracing.Start(ctx, r.engine.tracer, tracing.SpanEndpointRegister,
		attribute.Int64(tracing.AttrProviderID, int64(desc.ID)),
		attribute.String(tracing.AttrProviderKind, string(desc.Kind)),
		attribute.String(tracing.AttrEndpointAddress, address),
	)
	rel, err := r.registerEndpoint(ctx, desc, props, address)
	tracing.End(span, err)
	return rel, err
}

func (r *run) registerEndpoint(ctx context.Context, desc Descriptor, props map[string]any, address string) (Release, error) {
	reg := r.engine.reg
	ref := desc.Reference()
	stack := &releaseStack{}

	svc, err := reg.GetService(ref)
	if err != nil {
		return nil, fmt.Errorf("getting %s service: %w", desc.Kind, err)
	}
	stack.push(func() error {
		reg.UngetService(ref)
		return nil
	})

	app, err := applicationFor(desc, svc)
	if err != nil {
		return nil, errors.Join(err, stack.release())
	}

	var ep *bus.Endpoint
	err = origin.WithOrigin(ctx, desc.Origin, func(ctx context.Context) error {
		var err error
		ep, err = bus.NewEndpoint(ctx, r.bus, app, props)
		return err
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("binding endpoint %s: %w", address, err), stack.release())
	}
	published := false
	stack.push(func() error {
		if published {
			r.addressFreed()
		}
		return nil
	})
	stack.push(ep.Close)

	projection, err := reg.Register(origin.Host, ep, props, EndpointClass)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("publishing endpoint %s: %w", address, err), stack.release())
	}
	stack.push(func() error {
		projection.Unregister()
		return nil
	})

	r.engine.status.addEndpoint(EndpointInfo{ProviderID: desc.ID, Kind: desc.Kind, Address: ep.Address()})
	r.record(ctx, journal.KindEndpointPublished, desc.ID, ep.Address(), app.Name())
	stack.push(func() error {
		r.engine.status.removeEndpoint(desc.ID)
		r.record(ctx, journal.KindEndpointRetracted, desc.ID, ep.Address(), "")
		log.Info(log.CatEndpoint, "Endpoint retracted", "provider", desc.ID, "address", ep.Address())
		return nil
	})
	stack.push(func() error {
		r.retractBindings(projection.ID())
		return nil
	})

	published = true
	log.Info(log.CatEndpoint, "Endpoint published", "provider", desc.ID, "kind", desc.Kind, "address", ep.Address())
	return stack.release, nil
}

// applicationFor unifies both endpoint kinds into an Application.
func applicationFor(desc Descriptor, svc any) (bus.Application, error) {
	switch desc.Kind {
	case KindApplication:
		app, ok := svc.(bus.Application)
		if !ok {
			return nil, fmt.Errorf("%w: application %d is %T", ErrServiceType, desc.ID, svc)
		}
		return app, nil
	case KindResource:
		res, ok := svc.(bus.Resource)
		if !ok {
			return nil, fmt.Errorf("%w: resource %d is %T", ErrServiceType, desc.ID, svc)
		}
		return bus.NewSingletonApplication(fmt.Sprintf("resource-%d", desc.ID), res), nil
	default:
		return nil, fmt.Errorf("%w: %s providers do not publish endpoints", ErrServiceType, desc.Kind)
	}
}
