package bus

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
)

// Resource contributes routes to the router of the endpoint it is bound to.
// ctx carries the origin of the provider that registered the resource.
type Resource interface {
	Routes(ctx context.Context, r chi.Router) error
}

// ResourceFunc adapts a function to Resource.
type ResourceFunc func(ctx context.Context, r chi.Router) error

// Routes implements Resource.
func (f ResourceFunc) Routes(ctx context.Context, r chi.Router) error {
	return f(ctx, r)
}

// Application is a named set of singleton resources published together under
// one endpoint address.
type Application interface {
	Name() string
	Singletons() []Resource
}

// SingletonApplication adapts a lone resource into an Application exposing
// exactly that resource.
type SingletonApplication struct {
	name     string
	resource Resource
}

// NewSingletonApplication wraps resource. name is used in logs and errors.
func NewSingletonApplication(name string, resource Resource) *SingletonApplication {
	return &SingletonApplication{name: name, resource: resource}
}

// Name implements Application.
func (a *SingletonApplication) Name() string {
	return a.name
}

// Singletons implements Application.
func (a *SingletonApplication) Singletons() []Resource {
	return []Resource{a.resource}
}

// String implements fmt.Stringer.
func (a *SingletonApplication) String() string {
	return fmt.Sprintf("singleton(%s)", a.name)
}
