package bus

import (
	"context"
	"net/http"
)

// Middleware wraps a handler.
type Middleware func(next http.Handler) http.Handler

// Filter produces the middleware applied to every request of the endpoint it
// is attached to. Middleware is called once per attachment with a context
// carrying the origin of the filter provider.
type Filter interface {
	Middleware(ctx context.Context) (Middleware, error)
}

// FilterFunc adapts a plain middleware to Filter.
type FilterFunc func(next http.Handler) http.Handler

// Middleware implements Filter.
func (f FilterFunc) Middleware(context.Context) (Middleware, error) {
	return Middleware(f), nil
}
