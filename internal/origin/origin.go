// Package origin carries the identity of the module an operation runs on
// behalf of. Provider code sees the origin of its contributor through the
// context passed to it; the caller's context is never modified.
package origin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Origin identifies the module that contributed a provider.
type Origin string

// Host is the origin of the engine itself.
const Host Origin = "whiteboard"

// ErrPanic is wrapped by the error WithOrigin returns when op panics.
var ErrPanic = errors.New("panic in isolated operation")

type ctxKey struct{}

// FromContext returns the origin carried by ctx, or "" when there is none.
func FromContext(ctx context.Context) Origin {
	if ctx == nil {
		return ""
	}
	o, _ := ctx.Value(ctxKey{}).(Origin)
	return o
}

// With returns a child of ctx carrying o.
func With(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, ctxKey{}, o)
}

// WithOrigin runs op with a context carrying o. Whatever happens inside op,
// including a panic, FromContext(ctx) is unchanged afterwards and the panic
// is returned as an error wrapping ErrPanic.
func WithOrigin(ctx context.Context, o Origin, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: origin %q: %v\n%s", ErrPanic, o, r, debug.Stack())
		}
	}()
	return op(With(ctx, o))
}
