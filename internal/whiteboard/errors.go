package whiteboard

import (
	"errors"
	"fmt"

	"github.com/zjrosen/whiteboard/internal/registry"
)

var (
	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrMissingFilterBase marks a filter provider without a usable base.
	ErrMissingFilterBase = errors.New("filter base is missing or empty")
	// ErrInvalidSelector marks an extension selector that does not compile.
	ErrInvalidSelector = errors.New("invalid extension selector")
	// ErrServiceType is returned when a provider's service does not implement
	// the interface its kind requires.
	ErrServiceType = errors.New("service has the wrong type")
)

// ConfigError reports a provider whose properties make it unusable. It only
// affects that provider.
type ConfigError struct {
	ProviderID registry.ServiceID
	Key        string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %d: %s: %v", e.ProviderID, e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
