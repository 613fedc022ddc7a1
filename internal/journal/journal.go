// Package journal records what the whiteboard engine did: endpoints published
// and retracted, filters attached and detached, and activation failures.
// Entries of one engine run share a run id.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by a closed journal.
var ErrClosed = errors.New("journal closed")

// Kind classifies an entry.
type Kind string

const (
	KindEngineStarted     Kind = "engine.started"
	KindEngineStopped     Kind = "engine.stopped"
	KindEndpointPublished Kind = "endpoint.published"
	KindEndpointRetracted Kind = "endpoint.retracted"
	KindBindingAttached   Kind = "binding.attached"
	KindBindingDetached   Kind = "binding.detached"
	KindActivationFailed  Kind = "activation.failed"
	KindConfigError       Kind = "config.error"
)

// Entry is one journal record.
type Entry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	ProviderID int64     `json:"provider_id,omitempty"`
	Address    string    `json:"address,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Recorder stores entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Reader lists entries, newest first. A non-positive limit returns all.
type Reader interface {
	List(ctx context.Context, runID string, limit int) ([]Entry, error)
}

// Journal is a Recorder that can be read back and closed.
type Journal interface {
	Recorder
	Reader
	Close() error
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}
