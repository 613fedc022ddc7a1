package registry

import (
	"maps"
	"slices"
	"strings"

	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/pubsub"
)

// Standard property keys maintained by the registry.
const (
	PropServiceID      = "service.id"
	PropObjectClass    = "objectClass"
	PropServiceRanking = "service.ranking"
)

// ServiceID identifies a registration. IDs are assigned in registration order
// and never reused.
type ServiceID int64

// Properties is the property map of a registration.
type Properties map[string]any

// Clone returns a shallow copy. A nil map clones to an empty one.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p)+3)
	maps.Copy(out, p)
	return out
}

// Get returns the value for key, matching the key case-insensitively when
// there is no exact match.
func (p Properties) Get(key string) (any, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Reference is an immutable snapshot of a registration as seen at one point
// in time. A property change produces a new Reference with the same ID.
type Reference struct {
	id     ServiceID
	origin origin.Origin
	props  Properties
}

// ID returns the service id.
func (r Reference) ID() ServiceID { return r.id }

// Origin returns the module that registered the service.
func (r Reference) Origin() origin.Origin { return r.origin }

// IsZero reports whether r refers to no registration.
func (r Reference) IsZero() bool { return r.id == 0 }

// Property returns a single property value, or nil.
func (r Reference) Property(key string) any {
	v, _ := r.props.Get(key)
	return v
}

// Properties returns a copy of all properties.
func (r Reference) Properties() Properties {
	return r.props.Clone()
}

// Classes returns the object classes the service was registered under.
func (r Reference) Classes() []string {
	classes, _ := r.props[PropObjectClass].([]string)
	return slices.Clone(classes)
}

// Ranking returns service.ranking, or 0 when absent or not an integer.
func (r Reference) Ranking() int {
	switch v := r.props[PropServiceRanking].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// compareReferences orders by ranking descending, then id ascending.
func compareReferences(a, b Reference) int {
	if a.Ranking() != b.Ranking() {
		return b.Ranking() - a.Ranking()
	}
	switch {
	case a.id < b.id:
		return -1
	case a.id > b.id:
		return 1
	}
	return 0
}

// ServiceEvent is published for every registry change. Previous is set for
// modifications only.
type ServiceEvent struct {
	Type     pubsub.EventType
	Ref      Reference
	Previous Reference
}

// Handler receives tracker callbacks. Calls for one tracker are sequential.
type Handler interface {
	Added(ref Reference)
	Removed(ref Reference)
}

// HandlerFuncs adapts plain functions to Handler. Nil funcs are skipped.
type HandlerFuncs struct {
	OnAdded   func(ref Reference)
	OnRemoved func(ref Reference)
}

// Added implements Handler.
func (h HandlerFuncs) Added(ref Reference) {
	if h.OnAdded != nil {
		h.OnAdded(ref)
	}
}

// Removed implements Handler.
func (h HandlerFuncs) Removed(ref Reference) {
	if h.OnRemoved != nil {
		h.OnRemoved(ref)
	}
}

// ServiceFactory lets a registration hand out lazily created instances.
// GetService is called on the first use of a reference and ReleaseService
// when the last use is returned. Both run with the registry locked and must
// not call back into the registry.
type ServiceFactory interface {
	GetService(ref Reference) (any, error)
	ReleaseService(ref Reference, service any)
}
