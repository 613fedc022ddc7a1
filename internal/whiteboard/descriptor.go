package whiteboard

import (
	"github.com/zjrosen/whiteboard/internal/origin"
	"github.com/zjrosen/whiteboard/internal/registry"
)

// Kind classifies a provider.
type Kind string

const (
	KindApplication Kind = "application"
	KindResource    Kind = "resource"
	KindFilter      Kind = "filter"
)

// baseKey returns the property that marks providers of kind k.
func (k Kind) baseKey() string {
	switch k {
	case KindApplication:
		return ApplicationBase
	case KindResource:
		return ResourceBase
	default:
		return FilterBase
	}
}

// Descriptor is an observed provider. It is immutable; a property change is
// seen as the removal of one descriptor and the addition of another.
type Descriptor struct {
	ID         registry.ServiceID
	Kind       Kind
	Properties registry.Properties
	Origin     origin.Origin

	ref registry.Reference
}

func newDescriptor(kind Kind, ref registry.Reference) Descriptor {
	return Descriptor{
		ID:         ref.ID(),
		Kind:       kind,
		Properties: ref.Properties(),
		Origin:     ref.Origin(),
		ref:        ref,
	}
}

// Reference returns the registry reference the descriptor was built from.
func (d Descriptor) Reference() registry.Reference {
	return d.ref
}

// Selectors returns the declared extension selectors.
func (d Descriptor) Selectors() []string {
	v, _ := d.Properties.Get(ExtensionSelect)
	return canonicalize(v)
}
