package whiteboard

import (
	"fmt"
	"strings"

	"github.com/zjrosen/whiteboard/internal/bus"
	"github.com/zjrosen/whiteboard/internal/registry"
)

// Provider property keys.
const (
	ApplicationBase = "osgi.jaxrs.application.base"
	ResourceBase    = "osgi.jaxrs.resource.base"
	FilterBase      = "osgi.jaxrs.filter.base"
	ExtensionSelect = "osgi.jaxrs.extension.select"
	ExtensionName   = "osgi.jaxrs.extension.name"
	EndpointAddress = bus.AddressProperty

	// EndpointProvider is set on endpoint projections to the service id of
	// the provider the endpoint was created for.
	EndpointProvider = "endpoint.provider.id"
)

// EndpointClass is the object class endpoint projections are registered under.
const EndpointClass = "whiteboard.Endpoint"

// DefaultAddress is used when a provider declares an empty base.
const DefaultAddress = "/"

// endpointQuery matches every published endpoint projection.
const endpointQuery = "(&(objectClass=" + EndpointClass + ")(" + EndpointAddress + "=*))"

// providerQuery matches providers carrying baseKey, excluding endpoint
// projections, which copy the properties of their provider.
func providerQuery(baseKey string) string {
	return "(&(" + baseKey + "=*)(!(objectClass=" + EndpointClass + ")))"
}

// canonicalize turns a property value into a list of strings: nil is empty,
// a string slice is taken as is and anything else is stringified.
func canonicalize(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return []string{val}
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(val)}
	}
}

// extensionQuery scopes a selector to providers declaring an extension name.
func extensionQuery(selector string) string {
	return "(&(" + ExtensionName + "=*)" + selector + ")"
}

// baseOf returns the stringified base property and whether it was present.
func baseOf(props registry.Properties, key string) (string, bool) {
	v, ok := props.Get(key)
	if !ok || v == nil {
		return "", false
	}
	return strings.TrimSpace(fmt.Sprint(v)), true
}

// endpointProperties copies the provider's properties and adds the endpoint
// address taken from baseKey. A missing or empty base yields DefaultAddress.
func endpointProperties(desc Descriptor, baseKey string) registry.Properties {
	props := desc.Properties.Clone()
	base, _ := baseOf(desc.Properties, baseKey)
	if base == "" {
		base = DefaultAddress
	}
	props[EndpointAddress] = bus.NormalizeAddress(base)
	props[EndpointProvider] = int64(desc.ID)
	return props
}
