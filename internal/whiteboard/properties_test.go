package whiteboard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/whiteboard/internal/ldapfilter"
	"github.com/zjrosen/whiteboard/internal/registry"
)

func TestCanonicalize(t *testing.T) {
	require.Nil(t, canonicalize(nil))
	require.Equal(t, []string{"(a=b)"}, canonicalize("(a=b)"))
	require.Equal(t, []string{"x", "y"}, canonicalize([]string{"x", "y"}))
	require.Equal(t, []string{"1", "two"}, canonicalize([]any{1, "two"}))
	require.Equal(t, []string{"42"}, canonicalize(42))
}

func TestEndpointProperties(t *testing.T) {
	desc := Descriptor{ID: 9, Properties: registry.Properties{ResourceBase: "api/", "team": "blue"}}

	props := endpointProperties(desc, ResourceBase)
	require.Equal(t, "/api", props[EndpointAddress])
	require.Equal(t, int64(9), props[EndpointProvider])
	require.Equal(t, "blue", props["team"])
	require.NotContains(t, desc.Properties, EndpointAddress, "provider properties are not touched")

	empty := endpointProperties(Descriptor{ID: 1, Properties: registry.Properties{ResourceBase: "  "}}, ResourceBase)
	require.Equal(t, DefaultAddress, empty[EndpointAddress])
}

func TestProviderQueryExcludesProjections(t *testing.T) {
	f := ldapfilter.MustCompile(providerQuery(ResourceBase))

	require.True(t, f.Match(map[string]any{ResourceBase: "/x", registry.PropObjectClass: []string{"test.Resource"}}))
	require.False(t, f.Match(map[string]any{ResourceBase: "/x", registry.PropObjectClass: []string{EndpointClass}}))
	require.False(t, f.Match(map[string]any{ApplicationBase: "/x"}))
}

func TestValidateFilter(t *testing.T) {
	require.NoError(t, validateFilter(Descriptor{Properties: registry.Properties{FilterBase: "/api"}}))

	for _, props := range []registry.Properties{{}, {FilterBase: ""}, {FilterBase: "   "}} {
		err := validateFilter(Descriptor{ID: 4, Properties: props})
		require.ErrorIs(t, err, ErrMissingFilterBase)
		var cfg *ConfigError
		require.ErrorAs(t, err, &cfg)
		require.Equal(t, FilterBase, cfg.Key)
	}
}
