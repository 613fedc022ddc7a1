package ldapfilter

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompile_Match(t *testing.T) {
	props := map[string]any{
		"osgi.jaxrs.extension.name": "logging",
		"objectClass":               []string{"whiteboard.Endpoint", "io.Closer"},
		"service.ranking":           10,
		"endpoint-address":          "/api/v1",
		"enabled":                   true,
		"tags":                      []any{"a", 3},
		"display":                   "Hello   World",
	}

	tests := []struct {
		filter string
		want   bool
	}{
		{"(osgi.jaxrs.extension.name=logging)", true},
		{"(osgi.jaxrs.extension.name=other)", false},
		{"(OSGI.JAXRS.EXTENSION.NAME=logging)", true},
		{"(osgi.jaxrs.extension.name=*)", true},
		{"(missing=*)", false},
		{"(objectClass=whiteboard.Endpoint)", true},
		{"(objectClass=io.Reader)", false},
		{"(&(objectClass=whiteboard.Endpoint)(endpoint-address=*))", true},
		{"(|(missing=x)(enabled=true))", true},
		{"(!(enabled=true))", false},
		{"(service.ranking>=5)", true},
		{"(service.ranking<=5)", false},
		{"(service.ranking=10)", true},
		{"(endpoint-address=/api*)", true},
		{"(endpoint-address=*v1)", true},
		{"(endpoint-address=/*i/*)", true},
		{"(endpoint-address=/x*)", false},
		{"(display~=helloworld)", true},
		{"(tags=3)", true},
		{"(tags=a)", true},
		{"(tags=b)", false},
		{"(enabled=TRUE)", true},
		{"(&(a=*)(osgi.jaxrs.extension.name=logging))", false},
		{" ( & (enabled=true) (service.ranking>=10) ) ", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Compile(tt.filter)
			require.NoError(t, err)
			require.Equal(t, tt.want, f.Match(props))
		})
	}
}

func TestCompile_Escapes(t *testing.T) {
	f, err := Compile(`(name=a\*b\(c\))`)
	require.NoError(t, err)

	require.True(t, f.Match(map[string]any{"name": "a*b(c)"}))
	require.False(t, f.Match(map[string]any{"name": "aXb(c)"}))
	require.Equal(t, `(name=a\*b\(c\))`, f.String())
}

func TestCompile_Errors(t *testing.T) {
	bad := []string{
		"",
		"name=x",
		"(name=x",
		"(=x)",
		"(&)",
		"(name>x)",
		"(name=x)(extra=y)",
		"(name>=a*b)",
		`(name=x\`,
		"(name=(x)",
	}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := Compile(s)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidFilter))
		})
	}
}

func TestMustCompile_Panics(t *testing.T) {
	require.Panics(t, func() { MustCompile("(broken") })
	require.NotPanics(t, func() { MustCompile("(ok=1)") })
}

func TestFilter_String(t *testing.T) {
	f, err := Compile("( & (a=1) (| (b=*) (!(c~=x))) (d>=2)(e<=3)(f=x*y*))")
	require.NoError(t, err)
	require.Equal(t, "(&(a=1)(|(b=*)(!(c~=x)))(d>=2)(e<=3)(f=x*y*))", f.String())
}

func genAttr() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z.\-]{0,8}`)
}

func genValue() *rapid.Generator[string] {
	return rapid.StringOf(rapid.RuneFrom([]rune("abc()*\\ -/")))
}

// String output must compile back to an equivalent filter.
func TestFilter_StringRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attr := genAttr().Draw(t, "attr")
		value := genValue().Draw(t, "value")
		f := itemFilter{attr: attr, op: opEqual, value: value}

		compiled, err := Compile(f.String())
		require.NoError(t, err)
		require.True(t, compiled.Match(map[string]any{attr: value}))
		require.Equal(t, f.String(), compiled.String())
	})
}

func TestFilter_NotIsComplement_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attr := genAttr().Draw(t, "attr")
		want := genValue().Draw(t, "want")
		have := genValue().Draw(t, "have")
		props := map[string]any{attr: have}

		f, err := Compile("(" + attr + "=" + escape(want) + ")")
		require.NoError(t, err)
		not, err := Compile("(!" + f.String() + ")")
		require.NoError(t, err)

		require.NotEqual(t, f.Match(props), not.Match(props))
	})
}

func TestFilter_PrefixSubstring_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := genValue().Draw(t, "prefix")
		suffix := genValue().Draw(t, "suffix")

		f, err := Compile("(endpoint-address=" + escape(prefix) + "*)")
		require.NoError(t, err)

		require.True(t, f.Match(map[string]any{"endpoint-address": prefix + suffix}))
		other := "#" + prefix
		require.Equal(t, strings.HasPrefix(other, prefix), f.Match(map[string]any{"endpoint-address": other}))
	})
}
