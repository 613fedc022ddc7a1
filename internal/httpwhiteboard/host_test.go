package httpwhiteboard

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/whiteboard/internal/registry"
)

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body+":"+r.URL.Path)
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func startHost(t *testing.T, reg *registry.InMemoryRegistry, opts ...Option) *Host {
	t.Helper()
	h := NewHost(reg, opts...)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Close)
	return h
}

func servletProps(pattern string, ranking int) registry.Properties {
	return registry.Properties{
		PropPattern:                 pattern,
		registry.PropServiceRanking: ranking,
		PropContextSelect:           DefaultContextSelect(),
	}
}

func TestHost_MountsAndUnmountsServlets(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	h := startHost(t, reg)

	catchAll, err := reg.Register("test", text("all"), servletProps("/*", -1), ServletClass)
	require.NoError(t, err)
	_, err = reg.Register("test", text("exact"), servletProps("/health", 0), ServletClass)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.Patterns()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"/health", "/*"}, h.Patterns())

	require.Equal(t, "exact:/health", get(h, "/health").Body.String())
	require.Equal(t, "all:/api/x", get(h, "/api/x").Body.String())

	ref, _ := catchAll.Reference()
	require.Equal(t, 1, reg.Uses(ref))

	catchAll.Unregister()
	require.Eventually(t, func() bool { return len(h.Patterns()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, http.StatusNotFound, get(h, "/api/x").Code)
}

func TestHost_HigherRankingWinsSamePattern(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	h := startHost(t, reg)

	_, _ = reg.Register("test", text("low"), servletProps("/svc/*", -1), ServletClass)
	_, _ = reg.Register("test", text("high"), servletProps("/svc/*", 5), ServletClass)

	require.Eventually(t, func() bool { return len(h.Patterns()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "high:/svc/a", get(h, "/svc/a").Body.String())
}

func TestHost_IgnoresOtherContextsAndBadServlets(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	h := startHost(t, reg)

	other := servletProps("/other/*", 0)
	other[PropContextSelect] = "(" + PropContextName + "=admin)"
	_, _ = reg.Register("test", text("other"), other, ServletClass)
	_, _ = reg.Register("test", "not a handler", servletProps("/bad/*", 0), ServletClass)
	_, _ = reg.Register("test", text("nopattern"), registry.Properties{}, ServletClass)
	_, _ = reg.Register("test", text("ok"), servletProps("/ok", 0), ServletClass)

	require.Eventually(t, func() bool { return len(h.Patterns()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"/ok"}, h.Patterns())
}

func TestHost_NamedContext(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	h := startHost(t, reg, WithContextName("admin"))

	props := servletProps("/console/*", 0)
	props[PropContextSelect] = "(" + PropContextName + "=admin)"
	_, _ = reg.Register("test", text("console"), props, ServletClass)
	_, _ = reg.Register("test", text("default"), servletProps("/*", 0), ServletClass)

	require.Eventually(t, func() bool { return len(h.Patterns()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "console:/console/x", get(h, "/console/x").Body.String())
}

func TestHost_CloseReturnsServices(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	h := NewHost(reg)
	require.NoError(t, h.Start(context.Background()))

	r, _ := reg.Register("test", text("x"), servletProps("/*", 0), ServletClass)
	ref, _ := r.Reference()
	require.Eventually(t, func() bool { return reg.Uses(ref) == 1 }, time.Second, 5*time.Millisecond)

	h.Close()
	require.Equal(t, 0, reg.Uses(ref))
	require.Empty(t, h.Patterns())
}

func TestHost_ServeShutsDownWithContext(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	h := startHost(t, reg)
	_, _ = reg.Register("test", text("live"), servletProps("/*", 0), ServletClass)
	require.Eventually(t, func() bool { return len(h.Patterns()) == 1 }, time.Second, 5*time.Millisecond)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "live:/ping", string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "server did not shut down")
	}
}
