package declare

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/whiteboard/internal/bus"
	"github.com/zjrosen/whiteboard/internal/registry"
	"github.com/zjrosen/whiteboard/internal/whiteboard"
)

const sample = `providers:
  - name: hello
    kind: text
    path: /hello
    body: hi
    properties:
      osgi.jaxrs.resource.base: /api
  - name: info
    kind: json
    path: /info
    body:
      version: 1
      tags: [a, b]
    properties:
      osgi.jaxrs.application.base: /app
  - name: powered-by
    kind: header
    header:
      name: X-Powered-By
      value: whiteboard
    properties:
      osgi.jaxrs.filter.base: /
`

const extensions = `providers:
  - name: auth
    kind: extension
`

func TestLoadDir(t *testing.T) {
	fsys := fstest.MapFS{
		"providers.yaml":      {Data: []byte(sample)},
		"extensions.yml":      {Data: []byte(extensions)},
		"README.md":           {Data: []byte("# not yaml")},
		".hidden.yaml":        {Data: []byte("not: [valid")},
		"nested/ignored.yaml": {Data: []byte("not: [valid")},
	}

	decls, err := LoadDir(fsys)
	require.NoError(t, err)

	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"auth", "hello", "info", "powered-by"}, names)
	assert.Equal(t, "extensions.yml", decls[0].File)
	assert.Equal(t, "providers.yaml", decls[1].File)
	assert.Equal(t, "/api", decls[1].Properties[whiteboard.ResourceBase])
}

func TestLoadDir_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr error
		msg     string
	}{
		{
			name:  "malformed yaml",
			files: fstest.MapFS{"a.yaml": {Data: []byte("providers: [")}},
			msg:   "parse a.yaml",
		},
		{
			name:    "unknown kind",
			files:   fstest.MapFS{"a.yaml": {Data: []byte("providers:\n  - name: x\n    kind: soap\n")}},
			wantErr: ErrInvalid,
		},
		{
			name:    "missing name",
			files:   fstest.MapFS{"a.yaml": {Data: []byte("providers:\n  - kind: text\n")}},
			wantErr: ErrInvalid,
		},
		{
			name:    "header without name",
			files:   fstest.MapFS{"a.yaml": {Data: []byte("providers:\n  - name: h\n    kind: header\n")}},
			wantErr: ErrInvalid,
		},
		{
			name: "duplicate across files",
			files: fstest.MapFS{
				"a.yaml": {Data: []byte(extensions)},
				"b.yaml": {Data: []byte(extensions)},
			},
			wantErr: ErrDuplicateName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDir(tt.files)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			if tt.msg != "" {
				require.ErrorContains(t, err, tt.msg)
			}
		})
	}
}

func TestDeclaration_Service(t *testing.T) {
	decls, err := LoadDir(fstest.MapFS{"p.yaml": {Data: []byte(sample + extensions[len("providers:\n"):])}})
	require.NoError(t, err)
	byName := map[string]Declaration{}
	for _, d := range decls {
		byName[d.Name] = d
	}

	svc, classes, err := byName["hello"].Service()
	require.NoError(t, err)
	assert.Equal(t, []string{ClassResource}, classes)
	assert.Implements(t, (*bus.Resource)(nil), svc)

	svc, classes, err = byName["info"].Service()
	require.NoError(t, err)
	assert.Equal(t, []string{ClassApplication}, classes)
	app, ok := svc.(bus.Application)
	require.True(t, ok)
	assert.Equal(t, "info", app.Name())

	svc, classes, err = byName["powered-by"].Service()
	require.NoError(t, err)
	assert.Equal(t, []string{ClassFilter}, classes)
	assert.Implements(t, (*bus.Filter)(nil), svc)

	svc, classes, err = byName["auth"].Service()
	require.NoError(t, err)
	assert.Equal(t, []string{ClassExtension}, classes)
	assert.Equal(t, Extension{Name: "auth"}, svc)
	props := byName["auth"].RegistryProperties()
	assert.Equal(t, "auth", props[whiteboard.ExtensionName])
	assert.Equal(t, "auth", props[PropName])
	assert.Equal(t, "declare:p.yaml", string(byName["auth"].Origin()))
}

func TestSyncer_AddReplaceRemove(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	s := NewSyncer(reg)

	decls, err := LoadDir(fstest.MapFS{"p.yaml": {Data: []byte(sample)}})
	require.NoError(t, err)

	res, err := s.Sync(decls)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "info", "powered-by"}, res.Added)
	assert.Equal(t, 3, reg.Len())

	res, err = s.Sync(decls)
	require.NoError(t, err)
	assert.False(t, res.Changed(), "unchanged declarations stay registered")

	oldID, ok := s.ServiceID("hello")
	require.True(t, ok)

	decls[0].Body = "hello again"
	res, err = s.Sync([]Declaration{decls[0], decls[2]})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, res.Replaced)
	assert.Equal(t, []string{"info"}, res.Removed)
	assert.Equal(t, []string{"hello", "powered-by"}, s.Registered())

	newID, _ := s.ServiceID("hello")
	assert.NotEqual(t, oldID, newID)

	refs, err := reg.Lookup("(" + PropName + "=hello)")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, []string{ClassResource}, refs[0].Classes())

	s.Close()
	assert.Zero(t, reg.Len())
}

func TestSyncer_DrivesWhiteboard(t *testing.T) {
	reg := registry.New()
	defer reg.Close()

	e := whiteboard.New(reg)
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(context.Background()) }()

	gated := `providers:
  - name: secure
    kind: text
    path: /me
    body: secret
    properties:
      osgi.jaxrs.resource.base: /secure
      osgi.jaxrs.extension.select: "(osgi.jaxrs.extension.name=auth)"
`
	decls, err := LoadDir(fstest.MapFS{"a.yaml": {Data: []byte(sample)}, "b.yaml": {Data: []byte(gated)}})
	require.NoError(t, err)

	s := NewSyncer(reg)
	defer s.Close()
	_, err = s.Sync(decls)
	require.NoError(t, err)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		if b := e.Bus(); b != nil {
			b.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		}
		return rec
	}

	require.Eventually(t, func() bool {
		rec := get("/api/hello")
		return rec.Code == http.StatusOK && rec.Body.String() == "hi" &&
			rec.Header().Get("X-Powered-By") == "whiteboard"
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		rec := get("/app/info")
		body, _ := io.ReadAll(rec.Body)
		return rec.Code == http.StatusOK && rec.Header().Get("Content-Type") == "application/json" &&
			string(body) == `{"tags":["a","b"],"version":1}`
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, get("/secure/me").Code)

	withAuth, err := LoadDir(fstest.MapFS{
		"a.yaml": {Data: []byte(sample)},
		"b.yaml": {Data: []byte(gated)},
		"c.yaml": {Data: []byte(extensions)},
	})
	require.NoError(t, err)
	res, err := s.Sync(withAuth)
	require.NoError(t, err)
	assert.Equal(t, []string{"auth"}, res.Added)

	require.Eventually(t, func() bool {
		rec := get("/secure/me")
		return rec.Code == http.StatusOK && rec.Body.String() == "secret"
	}, 2*time.Second, 5*time.Millisecond)
}
