package presentation

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/whiteboard/internal/declare"
	"github.com/zjrosen/whiteboard/internal/journal"
	"github.com/zjrosen/whiteboard/internal/whiteboard"
)

func TestFormatProviders(t *testing.T) {
	decls := []declare.Declaration{
		{Name: "hello", Kind: declare.KindText, File: "p.yaml", Properties: map[string]any{whiteboard.ResourceBase: "/api"}},
		{Name: "auth", Kind: declare.KindExtension, File: "e.yaml"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatProviders(FromDeclarations(decls)))

	var out []ProviderDTO
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "hello", out[0].Name)
	assert.Equal(t, []string{declare.ClassResource}, out[0].Classes)
	assert.Equal(t, "declare:p.yaml", out[0].Origin)
	assert.Equal(t, "/api", out[0].Properties[whiteboard.ResourceBase])
	assert.Equal(t, "auth", out[1].Properties[whiteboard.ExtensionName])
}

func TestFormatJournal(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	entries := []journal.Entry{
		{RunID: "0123456789abcdef", Kind: journal.KindEndpointPublished, ProviderID: 4, Address: "/api", At: at},
		{RunID: "0123456789abcdef", Kind: journal.KindActivationFailed, ProviderID: 5, Detail: "address in use", At: at},
		{RunID: "0123456789abcdef", Kind: journal.KindEngineStarted, At: at},
	}

	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatJournal(FromEntries(entries)))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "KIND")
	assert.Contains(t, lines[1], "01234567")
	assert.NotContains(t, lines[1], "89abcdef")
	assert.Contains(t, lines[1], "endpoint.published")
	assert.Contains(t, lines[1], "/api")
	assert.Contains(t, lines[2], "address in use")
	assert.Contains(t, lines[3], "engine.started")
	assert.Contains(t, lines[1], "2026-03-01 12:00:00")
}

func TestFormatJournal_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFormatter(&buf).FormatJournal(nil))
	assert.Contains(t, buf.String(), "no journal entries")
}
