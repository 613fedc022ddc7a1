package log

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLog_FormatsFields(t *testing.T) {
	var buf syncBuffer
	InitWriter(&buf, LevelDebug)

	Info(CatGate, "activated", "provider", 7, "selectors", 2)

	out := buf.String()
	require.Contains(t, out, "[INFO] [gate] activated")
	require.Contains(t, out, "provider=7")
	require.Contains(t, out, "selectors=2")
}

func TestLog_OddFieldCount(t *testing.T) {
	var buf syncBuffer
	InitWriter(&buf, LevelDebug)

	Warn(CatEngine, "odd", "orphan")

	require.Contains(t, buf.String(), "orphan=<missing>")
}

func TestLog_MinLevelFilters(t *testing.T) {
	var buf syncBuffer
	InitWriter(&buf, LevelWarn)

	Debug(CatRegistry, "hidden")
	Info(CatRegistry, "hidden too")
	ErrorErr(CatRegistry, "shown", errors.New("boom"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "[ERROR] [registry] shown error=boom")
}

func TestLog_SetEnabled(t *testing.T) {
	var buf syncBuffer
	InitWriter(&buf, LevelDebug)

	SetEnabled(false)
	Info(CatConfig, "muted")
	SetEnabled(true)
	Info(CatConfig, "loud")

	require.NotContains(t, buf.String(), "muted")
	require.Contains(t, buf.String(), "loud")
}

func TestLog_Subscribe(t *testing.T) {
	var buf syncBuffer
	InitWriter(&buf, LevelDebug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Error(CatFilter, "attach failed", "filter", 3)

	select {
	case event := <-ch:
		require.Contains(t, event.Payload, "attach failed")
	case <-time.After(time.Second):
		require.Fail(t, "no log event published")
	}
}

func TestFormat(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	line := format(at, LevelWarn, CatFilter, "attach failed", []any{"filter", 3, "orphan"})
	require.Equal(t, "2026-01-02T15:04:05 [WARN] [filter] attach failed filter=3 orphan=<missing>\n", line)
	require.Equal(t, "UNKNOWN", Level(9).String())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelDebug, ParseLevel("debug"))
	require.Equal(t, LevelInfo, ParseLevel("Info"))
	require.Equal(t, LevelWarn, ParseLevel("WARN"))
	require.Equal(t, LevelError, ParseLevel("error"))
	require.Equal(t, LevelInfo, ParseLevel("whatever"))
}
