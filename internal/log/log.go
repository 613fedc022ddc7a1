// Package log writes leveled key=value lines for the whiteboard. Lines carry
// a category naming the subsystem. Logging is off until Init or InitWriter is
// called, which the CLI does for --debug, WHITEBOARD_DEBUG or --verbose.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/whiteboard/internal/pubsub"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name, in any case, to a Level. Unknown names map
// to LevelInfo.
func ParseLevel(name string) Level {
	for i, n := range levelNames {
		if strings.EqualFold(n, name) {
			return Level(i)
		}
	}
	return LevelInfo
}

// Category names the subsystem a line comes from.
type Category string

const (
	CatRegistry Category = "registry" // service registry and trackers
	CatGate     Category = "gate"     // extension dependency gating
	CatEndpoint Category = "endpoint"
	CatFilter   Category = "filter"
	CatEngine   Category = "engine"
	CatConfig   Category = "config"  // config and declaration loading
	CatWatcher  Category = "watcher" // declarations directory watcher
	CatHTTP     Category = "http"
	CatJournal  Category = "journal"
	CatCache    Category = "cache"
)

// Logger is the process-wide sink.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	closer   io.Closer
	enabled  bool
	minLevel Level
	lines    *pubsub.Broker[string]
}

var (
	current  *Logger
	initOnce sync.Once
)

// Init appends debug-level lines to the file at path. It can only succeed
// once per process; the returned func closes the file.
func Init(path string) (func(), error) {
	var err error
	initOnce.Do(func() {
		var f *os.File
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: debug log path comes from the user
		if err == nil {
			current = newLogger(f, f, LevelDebug)
		}
	})
	if err != nil {
		return nil, err
	}
	if current == nil || current.closer == nil {
		return nil, fmt.Errorf("log already initialized")
	}
	l := current
	return func() { _ = l.closer.Close() }, nil
}

// InitWriter replaces the global logger with one writing to w.
func InitWriter(w io.Writer, level Level) {
	current = newLogger(w, nil, level)
}

func newLogger(w io.Writer, c io.Closer, level Level) *Logger {
	return &Logger{
		out:      w,
		closer:   c,
		enabled:  true,
		minLevel: level,
		lines:    pubsub.NewBroker[string](),
	}
}

// SetEnabled mutes or unmutes the global logger.
func SetEnabled(enabled bool) {
	if l := current; l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel drops lines below level.
func SetMinLevel(level Level) {
	if l := current; l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

func Debug(cat Category, msg string, fields ...any) { write(LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields ...any)  { write(LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields ...any)  { write(LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields ...any) { write(LevelError, cat, msg, fields) }

// ErrorErr logs msg at error level with err as the error field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	v := "<nil>"
	if err != nil {
		v = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", v))
}

// SafeGo runs fn on a new goroutine, logging a panic with its stack instead
// of crashing the process.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatEngine, "goroutine panicked", "name", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// format renders one line:
//
//	2026-01-02T15:04:05 [WARN] [filter] attach failed filter=3 error=...
func format(at time.Time, level Level, cat Category, msg string, fields []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", at.Format("2006-01-02T15:04:05"), level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 == len(fields) {
			fmt.Fprintf(&b, " %v=<missing>", fields[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	b.WriteByte('\n')
	return b.String()
}

func write(level Level, cat Category, msg string, fields []any) {
	l := current
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.minLevel {
		return
	}

	line := format(time.Now(), level, cat, msg, fields)
	if l.out != nil {
		_, _ = io.WriteString(l.out, line)
	}
	l.lines.Publish(pubsub.LogEvent, line)
}

// Subscribe streams every written line until ctx is done. It returns nil
// while logging is off.
func Subscribe(ctx context.Context) <-chan pubsub.Event[string] {
	l := current
	if l == nil {
		return nil
	}
	return l.lines.Subscribe(ctx)
}
