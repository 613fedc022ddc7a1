package journal

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory keeps entries in process. Used when persistence is disabled.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
	max     int
	closed  bool
	now     func() time.Time
}

// NewMemory keeps at most max entries, dropping the oldest. Zero means
// unbounded.
func NewMemory(max int) *Memory {
	return &Memory{max: max, now: time.Now}
}

// Record implements Recorder.
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.nextID++
	e.ID = m.nextID
	if e.At.IsZero() {
		e.At = m.now()
	}
	m.entries = append(m.entries, e)
	if m.max > 0 && len(m.entries) > m.max {
		m.entries = slices.Delete(m.entries, 0, len(m.entries)-m.max)
	}
	return nil
}

// List implements Reader.
func (m *Memory) List(_ context.Context, runID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if runID != "" && m.entries[i].RunID != runID {
			continue
		}
		out = append(out, m.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close implements Journal.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
