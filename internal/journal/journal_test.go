package journal

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewRunID_IsUUID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.NotEqual(t, id, NewRunID())
}

func TestMemory_RecordAndList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	require.NoError(t, m.Record(ctx, Entry{RunID: "a", Kind: KindEndpointPublished, ProviderID: 1, Address: "/api"}))
	require.NoError(t, m.Record(ctx, Entry{RunID: "b", Kind: KindBindingAttached, ProviderID: 2}))
	require.NoError(t, m.Record(ctx, Entry{RunID: "a", Kind: KindEndpointRetracted, ProviderID: 1}))

	all, err := m.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, KindEndpointRetracted, all[0].Kind)
	require.False(t, all[0].At.IsZero())

	runA, err := m.List(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, runA, 1)
	require.Equal(t, int64(3), runA[0].ID)
}

func TestMemory_Bounded(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Record(ctx, Entry{RunID: "r", Kind: KindActivationFailed, ProviderID: int64(i)}))
	}

	entries, err := m.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(4), entries[0].ProviderID)
	require.Equal(t, int64(3), entries[1].ProviderID)

	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Record(ctx, Entry{}), ErrClosed)
}

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpen_CreatesPrivateDirectory(t *testing.T) {
	_, path := openStore(t)

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}

func TestOpen_MigratesSchema(t *testing.T) {
	s, _ := openStore(t)

	for _, table := range []string{"entries", "runs", "schema_migrations"} {
		var name string
		err := s.conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}

	var mode string
	require.NoError(t, s.conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestOpen_BacksUpExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Record(context.Background(), Entry{RunID: "r", Kind: KindEngineStarted}))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	info, err := os.Stat(path + ".bak")
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	entries, err := second.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_RecordListRuns(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.Record(ctx, Entry{RunID: "run-1", Kind: KindEngineStarted, At: at}))
	require.NoError(t, s.Record(ctx, Entry{RunID: "run-1", Kind: KindEndpointPublished, ProviderID: 4, Address: "/api", At: at.Add(time.Second)}))
	require.NoError(t, s.Record(ctx, Entry{RunID: "run-2", Kind: KindConfigError, ProviderID: 9, Detail: "missing filter base", At: at.Add(time.Minute)}))

	entries, err := s.List(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, KindEndpointPublished, entries[0].Kind)
	require.Equal(t, "/api", entries[0].Address)
	require.Equal(t, int64(4), entries[0].ProviderID)
	require.True(t, entries[0].At.Equal(at.Add(time.Second)))

	latest, err := s.List(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, "missing filter base", latest[0].Detail)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"run-2", "run-1"}, runs)
}
