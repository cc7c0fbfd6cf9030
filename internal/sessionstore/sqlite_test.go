package sessionstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSQLiteStore(t *testing.T, path, profile string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), path, profile, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	s := newTestSQLiteStore(t, path, "")

	_, ok := s.Load(ctx)
	assert.False(t, ok, "fresh database has no session")

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))

	got, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, want.Cookies, got.Cookies)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
	assert.FileExists(t, path)
}

func TestSQLiteStoreUpsertsPerProfile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	alice := newTestSQLiteStore(t, path, "alice")

	first := sampleState()
	require.NoError(t, alice.Save(ctx, first))
	second := sampleState()
	second.Cookies = second.Cookies[:1]
	require.NoError(t, alice.Save(ctx, second))

	got, ok := alice.Load(ctx)
	require.True(t, ok)
	assert.Len(t, got.Cookies, 1)

	var count int
	require.NoError(t, alice.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tms_sessions").Scan(&count))
	assert.Equal(t, 1, count)

	_, err := alice.db.ExecContext(ctx, sqliteUpsertSession, "bob", `{"cookies":[]}`, "2025-03-01T00:00:00Z")
	require.NoError(t, err)
	got, ok = alice.Load(ctx)
	require.True(t, ok, "other profiles do not clobber this one")
	assert.Len(t, got.Cookies, 1)
}

func TestSQLiteStoreCorruptRowIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, filepath.Join(t.TempDir(), "sessions.db"), "default")

	_, err := s.db.ExecContext(ctx, sqliteUpsertSession, "default", "{not json", "2025-03-01T00:00:00Z")
	require.NoError(t, err)

	_, ok := s.Load(ctx)
	assert.False(t, ok)
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(context.Background(), "", "default", nil)
	assert.Error(t, err)
}
