package sessionstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		store, closeFn, err := Open(ctx, config.SessionConfig{Backend: config.SessionBackendNone}, zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, Nop{}, store)
		_, ok := store.Load(ctx)
		assert.False(t, ok)
		assert.NoError(t, store.Save(ctx, sampleState()))
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "auth.json")
		store, closeFn, err := Open(ctx, config.SessionConfig{Backend: config.SessionBackendFile, Path: path}, zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		fs, ok := store.(*FileStore)
		require.True(t, ok)
		assert.Equal(t, path, fs.Path())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sessions.db")
		store, closeFn, err := Open(ctx, config.SessionConfig{Backend: config.SessionBackendSQLite, Path: path, Profile: "p1"}, zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &SQLiteStore{}, store)
		require.NoError(t, store.Save(ctx, sampleState()))
		_, ok := store.Load(ctx)
		assert.True(t, ok)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, closeFn, err := Open(ctx, config.SessionConfig{Backend: "redis"}, zap.NewNop())
		assert.Error(t, err)
		assert.NotNil(t, closeFn)
	})
}
