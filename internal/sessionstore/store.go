// internal/sessionstore/store.go
package sessionstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/config"
)

// Store persists the authenticated browser state between runs. Load never
// fails: anything unreadable is reported as absent.
type Store interface {
	Load(ctx context.Context) (schemas.SessionState, bool)
	Save(ctx context.Context, state schemas.SessionState) error
}

// Open builds the store selected by cfg.Backend. The returned close function
// is always non-nil.
func Open(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.SessionBackendNone:
		return Nop{}, noop, nil
	case config.SessionBackendFile, "":
		s, err := NewFileStore(cfg.Path, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case config.SessionBackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create database pool: %w", err)
		}
		s, err := NewPostgresStore(ctx, pool, cfg.Profile, logger)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return s, pool.Close, nil
	case config.SessionBackendSQLite:
		s, err := NewSQLiteStore(ctx, cfg.Path, cfg.Profile, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close session database.", zap.Error(err))
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}
}

// Nop never remembers anything.
type Nop struct{}

func (Nop) Load(context.Context) (schemas.SessionState, bool) { return schemas.SessionState{}, false }
func (Nop) Save(context.Context, schemas.SessionState) error  { return nil }
