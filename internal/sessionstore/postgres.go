// internal/sessionstore/postgres.go
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlCreateSessions = `
        CREATE TABLE IF NOT EXISTS tms_sessions (
            profile  TEXT PRIMARY KEY,
            state    JSONB NOT NULL,
            saved_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlSelectSession = `SELECT state, saved_at FROM tms_sessions WHERE profile = $1;`
	sqlUpsertSession = `
        INSERT INTO tms_sessions (profile, state, saved_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (profile) DO UPDATE SET
            state = EXCLUDED.state,
            saved_at = EXCLUDED.saved_at;
    `
)

// PostgresStore keeps one session row per profile, so several accounts can
// share a database.
type PostgresStore struct {
	pool    DBPool
	profile string
	log     *zap.Logger
}

// NewPostgresStore verifies the connection before returning.
func NewPostgresStore(ctx context.Context, pool DBPool, profile string, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if profile == "" {
		profile = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool:    pool,
		profile: profile,
		log:     logger.Named("session_store.postgres"),
	}, nil
}

// EnsureSchema creates the sessions table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateSessions); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (schemas.SessionState, bool) {
	var raw []byte
	var savedAt time.Time
	err := s.pool.QueryRow(ctx, sqlSelectSession, s.profile).Scan(&raw, &savedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.log.Debug("No saved session.", zap.String("profile", s.profile))
		} else {
			s.log.Warn("Failed to load saved session.", zap.String("profile", s.profile), zap.Error(err))
		}
		return schemas.SessionState{}, false
	}

	var state schemas.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Warn("Saved session is corrupt, ignoring it.", zap.String("profile", s.profile), zap.Error(err))
		return schemas.SessionState{}, false
	}
	if state.Empty() {
		return schemas.SessionState{}, false
	}
	state.SavedAt = savedAt
	return state, true
}

func (s *PostgresStore) Save(ctx context.Context, state schemas.SessionState) error {
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sqlUpsertSession, s.profile, raw, state.SavedAt); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.log.Debug("Session saved.", zap.String("profile", s.profile), zap.Int("cookies", len(state.Cookies)))
	return nil
}
