// internal/sessionstore/sqlite.go
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

const (
	sqliteCreateSessions = `
        CREATE TABLE IF NOT EXISTS tms_sessions (
            profile  TEXT PRIMARY KEY,
            state    TEXT NOT NULL,
            saved_at TEXT NOT NULL
        );
    `
	sqliteSelectSession = `SELECT state, saved_at FROM tms_sessions WHERE profile = ?;`
	sqliteUpsertSession = `
        INSERT INTO tms_sessions (profile, state, saved_at)
        VALUES (?, ?, ?)
        ON CONFLICT (profile) DO UPDATE SET
            state = excluded.state,
            saved_at = excluded.saved_at;
    `
)

// SQLiteStore is the single-file database variant of PostgresStore, for
// machines that run several profiles without a database server.
type SQLiteStore struct {
	db      *sql.DB
	profile string
	log     *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path, profile string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite session store requires a path")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding session path %q: %w", path, err)
	}
	if dir := filepath.Dir(expanded); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating session dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", expanded))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteCreateSessions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	if profile == "" {
		profile = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		db:      db,
		profile: profile,
		log:     logger.Named("session_store.sqlite"),
	}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (schemas.SessionState, bool) {
	var raw, savedAt string
	err := s.db.QueryRowContext(ctx, sqliteSelectSession, s.profile).Scan(&raw, &savedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Debug("No saved session.", zap.String("profile", s.profile))
		} else {
			s.log.Warn("Failed to load saved session.", zap.String("profile", s.profile), zap.Error(err))
		}
		return schemas.SessionState{}, false
	}

	var state schemas.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.log.Warn("Saved session is corrupt, ignoring it.", zap.String("profile", s.profile), zap.Error(err))
		return schemas.SessionState{}, false
	}
	if state.Empty() {
		return schemas.SessionState{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
		state.SavedAt = t
	}
	return state, true
}

func (s *SQLiteStore) Save(ctx context.Context, state schemas.SessionState) error {
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	savedAt := state.SavedAt.UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSession, s.profile, string(raw), savedAt); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.log.Debug("Session saved.", zap.String("profile", s.profile), zap.Int("cookies", len(state.Cookies)))
	return nil
}
