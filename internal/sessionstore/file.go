// internal/sessionstore/file.go
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// FileStore keeps the session as a JSON document on local disk.
type FileStore struct {
	path string
	log  *zap.Logger
}

// NewFileStore expands a leading ~ in path.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session file path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding session path %q: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: expanded, log: logger.Named("session_store.file")}, nil
}

// Path is the resolved file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (schemas.SessionState, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("No saved session.", zap.String("path", s.path))
		} else {
			s.log.Warn("Saved session is unreadable.", zap.String("path", s.path), zap.Error(err))
		}
		return schemas.SessionState{}, false
	}

	var state schemas.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Warn("Saved session is corrupt, ignoring it.", zap.String("path", s.path), zap.Error(err))
		return schemas.SessionState{}, false
	}
	if state.Empty() {
		return schemas.SessionState{}, false
	}
	s.log.Debug("Loaded saved session.", zap.Int("cookies", len(state.Cookies)))
	return state, true
}

// Save replaces the file atomically so a crash never leaves a half-written
// session behind.
func (s *FileStore) Save(ctx context.Context, state schemas.SessionState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("creating temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing session: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restricting session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}

	s.log.Debug("Session saved.", zap.String("path", s.path), zap.Int("cookies", len(state.Cookies)))
	return nil
}
