package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region file-store

// FileStore keeps the policy table in a single JSON file.
// Writes go to a temp file that is renamed over the target.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore returns a store backed by path. logger may be nil.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger.With("component", "policy_store", "path", path)}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// #endregion file-store

// #region load

// Load reads the table. A missing file yields an empty table.
func (s *FileStore) Load(actions []agent.Action) (QTable, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no persisted policy, starting empty")
		return QTable{}, nil
	}
	if err != nil {
		return nil, &agent.PersistenceError{Op: "load", Path: s.path, Err: err}
	}

	table, dropped, err := decodeTable(data, actions)
	if err != nil {
		return nil, &agent.PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	for _, d := range dropped {
		s.logger.Warn("dropped policy entry", "state", d.State, "reason", d.Reason)
	}
	s.logger.Info("loaded policy", "states", len(table), "dropped", len(dropped))
	return table, nil
}

// #endregion load

// #region save

// Save overwrites the file with the full table.
func (s *FileStore) Save(actions []agent.Action, table QTable) error {
	data, err := encodeTable(actions, table)
	if err != nil {
		return &agent.PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &agent.PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	s.logger.Debug("saved policy", "states", len(table))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// #endregion save
