package policy

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region schema

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS policy_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	actions_json  TEXT NOT NULL,
	table_json    TEXT NOT NULL,
	state_count   INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES policy_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_policy (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES policy_versions(version_id)
);
`

// createdLayout keeps created_at sortable as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region version

// Version describes one persisted snapshot of the policy table.
type Version struct {
	VersionID  string
	ParentID   string
	Actions    []agent.Action
	StateCount int
	CreatedAt  time.Time
	Active     bool
}

// #endregion version

// #region store-struct

// SQLiteStore keeps every saved table as an immutable version and tracks
// the active one. Saves are transactional, so several writers can share a file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	keep   int
	logger *slog.Logger
}

// SQLiteOption customises a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithKeepVersions bounds how many versions survive each save. The active
// version always survives. n <= 0 keeps every version.
func WithKeepVersions(n int) SQLiteOption {
	return func(s *SQLiteStore) { s.keep = n }
}

// #endregion store-struct

// #region constructor

// NewSQLiteStore opens a SQLite database and runs migrations. logger may be nil.
func NewSQLiteStore(dbPath string, logger *slog.Logger, opts ...SQLiteOption) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &SQLiteStore{
		db:     db,
		path:   dbPath,
		logger: logger.With("component", "policy_store", "path", dbPath),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region load

// Load reads the active version. An empty database yields an empty table.
func (s *SQLiteStore) Load(actions []agent.Action) (QTable, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_policy WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Info("no persisted policy, starting empty")
		return QTable{}, nil
	}
	if err != nil {
		return nil, &agent.PersistenceError{Op: "load", Path: s.path, Err: fmt.Errorf("get active: %w", err)}
	}
	return s.LoadVersion(actions, versionID)
}

// LoadVersion reads a specific version, validated against actions.
func (s *SQLiteStore) LoadVersion(actions []agent.Action, versionID string) (QTable, error) {
	var tableJSON string
	err := s.db.QueryRow(
		`SELECT table_json FROM policy_versions WHERE version_id = ?`, versionID,
	).Scan(&tableJSON)
	if err != nil {
		return nil, &agent.PersistenceError{Op: "load", Path: s.path, Err: fmt.Errorf("get version %s: %w", versionID, err)}
	}

	table, dropped, err := decodeTable([]byte(tableJSON), actions)
	if err != nil {
		return nil, &agent.PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	for _, d := range dropped {
		s.logger.Warn("dropped policy entry", "version", versionID, "state", d.State, "reason", d.Reason)
	}
	s.logger.Info("loaded policy", "version", versionID, "states", len(table), "dropped", len(dropped))
	return table, nil
}

// #endregion load

// #region save

// Save inserts a new version whose parent is the current active one and
// moves the active pointer, in one transaction.
func (s *SQLiteStore) Save(actions []agent.Action, table QTable) error {
	tableJSON, err := encodeTable(actions, table)
	if err != nil {
		return &agent.PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return &agent.PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("marshal actions: %w", err)}
	}

	if err := s.commit(string(actionsJSON), string(tableJSON), len(table)); err != nil {
		return &agent.PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *SQLiteStore) commit(actionsJSON, tableJSON string, stateCount int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr interface{}
	var parentID string
	err = tx.QueryRow(`SELECT version_id FROM active_policy WHERE id = 1`).Scan(&parentID)
	switch {
	case err == nil:
		parentPtr = parentID
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("get active: %w", err)
	}

	id := uuid.New().String()
	_, err = tx.Exec(
		`INSERT INTO policy_versions (version_id, parent_id, actions_json, table_json, state_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, parentPtr, actionsJSON, tableJSON, stateCount, time.Now().UTC().Format(createdLayout),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_policy (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	if s.keep > 0 {
		if err := prune(tx, id, s.keep); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// prunedVersions selects versions outside the newest keep, never the active one.
const prunedVersions = `
SELECT version_id FROM policy_versions
WHERE version_id != ?
  AND version_id NOT IN (
	SELECT version_id FROM policy_versions ORDER BY created_at DESC, rowid DESC LIMIT ?
  )`

// prune deletes old versions. Survivors whose parent is deleted become roots.
func prune(tx *sql.Tx, activeID string, keep int) error {
	if _, err := tx.Exec(
		`UPDATE policy_versions SET parent_id = NULL WHERE parent_id IN (`+prunedVersions+`)`,
		activeID, keep,
	); err != nil {
		return fmt.Errorf("detach pruned parents: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM policy_versions WHERE version_id IN (`+prunedVersions+`)`,
		activeID, keep,
	); err != nil {
		return fmt.Errorf("prune versions: %w", err)
	}
	return nil
}

// #endregion save

// #region rollback

// Rollback sets the active pointer to a previous version.
func (s *SQLiteStore) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM policy_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(`UPDATE active_policy SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions

// ListVersions returns the most recent versions, newest first.
func (s *SQLiteStore) ListVersions(limit int) ([]Version, error) {
	var active string
	err := s.db.QueryRow(`SELECT version_id FROM active_policy WHERE id = 1`).Scan(&active)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get active: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT version_id, parent_id, actions_json, state_count, created_at
		 FROM policy_versions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var parentID sql.NullString
		var actionsJSON string
		var createdStr string
		if err := rows.Scan(&v.VersionID, &parentID, &actionsJSON, &v.StateCount, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if parentID.Valid {
			v.ParentID = parentID.String
		}
		if err := json.Unmarshal([]byte(actionsJSON), &v.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		v.CreatedAt, _ = time.Parse(createdLayout, createdStr)
		v.Active = v.VersionID == active
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// #endregion list-versions
