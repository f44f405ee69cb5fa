package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region sqlite-memory

// SQLiteMemory keeps records in SQLite with an FTS5 index over their text.
type SQLiteMemory struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewSQLiteMemory opens (or creates) the database at dbPath. logger may be nil.
func NewSQLiteMemory(dbPath string, logger *slog.Logger) (*SQLiteMemory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	m := &SQLiteMemory{db: db, logger: logger.With("component", "memory", "backend", "sqlite")}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m.logger.Info("memory store opened", "path", dbPath)
	return m, nil
}

func (m *SQLiteMemory) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id            TEXT PRIMARY KEY,
			event         TEXT NOT NULL,
			action        TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			metadata_json TEXT,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_records(created_at)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			text,
			id UNINDEXED,
			tokenize='porter unicode61'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Close closes the database.
func (m *SQLiteMemory) Close() error {
	return m.db.Close()
}

// #endregion sqlite-memory

// #region store

// Store inserts r and its FTS entry in one transaction.
// A missing ID or CreatedAt is filled in.
func (m *SQLiteMemory) Store(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	var metaJSON *string
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		s := string(b)
		metaJSON = &s
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_records (id, event, action, outcome, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Event, r.Action, r.Outcome, metaJSON, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memory_fts (text, id) VALUES (?, ?)`, r.Text(), r.ID); err != nil {
		return fmt.Errorf("insert fts: %w", err)
	}
	return tx.Commit()
}

// #endregion store

// #region search

// Search ranks records by BM25 against query. Score is normalised to (0, 1].
func (m *SQLiteMemory) Search(ctx context.Context, query string, topK int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topK = normaliseTopK(topK)
	match := ftsQuery(query)
	if match == "" {
		return m.recent(ctx, topK)
	}

	rows, err := m.db.QueryContext(ctx,
		`SELECT r.id, r.event, r.action, r.outcome, r.metadata_json, r.created_at, f.score
		 FROM (
			SELECT id, bm25(memory_fts) AS rk, 1.0 / (1.0 + abs(bm25(memory_fts))) AS score
			FROM memory_fts WHERE memory_fts MATCH ?
			ORDER BY rk LIMIT ?
		 ) f
		 JOIN memory_records r ON r.id = f.id
		 ORDER BY f.rk, r.created_at DESC`,
		match, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows, true)
}

func (m *SQLiteMemory) recent(ctx context.Context, topK int) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, event, action, outcome, metadata_json, created_at
		 FROM memory_records ORDER BY created_at DESC, rowid DESC LIMIT ?`, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("recent query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows, false)
}

func scanRecords(rows *sql.Rows, withScore bool) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var meta sql.NullString
		var created int64
		dest := []any{&r.ID, &r.Event, &r.Action, &r.Outcome, &meta, &created}
		if withScore {
			dest = append(dest, &r.Score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR query of quoted tokens.
func ftsQuery(query string) string {
	tokens := queryTerms(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// #endregion search
