// Package memory records what the agent did and lets handlers recall it.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// DefaultTopK is the number of records Search returns when topK <= 0.
const DefaultTopK = 3

// #region record

// Record is one remembered event.
type Record struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Action    string         `json:"action"`
	Outcome   string         `json:"outcome"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Score     float64        `json:"-"`
}

// Text is the searchable form of the record.
func (r Record) Text() string {
	return strings.TrimSpace(strings.Join([]string{r.Event, r.Action, r.Outcome}, " "))
}

// #endregion record

// #region interface

// Memory stores records and retrieves the most relevant ones for a query.
// An empty query returns the most recent records.
type Memory interface {
	Store(ctx context.Context, r Record) error
	Search(ctx context.Context, query string, topK int) ([]Record, error)
	Close() error
}

// #endregion interface

// #region nop

// Nop is a Memory that remembers nothing.
type Nop struct{}

func (Nop) Store(ctx context.Context, r Record) error { return nil }

func (Nop) Search(ctx context.Context, query string, topK int) ([]Record, error) {
	return nil, nil
}

func (Nop) Close() error { return nil }

// #endregion nop

// #region open

// Backend names a Memory implementation.
type Backend string

const (
	BackendSQLite  Backend = "sqlite"
	BackendLevelDB Backend = "leveldb"
	BackendNone    Backend = "none"
)

// Config selects and locates the memory backend.
type Config struct {
	Backend Backend
	Path    string
}

// Open builds the configured backend.
func Open(cfg Config, logger *slog.Logger) (Memory, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteMemory(cfg.Path, logger)
	case BackendLevelDB:
		return NewLevelMemory(cfg.Path, logger)
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// #endregion open

// #region helpers

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normaliseTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	return topK
}

// #endregion helpers
