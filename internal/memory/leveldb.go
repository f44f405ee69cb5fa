package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key scheme: m|<created_at unix nanos, zero padded>|<id> → Record JSON.
// The padding keeps iteration order chronological.
const prefixRecord = "m|"

// #region level-memory

// LevelMemory keeps records in LevelDB and ranks them by token overlap.
// LevelDB is single-writer: one process per directory.
type LevelMemory struct {
	db     *leveldb.DB
	logger *slog.Logger
}

// NewLevelMemory opens (or creates) a LevelDB directory at dbPath. logger may be nil.
func NewLevelMemory(dbPath string, logger *slog.Logger) (*LevelMemory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dbPath, err)
	}
	l := &LevelMemory{db: db, logger: logger.With("component", "memory", "backend", "leveldb")}
	l.logger.Info("memory store opened", "path", dbPath)
	return l, nil
}

// Close closes the database.
func (l *LevelMemory) Close() error {
	return l.db.Close()
}

func recordKey(r Record) []byte {
	return []byte(fmt.Sprintf("%s%020d|%s", prefixRecord, r.CreatedAt.UnixNano(), r.ID))
}

// #endregion level-memory

// #region store

// Store writes r. A missing ID or CreatedAt is filled in.
func (l *LevelMemory) Store(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := l.db.Put(recordKey(r), val, nil); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// #endregion store

// #region search

// Search scores each record by the share of query tokens found in its text,
// newest first among equal scores. Records with no overlap are skipped.
func (l *LevelMemory) Search(ctx context.Context, query string, topK int) ([]Record, error) {
	topK = normaliseTopK(topK)
	terms := queryTerms(query)

	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixRecord)), nil)
	defer iter.Release()

	var out []Record
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			l.logger.Warn("skipping corrupt record", "key", string(iter.Key()), "error", err)
			continue
		}
		if len(terms) == 0 {
			out = append(out, r)
			if len(out) == topK {
				break
			}
			continue
		}
		if r.Score = overlap(terms, tokenize(r.Text())); r.Score > 0 {
			out = append(out, r)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func overlap(terms, text []string) float64 {
	present := make(map[string]struct{}, len(text))
	for _, t := range text {
		present[t] = struct{}{}
	}
	var hits int
	for _, t := range terms {
		if _, ok := present[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// #endregion search
