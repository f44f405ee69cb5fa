// Package logging builds the process logger and the per-decision log record.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// #region options

// Options configures New.
type Options struct {
	Level  string    // debug | info | warn | error
	File   string    // optional JSON log file, appended to
	Writer io.Writer // terminal output, defaults to stderr
}

// #endregion options

// #region new

// New builds a logger that fans out to the terminal (text), an optional
// JSON file and, when running as a systemd service, the journal.
// The returned close func releases the log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	level.Set(lvl)

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var handlers []slog.Handler
	closeFn := func() error { return nil }

	var terminal slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	if isSystemdService() {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        level,
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "new systemd journal handler", 0)
			record.Add("error", err)
			_ = terminal.Handle(context.Background(), record)
			handlers = append(handlers, terminal)
		} else {
			handlers = append(handlers, journal)
		}
	} else {
		handlers = append(handlers, terminal)
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closeFn = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// #endregion new

// #region journal

func isSystemdService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(strings.TrimSpace(string(content)), ":")
	if len(parts) < 3 {
		return false
	}
	return strings.HasSuffix(path.Dir(parts[2]), ".service")
}

func toJournalKey(str string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(str))
}

// #endregion journal
