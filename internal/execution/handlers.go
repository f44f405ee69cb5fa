package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/memory"
	"github.com/hiepyeuh/nevron/internal/signals"
)

// newsPrefix marks check_signal outcomes so analyze_news can find them in memory.
const newsPrefix = "news: "

// maxPostRunes caps the length of a published update.
const maxPostRunes = 280

// headlineLookback is how many recent memories analyze_news scans for a headline.
const headlineLookback = 50

// #region notes

// Notes carries results between handlers across ticks.
type Notes struct {
	mu       sync.Mutex
	headline string
	analysis string
}

func (n *Notes) setHeadline(s string) {
	n.mu.Lock()
	n.headline = s
	n.mu.Unlock()
}

func (n *Notes) takeHeadline() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.headline
	n.headline = ""
	return s
}

func (n *Notes) setAnalysis(s string) {
	n.mu.Lock()
	n.analysis = s
	n.mu.Unlock()
}

func (n *Notes) takeAnalysis() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.analysis
	n.analysis = ""
	return s
}

// #endregion notes

// #region collaborators

// Analyzer turns a headline and recent memories into a short analysis.
type Analyzer interface {
	Analyze(ctx context.Context, news string, recent []memory.Record) (string, error)
}

// Publisher posts an update and returns its identifier.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// TemplateAnalyzer produces a deterministic analysis without a language model.
type TemplateAnalyzer struct{}

func (TemplateAnalyzer) Analyze(ctx context.Context, news string, recent []memory.Record) (string, error) {
	var b strings.Builder
	b.WriteString(news)
	if len(recent) > 0 {
		fmt.Fprintf(&b, " (context: %d recent events, last %q)", len(recent), recent[0].Action)
	}
	return b.String(), nil
}

// LogPublisher writes updates to the log instead of a messaging platform.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, text string) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	logger.InfoContext(ctx, "update published", "id", id, "text", text)
	return id, nil
}

// #endregion collaborators

// #region handlers

// Deps are the collaborators shared by the standard handlers.
type Deps struct {
	Source    signals.Source
	Memory    memory.Memory
	Analyzer  Analyzer
	Publisher Publisher
	Logger    *slog.Logger
}

// NewStandardRegistry registers idle, check_signal, analyze_news and post_update.
func NewStandardRegistry(d Deps) *Registry {
	if d.Source == nil {
		d.Source = signals.Disabled{}
	}
	if d.Memory == nil {
		d.Memory = memory.Nop{}
	}
	if d.Analyzer == nil {
		d.Analyzer = TemplateAnalyzer{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = LogPublisher{Logger: d.Logger}
	}

	r := NewRegistry(d.Logger)
	notes := &Notes{}
	logger := d.Logger.With("component", "handlers")

	r.Register(agent.ActionIdle, Idle)
	r.Register(agent.ActionCheckSignal, CheckSignal(d.Source, notes, logger))
	r.Register(agent.ActionAnalyzeNews, AnalyzeNews(d.Memory, d.Analyzer, notes, logger))
	r.Register(agent.ActionPostUpdate, PostUpdate(d.Publisher, notes, logger))
	return r
}

// Idle does nothing and says so.
func Idle(ctx context.Context) (*Outcome, error) {
	return &Outcome{Text: "idle"}, nil
}

// CheckSignal fetches a signal and remembers an actionable headline.
func CheckSignal(src signals.Source, notes *Notes, logger *slog.Logger) HandlerFunc {
	return func(ctx context.Context) (*Outcome, error) {
		sig, err := src.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch signal: %w", err)
		}
		if !sig.Actionable() {
			logger.Info("no actionable signal", "status", sig.Status)
			return nil, nil
		}
		logger.Info("actionable signal received", "news", sig.News)
		notes.setHeadline(sig.News)
		return &Outcome{Text: newsPrefix + sig.News}, nil
	}
}

// AnalyzeNews analyzes the latest headline, falling back to the newest
// remembered one. Analyzer failures leave the action without effect.
func AnalyzeNews(mem memory.Memory, analyzer Analyzer, notes *Notes, logger *slog.Logger) HandlerFunc {
	return func(ctx context.Context) (*Outcome, error) {
		news := notes.takeHeadline()
		if news == "" {
			var err error
			if news, err = rememberedHeadline(ctx, mem); err != nil {
				return nil, err
			}
		}
		if news == "" {
			logger.Info("no news to analyze")
			return nil, nil
		}

		recent, err := mem.Search(ctx, "", memory.DefaultTopK)
		if err != nil {
			return nil, fmt.Errorf("search recent: %w", err)
		}
		analysis, err := analyzer.Analyze(ctx, news, recent)
		if err != nil {
			logger.Warn("analysis failed", "error", err)
			return nil, nil
		}
		notes.setAnalysis(analysis)
		return &Outcome{Text: "analysis: " + analysis}, nil
	}
}

// rememberedHeadline returns the newest check_signal headline among the
// most recent memories, or "" if there is none.
func rememberedHeadline(ctx context.Context, mem memory.Memory) (string, error) {
	recent, err := mem.Search(ctx, "", headlineLookback)
	if err != nil {
		return "", fmt.Errorf("search news: %w", err)
	}
	for _, r := range recent {
		if r.Action == string(agent.ActionCheckSignal) && strings.HasPrefix(r.Outcome, newsPrefix) {
			return strings.TrimPrefix(r.Outcome, newsPrefix), nil
		}
	}
	return "", nil
}

// PostUpdate publishes the pending analysis, if any.
func PostUpdate(pub Publisher, notes *Notes, logger *slog.Logger) HandlerFunc {
	return func(ctx context.Context) (*Outcome, error) {
		analysis := notes.takeAnalysis()
		if analysis == "" {
			logger.Info("nothing to post")
			return nil, nil
		}
		id, err := pub.Publish(ctx, truncateRunes("Breaking News:\n"+analysis, maxPostRunes))
		if err != nil {
			logger.Warn("publish failed", "error", err)
			return nil, nil
		}
		return &Outcome{Text: "posted " + id}, nil
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// #endregion handlers
