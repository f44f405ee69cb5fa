package feedback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/execution"
)

// #region status

// Status labels a scored outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusNeutral Status = "neutral"
)

// #endregion status

// #region config

// Config holds the reward contract.
type Config struct {
	FailureReward float64                  // reward for a nil outcome
	SuccessReward float64                  // reward for any non-nil outcome
	ActionRewards map[agent.Action]float64 // per-action override of SuccessReward
	HistorySize   int                      // ring capacity
}

// DefaultConfig returns the baseline contract: -1 for nothing, +1 for anything.
func DefaultConfig() Config {
	return Config{
		FailureReward: -1.0,
		SuccessReward: 1.0,
		HistorySize:   100,
	}
}

// #endregion config

// #region entry

// Entry is one scored outcome.
type Entry struct {
	Action  agent.Action
	Outcome string
	Score   float64
	Status  Status
	At      time.Time
}

// #endregion entry

// #region scorer

// Scorer maps an action outcome to a scalar reward and keeps a bounded history.
// Score is deterministic; History is safe to read from other goroutines.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	ring    []Entry
	next    int
	wrapped bool
}

// NewScorer creates a Scorer. logger may be nil.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	rewards := make(map[agent.Action]float64, len(cfg.ActionRewards))
	for a, r := range cfg.ActionRewards {
		rewards[a] = r
	}
	cfg.ActionRewards = rewards
	return &Scorer{
		cfg:    cfg,
		logger: logger.With("component", "feedback"),
		now:    time.Now,
		ring:   make([]Entry, cfg.HistorySize),
	}
}

// Score returns the reward for a having produced o and records it.
func (s *Scorer) Score(a agent.Action, o *execution.Outcome) float64 {
	e := Entry{Action: a, At: s.now()}
	switch {
	case o == nil:
		e.Score, e.Status = s.cfg.FailureReward, StatusFailure
	default:
		e.Outcome = o.Text
		e.Score, e.Status = s.cfg.SuccessReward, StatusSuccess
		if r, ok := s.cfg.ActionRewards[a]; ok {
			e.Score = r
			if r == 0 {
				e.Status = StatusNeutral
			}
		}
	}

	s.mu.Lock()
	s.ring[s.next] = e
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.wrapped = true
	}
	s.mu.Unlock()

	s.logger.Debug("scored outcome", "action", a, "status", e.Status, "score", e.Score)
	return e.Score
}

// History returns up to limit most recent entries, oldest first.
// limit <= 0 returns everything retained.
func (s *Scorer) History(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Entry
	if s.wrapped {
		all = append(all, s.ring[s.next:]...)
	}
	all = append(all, s.ring[:s.next]...)

	if limit > 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	return all
}

// Reset clears the history.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ring)
	s.next = 0
	s.wrapped = false
}

// #endregion scorer
