package logging

import (
	"context"
	"log/slog"
)

// #region decision-entry

// DecisionEntry is the record of one completed tick.
type DecisionEntry struct {
	TickID    string
	Tick      int
	State     string
	Action    string
	Outcome   string
	Reward    float64
	NextState string
}

// #endregion decision-entry

// #region log-decision

// LogDecision writes one structured "decision" record. Empty fields are omitted.
func LogDecision(ctx context.Context, logger *slog.Logger, e DecisionEntry) {
	attrs := []slog.Attr{
		slog.Int("tick", e.Tick),
		slog.String("state", e.State),
		slog.String("action", e.Action),
		slog.Float64("reward", e.Reward),
		slog.String("next_state", e.NextState),
	}
	attrs = appendIfSet(attrs, "tick_id", e.TickID)
	attrs = appendIfSet(attrs, "outcome", e.Outcome)
	logger.LogAttrs(ctx, slog.LevelInfo, "decision", attrs...)
}

func appendIfSet(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

// #endregion log-decision
