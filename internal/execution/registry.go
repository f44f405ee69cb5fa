// Package execution performs agent actions through registered handlers.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region outcome

// Outcome is the observable result of a performed action.
// A nil *Outcome means the action had no effect.
type Outcome struct {
	Text string
}

// #endregion outcome

// #region executor

// Executor performs one action. A non-nil error is a collaborator fault.
type Executor interface {
	Perform(ctx context.Context, a agent.Action) (*Outcome, error)
}

// HandlerFunc performs a single action.
type HandlerFunc func(ctx context.Context) (*Outcome, error)

// #endregion executor

// #region registry

// Registry dispatches actions to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[agent.Action]HandlerFunc
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[agent.Action]HandlerFunc),
		logger:   logger.With("component", "execution"),
	}
}

// Register binds h to a, replacing any previous handler.
func (r *Registry) Register(a agent.Action, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[a] = h
}

// Validate checks that every action has a handler.
func (r *Registry) Validate(actions []agent.Action) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range actions {
		if _, ok := r.handlers[a]; !ok {
			return &agent.ConfigError{Field: "actions", Err: fmt.Errorf("%w for %q", agent.ErrNoHandler, a)}
		}
	}
	return nil
}

// Perform runs the handler bound to a.
func (r *Registry) Perform(ctx context.Context, a agent.Action) (*Outcome, error) {
	r.mu.RLock()
	h, ok := r.handlers[a]
	r.mu.RUnlock()
	if !ok {
		return nil, &agent.ConfigError{Field: "action", Err: fmt.Errorf("%w for %q", agent.ErrNoHandler, a)}
	}

	o, err := h(ctx)
	if err != nil {
		return nil, fmt.Errorf("perform %s: %w", a, err)
	}
	if o == nil {
		r.logger.Debug("action had no effect", "action", a)
	} else {
		r.logger.Debug("action performed", "action", a, "outcome", o.Text)
	}
	return o, nil
}

// #endregion registry
