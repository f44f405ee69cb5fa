// Package loop runs the select, act, score, learn cycle.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/execution"
	"github.com/hiepyeuh/nevron/internal/logging"
	"github.com/hiepyeuh/nevron/internal/memory"
)

// DefaultInterval is the rest time between ticks.
const DefaultInterval = 5 * time.Second

// #region status

// Status is the lifecycle condition of a Loop.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusRunning         Status = "running"
	StatusStoppedGraceful Status = "stopped_graceful"
	StatusStoppedFatal    Status = "stopped_fatal"
)

// #endregion status

// #region deps

// Policy chooses actions and learns from transitions.
type Policy interface {
	SelectAction(s agent.State) agent.Action
	Update(s agent.State, a agent.Action, reward float64, next agent.State) error
}

// Scorer turns an outcome into a reward.
type Scorer interface {
	Score(a agent.Action, o *execution.Outcome) float64
}

// Deps are the collaborators of a Loop. Memory, Logger and Tracer are optional.
type Deps struct {
	Policy   Policy
	Machine  *agent.Machine
	Executor execution.Executor
	Scorer   Scorer
	Memory   memory.Memory
	Logger   *slog.Logger
	Tracer   trace.Tracer
}

// Options tune a Loop.
type Options struct {
	Interval     time.Duration
	InitialState agent.State
	OnStatus     func(Status) // called on every status change
}

// #endregion deps

// #region loop

// Loop drives one agent. Run must be called at most once.
type Loop struct {
	policy   Policy
	machine  *agent.Machine
	exec     execution.Executor
	scorer   Scorer
	memory   memory.Memory
	logger   *slog.Logger
	tracer   trace.Tracer
	interval time.Duration
	onStatus func(Status)

	mu     sync.RWMutex
	state  agent.State
	status Status
	ticks  int
}

// New wires a Loop. Missing required collaborators are a ConfigError.
func New(d Deps, opts Options) (*Loop, error) {
	switch {
	case d.Policy == nil:
		return nil, &agent.ConfigError{Field: "policy", Err: errors.New("required")}
	case d.Machine == nil:
		return nil, &agent.ConfigError{Field: "machine", Err: errors.New("required")}
	case d.Executor == nil:
		return nil, &agent.ConfigError{Field: "executor", Err: errors.New("required")}
	case d.Scorer == nil:
		return nil, &agent.ConfigError{Field: "scorer", Err: errors.New("required")}
	}
	if opts.Interval < 0 {
		return nil, &agent.ConfigError{Field: "rest_interval", Err: fmt.Errorf("negative interval %s", opts.Interval)}
	}
	if d.Memory == nil {
		d.Memory = memory.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.InitialState == "" {
		opts.InitialState = agent.StateDefault
	}

	return &Loop{
		policy:   d.Policy,
		machine:  d.Machine,
		exec:     d.Executor,
		scorer:   d.Scorer,
		memory:   d.Memory,
		logger:   d.Logger.With("component", "loop"),
		tracer:   d.Tracer,
		interval: opts.Interval,
		onStatus: opts.OnStatus,
		state:    opts.InitialState,
		status:   StatusIdle,
	}, nil
}

// State returns the current agent state.
func (l *Loop) State() agent.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ticks
}

// Status returns the lifecycle status.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Loop) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
	if l.onStatus != nil {
		l.onStatus(s)
	}
}

// #endregion loop

// #region run

// Run ticks until ctx is cancelled or a tick fails. Cancellation is observed
// only between ticks; an in-flight action always completes.
func (l *Loop) Run(ctx context.Context) (Status, error) {
	l.setStatus(StatusRunning)
	l.logger.Info("decision loop started", "state", l.State(), "interval", l.interval)

	for {
		if ctx.Err() != nil {
			return l.stopGraceful(), nil
		}
		if err := l.tick(ctx); err != nil {
			l.setStatus(StatusStoppedFatal)
			l.logger.Error("decision loop stopped", "error", err, "ticks", l.Ticks(), "state", l.State())
			return StatusStoppedFatal, err
		}
		if !l.rest(ctx) {
			return l.stopGraceful(), nil
		}
	}
}

func (l *Loop) stopGraceful() Status {
	l.setStatus(StatusStoppedGraceful)
	l.logger.Info("decision loop stopped by request", "ticks", l.Ticks(), "state", l.State())
	return StatusStoppedGraceful
}

// rest waits for the interval. It reports false when ctx ends first.
func (l *Loop) rest(ctx context.Context) bool {
	if l.interval == 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(l.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// #endregion run

// #region tick

// tick runs one select, act, score, learn cycle. A panic becomes an error.
func (l *Loop) tick(ctx context.Context) (err error) {
	ctx, span := l.tracer.Start(ctx, "loop.tick")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()

	tickID := uuid.New().String()
	s := l.State()
	a := l.policy.SelectAction(s)
	span.SetAttributes(
		attribute.String("tick.id", tickID),
		attribute.String("agent.state", string(s)),
		attribute.String("agent.action", string(a)),
	)

	// in-flight actions are never interrupted by shutdown
	o, err := l.exec.Perform(context.WithoutCancel(ctx), a)
	if err != nil {
		return &agent.CollaboratorError{Collaborator: "execution", Action: a, Err: err}
	}

	r := l.scorer.Score(a, o)
	next := l.machine.Next(a)

	l.mu.Lock()
	l.state = next
	l.mu.Unlock()

	if err := l.policy.Update(s, a, r, next); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}

	l.mu.Lock()
	l.ticks++
	tick := l.ticks
	l.mu.Unlock()

	outcome := ""
	if o != nil {
		outcome = o.Text
	}
	span.SetAttributes(
		attribute.Float64("agent.reward", r),
		attribute.String("agent.next_state", string(next)),
	)
	logging.LogDecision(ctx, l.logger, logging.DecisionEntry{
		TickID:    tickID,
		Tick:      tick,
		State:     string(s),
		Action:    string(a),
		Outcome:   outcome,
		Reward:    r,
		NextState: string(next),
	})
	l.remember(context.WithoutCancel(ctx), tickID, s, a, outcome, r, next)
	return nil
}

// remember stores the tick in memory. Failures are logged and ignored.
func (l *Loop) remember(ctx context.Context, tickID string, s agent.State, a agent.Action, outcome string, r float64, next agent.State) {
	rec := memory.Record{
		ID:      tickID,
		Event:   string(s),
		Action:  string(a),
		Outcome: outcome,
		Metadata: map[string]any{
			"reward":     r,
			"next_state": string(next),
		},
	}
	if err := l.memory.Store(ctx, rec); err != nil {
		l.logger.Warn("memory store failed", "error", &agent.CollaboratorError{Collaborator: "memory", Action: a, Err: err})
	}
}

// #endregion tick
