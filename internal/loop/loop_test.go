package loop

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hiepyeuh/nevron/internal/agent"
	"github.com/hiepyeuh/nevron/internal/execution"
	"github.com/hiepyeuh/nevron/internal/feedback"
	"github.com/hiepyeuh/nevron/internal/memory"
	"github.com/hiepyeuh/nevron/internal/policy"
)

// #region fakes

// captureHandler records every log record.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

type fixedPolicy struct {
	action    agent.Action
	updateErr error
	updates   []policy.Transition
	onUpdate  func(policy.Transition)
}

func (p *fixedPolicy) SelectAction(agent.State) agent.Action { return p.action }

func (p *fixedPolicy) Update(s agent.State, a agent.Action, r float64, next agent.State) error {
	tr := policy.Transition{State: s, Action: a, Reward: r, Next: next}
	if p.onUpdate != nil {
		p.onUpdate(tr)
	}
	if p.updateErr != nil {
		return p.updateErr
	}
	p.updates = append(p.updates, tr)
	return nil
}

// scriptedExecutor runs fn for each call, numbered from 1.
type scriptedExecutor struct {
	calls int
	fn    func(call int, ctx context.Context) (*execution.Outcome, error)
}

func (e *scriptedExecutor) Perform(ctx context.Context, a agent.Action) (*execution.Outcome, error) {
	e.calls++
	return e.fn(e.calls, ctx)
}

type failingMemory struct{ memory.Nop }

func (failingMemory) Store(context.Context, memory.Record) error { return errors.New("disk full") }

type recordingMemory struct {
	memory.Nop
	records []memory.Record
}

func (m *recordingMemory) Store(_ context.Context, r memory.Record) error {
	m.records = append(m.records, r)
	return nil
}

func newLoop(t *testing.T, d Deps, opts Options) (*Loop, *captureHandler) {
	t.Helper()
	h := &captureHandler{}
	d.Logger = slog.New(h)
	if d.Machine == nil {
		d.Machine = agent.NewMachine(agent.DefaultTransitions())
	}
	if d.Scorer == nil {
		d.Scorer = feedback.NewScorer(feedback.DefaultConfig(), d.Logger)
	}
	l, err := New(d, opts)
	require.NoError(t, err)
	return l, h
}

// #endregion fakes

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Options{})
	var ce *agent.ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "policy", ce.Field)

	_, err = New(Deps{
		Policy:   &fixedPolicy{},
		Machine:  agent.NewMachine(nil),
		Executor: &scriptedExecutor{},
		Scorer:   feedback.NewScorer(feedback.DefaultConfig(), nil),
	}, Options{Interval: -1})
	require.ErrorAs(t, err, &ce)
}

func TestFatalExecutionStopsWithoutFurtherTick(t *testing.T) {
	boom := errors.New("executor exploded")
	exec := &scriptedExecutor{fn: func(call int, _ context.Context) (*execution.Outcome, error) {
		if call == 2 {
			return nil, boom
		}
		return &execution.Outcome{Text: "ok"}, nil
	}}
	p := &fixedPolicy{action: agent.ActionCheckSignal}
	l, logs := newLoop(t, Deps{Policy: p, Executor: exec}, Options{})

	status, err := l.Run(context.Background())
	require.Equal(t, StatusStoppedFatal, status)
	require.ErrorIs(t, err, boom)
	var collab *agent.CollaboratorError
	require.ErrorAs(t, err, &collab)
	require.Equal(t, agent.ActionCheckSignal, collab.Action)

	require.Equal(t, 2, exec.calls, "no tick may run after the fatal one")
	require.Equal(t, 1, l.Ticks())
	require.Len(t, p.updates, 1)
	require.Equal(t, 1, logs.count(slog.LevelError))
	require.Equal(t, StatusStoppedFatal, l.Status())
}

func TestCancellationBetweenTicksIsGraceful(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var performCtxErr error
	exec := &scriptedExecutor{fn: func(call int, pctx context.Context) (*execution.Outcome, error) {
		if call == 3 {
			cancel()
			performCtxErr = pctx.Err()
		}
		return &execution.Outcome{Text: "ok"}, nil
	}}
	var statuses []Status
	l, logs := newLoop(t, Deps{Policy: &fixedPolicy{action: agent.ActionIdle}, Executor: exec},
		Options{OnStatus: func(s Status) { statuses = append(statuses, s) }})

	status, err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusStoppedGraceful, status)
	require.Equal(t, 3, exec.calls)
	require.Equal(t, 3, l.Ticks(), "the in-flight tick completes")
	require.NoError(t, performCtxErr, "cancellation must not reach an in-flight action")
	require.Zero(t, logs.count(slog.LevelError))
	require.Equal(t, []Status{StatusRunning, StatusStoppedGraceful}, statuses)
}

func TestCancelledBeforeRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := &scriptedExecutor{fn: func(int, context.Context) (*execution.Outcome, error) { return nil, nil }}
	l, _ := newLoop(t, Deps{Policy: &fixedPolicy{action: agent.ActionIdle}, Executor: exec}, Options{})

	status, err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusStoppedGraceful, status)
	require.Zero(t, exec.calls)
}

func TestCancellationDuringRest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{fn: func(int, context.Context) (*execution.Outcome, error) {
		cancel()
		return nil, nil
	}}
	l, _ := newLoop(t, Deps{Policy: &fixedPolicy{action: agent.ActionIdle}, Executor: exec},
		Options{Interval: DefaultInterval})

	status, err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusStoppedGraceful, status)
	require.Equal(t, 1, exec.calls)
}

func TestPanicInTickIsFatal(t *testing.T) {
	exec := &scriptedExecutor{fn: func(int, context.Context) (*execution.Outcome, error) {
		panic("handler bug")
	}}
	l, logs := newLoop(t, Deps{Policy: &fixedPolicy{action: agent.ActionIdle}, Executor: exec}, Options{})

	status, err := l.Run(context.Background())
	require.Equal(t, StatusStoppedFatal, status)
	require.ErrorContains(t, err, "handler bug")
	require.Equal(t, 1, exec.calls)
	require.Equal(t, 1, logs.count(slog.LevelError))
}

func TestUpdateConfigErrorIsFatal(t *testing.T) {
	exec := &scriptedExecutor{fn: func(int, context.Context) (*execution.Outcome, error) { return nil, nil }}
	p := &fixedPolicy{
		action:    agent.ActionIdle,
		updateErr: &agent.ConfigError{Field: "action", Err: agent.ErrUnknownAction},
	}
	l, _ := newLoop(t, Deps{Policy: p, Executor: exec}, Options{})

	status, err := l.Run(context.Background())
	require.Equal(t, StatusStoppedFatal, status)
	require.ErrorIs(t, err, agent.ErrUnknownAction)
	require.Zero(t, l.Ticks())
}

func TestNextStateAppliedBeforeUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var l *Loop
	var seen []agent.State
	p := &fixedPolicy{action: agent.ActionCheckSignal}
	p.onUpdate = func(tr policy.Transition) {
		seen = append(seen, l.State())
		cancel()
	}
	exec := &scriptedExecutor{fn: func(int, context.Context) (*execution.Outcome, error) { return nil, nil }}
	l, _ = newLoop(t, Deps{Policy: p, Executor: exec}, Options{})

	_, err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []agent.State{agent.StateWaitingForSignal}, seen)
	require.Equal(t, []policy.Transition{{
		State: agent.StateDefault, Action: agent.ActionCheckSignal, Reward: -1, Next: agent.StateWaitingForSignal,
	}}, p.updates)
}

func TestMemoryFailureIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{fn: func(call int, _ context.Context) (*execution.Outcome, error) {
		if call == 2 {
			cancel()
		}
		return &execution.Outcome{Text: "ok"}, nil
	}}
	l, logs := newLoop(t, Deps{Policy: &fixedPolicy{action: agent.ActionIdle}, Executor: exec, Memory: failingMemory{}}, Options{})

	status, err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusStoppedGraceful, status)
	require.Equal(t, 2, l.Ticks())
	require.Equal(t, 2, logs.count(slog.LevelWarn))
}

func TestTickIsTracedAndRemembered(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	mem := &recordingMemory{}

	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{fn: func(int, context.Context) (*execution.Outcome, error) {
		cancel()
		return &execution.Outcome{Text: "news: BTC up"}, nil
	}}
	l, _ := newLoop(t, Deps{
		Policy:   &fixedPolicy{action: agent.ActionCheckSignal},
		Executor: exec,
		Memory:   mem,
		Tracer:   tp.Tracer("test"),
	}, Options{})

	_, err := l.Run(ctx)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "loop.tick", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "default", attrs["agent.state"])
	require.Equal(t, "check_signal", attrs["agent.action"])
	require.Equal(t, "waiting_for_signal", attrs["agent.next_state"])
	require.Equal(t, "1", attrs["agent.reward"])

	require.Len(t, mem.records, 1)
	require.Equal(t, "default", mem.records[0].Event)
	require.Equal(t, "check_signal", mem.records[0].Action)
	require.Equal(t, "news: BTC up", mem.records[0].Outcome)
	require.Equal(t, attrs["tick.id"], mem.records[0].ID)
}

func TestRunWithRealCollaborators(t *testing.T) {
	store := policy.NewFileStore(filepath.Join(t.TempDir(), "q_table.json"), nil)
	pol, err := policy.New(agent.DefaultActions(), policy.Params{Alpha: 0.1, Gamma: 0.95, Epsilon: 0.3}, store,
		policy.WithRand(rand.New(rand.NewPCG(7, 11))))
	require.NoError(t, err)

	reg := execution.NewStandardRegistry(execution.Deps{})
	require.NoError(t, reg.Validate(pol.Actions()))

	machine := agent.NewMachine(agent.DefaultTransitions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var performed []agent.Action
	exec := &scriptedExecutor{}
	exec.fn = func(call int, pctx context.Context) (*execution.Outcome, error) {
		if call == 20 {
			cancel()
		}
		return nil, nil
	}
	wrapped := executorFunc(func(pctx context.Context, a agent.Action) (*execution.Outcome, error) {
		performed = append(performed, a)
		if _, err := exec.Perform(pctx, a); err != nil {
			return nil, err
		}
		return reg.Perform(pctx, a)
	})

	l, logs := newLoop(t, Deps{Policy: pol, Machine: machine, Executor: wrapped}, Options{})
	status, err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusStoppedGraceful, status)
	require.Equal(t, 20, l.Ticks())
	require.Equal(t, machine.Next(performed[len(performed)-1]), l.State())
	require.Zero(t, logs.count(slog.LevelError))

	// learning survives a restart
	reloaded, err := policy.New(agent.DefaultActions(), pol.Params(), policy.NewFileStore(store.Path(), nil))
	require.NoError(t, err)
	require.Equal(t, pol.Snapshot(), reloaded.Snapshot())
}

type executorFunc func(ctx context.Context, a agent.Action) (*execution.Outcome, error)

func (f executorFunc) Perform(ctx context.Context, a agent.Action) (*execution.Outcome, error) {
	return f(ctx, a)
}
