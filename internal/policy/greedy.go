package policy

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region policy-struct

// EpsilonGreedy is a tabular Q-learning policy with epsilon-greedy selection.
// It is not safe for concurrent use; the decision loop owns it.
type EpsilonGreedy struct {
	actions []agent.Action
	params  Params
	table   QTable
	store   Store
	rng     *rand.Rand
	logger  *slog.Logger
}

// Option customises an EpsilonGreedy at construction.
type Option func(*EpsilonGreedy)

// WithRand injects the random source used for exploration and tie-breaks.
func WithRand(r *rand.Rand) Option {
	return func(p *EpsilonGreedy) { p.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *EpsilonGreedy) { p.logger = l }
}

// #endregion policy-struct

// #region constructor

// New validates the configuration and loads the persisted table from store.
// A nil store keeps the table in memory only. Load failures are logged and
// the policy starts from an empty table.
func New(actions []agent.Action, params Params, store Store, opts ...Option) (*EpsilonGreedy, error) {
	if err := ValidateActions(actions); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	p := &EpsilonGreedy{
		actions: append([]agent.Action(nil), actions...),
		params:  params,
		table:   QTable{},
		store:   store,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "policy")

	if store != nil {
		table, err := store.Load(p.actions)
		if err != nil {
			p.logger.Error("policy load failed, starting empty", "error", err)
		} else {
			p.table = table
		}
	}
	return p, nil
}

// #endregion constructor

// #region accessors

// Actions returns a copy of the configured action list.
func (p *EpsilonGreedy) Actions() []agent.Action {
	return append([]agent.Action(nil), p.actions...)
}

// Params returns the learning parameters.
func (p *EpsilonGreedy) Params() Params {
	return p.params
}

// Values returns a copy of the row for s, creating a zero row if absent.
func (p *EpsilonGreedy) Values(s agent.State) []float64 {
	return append([]float64(nil), p.row(s)...)
}

// Snapshot returns a deep copy of the whole table.
func (p *EpsilonGreedy) Snapshot() QTable {
	return p.table.Clone()
}

// row returns the live row for s, inserting a zero vector on first touch.
func (p *EpsilonGreedy) row(s agent.State) []float64 {
	r, ok := p.table[string(s)]
	if !ok {
		r = make([]float64, len(p.actions))
		p.table[string(s)] = r
	}
	return r
}

// #endregion accessors

// #region select-action

// SelectAction explores uniformly with probability epsilon; otherwise it
// picks uniformly among the actions sharing the highest value for s.
func (p *EpsilonGreedy) SelectAction(s agent.State) agent.Action {
	values := p.row(s)

	if p.rng.Float64() < p.params.Epsilon {
		return p.actions[p.rng.IntN(len(p.actions))]
	}

	best := maxIndices(values)
	return p.actions[best[p.rng.IntN(len(best))]]
}

// #endregion select-action

// #region update

// Update applies the Q-learning correction for one transition and persists
// the full table. An action outside the configured set, a non-finite reward
// or a non-finite result is rejected before anything changes. Save failures
// are logged; the in-memory table stays authoritative until the next
// successful save.
func (p *EpsilonGreedy) Update(s agent.State, a agent.Action, reward float64, next agent.State) error {
	i := agent.IndexOf(p.actions, a)
	if i < 0 {
		return &agent.ConfigError{Field: "action", Err: fmt.Errorf("%w: %q", agent.ErrUnknownAction, a)}
	}
	if !isFinite(reward) {
		return &agent.ConfigError{Field: "reward", Err: fmt.Errorf("non-finite reward %v for %q", reward, a)}
	}

	current := p.row(s)
	maxNext := maxValue(p.row(next))
	v := tdUpdate(current[i], reward, maxNext, p.params)
	if !isFinite(v) {
		return &agent.ConfigError{Field: "reward", Err: fmt.Errorf("update of %s/%s overflows to %v", s, a, v)}
	}
	current[i] = v

	p.persist()
	return nil
}

func (p *EpsilonGreedy) persist() {
	if p.store == nil {
		return
	}
	if err := p.store.Save(p.actions, p.table); err != nil {
		p.logger.Warn("policy save failed, keeping in-memory table", "error", err)
	}
}

// #endregion update
