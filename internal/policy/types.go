package policy

import (
	"fmt"

	"github.com/hiepyeuh/nevron/internal/agent"
)

// #region params

// Params holds the learning parameters. They are fixed once a policy is built.
type Params struct {
	Alpha   float64 // learning rate, (0, 1]
	Gamma   float64 // discount factor, [0, 1]
	Epsilon float64 // exploration probability, [0, 1]
}

// DefaultParams returns the standard learning parameters.
func DefaultParams() Params {
	return Params{
		Alpha:   0.1,
		Gamma:   0.95,
		Epsilon: 0.1,
	}
}

// Validate checks every parameter against its range. NaN fails every check.
func (p Params) Validate() error {
	if !(p.Alpha > 0 && p.Alpha <= 1) {
		return &agent.ConfigError{Field: "alpha", Err: fmt.Errorf("%v not in (0, 1]", p.Alpha)}
	}
	if !(p.Gamma >= 0 && p.Gamma <= 1) {
		return &agent.ConfigError{Field: "gamma", Err: fmt.Errorf("%v not in [0, 1]", p.Gamma)}
	}
	if !(p.Epsilon >= 0 && p.Epsilon <= 1) {
		return &agent.ConfigError{Field: "epsilon", Err: fmt.Errorf("%v not in [0, 1]", p.Epsilon)}
	}
	return nil
}

// #endregion params

// #region transition

// Transition is one (state, action, reward, next state) step fed to Update.
type Transition struct {
	State  agent.State
	Action agent.Action
	Reward float64
	Next   agent.State
}

// #endregion transition

// #region qtable

// QTable maps a state symbol to one value per configured action, in action order.
type QTable map[string][]float64

// Clone returns a deep copy of t.
func (t QTable) Clone() QTable {
	out := make(QTable, len(t))
	for k, row := range t {
		cp := make([]float64, len(row))
		copy(cp, row)
		out[k] = cp
	}
	return out
}

// #endregion qtable

// #region store

// Store loads and saves a full policy table.
// Load returns an empty table and a nil error when nothing was persisted yet.
type Store interface {
	Load(actions []agent.Action) (QTable, error)
	Save(actions []agent.Action, table QTable) error
}

// #endregion store

// #region validate-actions

// ValidateActions rejects an empty or duplicated action list.
func ValidateActions(actions []agent.Action) error {
	if len(actions) == 0 {
		return &agent.ConfigError{Field: "actions", Err: fmt.Errorf("at least one action is required")}
	}
	seen := make(map[agent.Action]struct{}, len(actions))
	for _, a := range actions {
		if a == "" {
			return &agent.ConfigError{Field: "actions", Err: fmt.Errorf("empty action name")}
		}
		if _, dup := seen[a]; dup {
			return &agent.ConfigError{Field: "actions", Err: fmt.Errorf("duplicate action %q", a)}
		}
		seen[a] = struct{}{}
	}
	return nil
}

// #endregion validate-actions
