package agent

// #region machine

// Machine is the agent state machine: a flat one-hop lookup from the last
// action to the next state. It holds no mutable state.
type Machine struct {
	transitions map[Action]State
}

// NewMachine copies transitions into a new Machine.
func NewMachine(transitions map[Action]State) *Machine {
	m := &Machine{transitions: make(map[Action]State, len(transitions))}
	for a, s := range transitions {
		m.transitions[a] = s
	}
	return m
}

// DefaultTransitions returns the standard action → state table.
func DefaultTransitions() map[Action]State {
	return map[Action]State{
		ActionIdle:        StateDefault,
		ActionCheckSignal: StateWaitingForSignal,
		ActionAnalyzeNews: StateJustAnalyzedNews,
		ActionPostUpdate:  StateJustPosted,
	}
}

// Next returns the state reached after last. Unmapped actions fall back to StateDefault.
func (m *Machine) Next(last Action) State {
	if s, ok := m.transitions[last]; ok {
		return s
	}
	return StateDefault
}

// #endregion machine
