package agent

// #region state

// State is a symbol from the closed set of agent situations.
type State string

const (
	StateDefault          State = "default"
	StateWaitingForSignal State = "waiting_for_signal"
	StateJustAnalyzedNews State = "just_analyzed_news"
	StateJustPosted       State = "just_posted"
)

// States lists every known state in declaration order.
func States() []State {
	return []State{StateDefault, StateWaitingForSignal, StateJustAnalyzedNews, StateJustPosted}
}

// ParseState maps a symbol back to a known State.
func ParseState(s string) (State, bool) {
	for _, st := range States() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// #endregion state

// #region action

// Action is a symbol from the closed set of things the agent can do.
type Action string

const (
	ActionIdle        Action = "idle"
	ActionCheckSignal Action = "check_signal"
	ActionAnalyzeNews Action = "analyze_news"
	ActionPostUpdate  Action = "post_update"
)

// DefaultActions returns the standard ordered action list.
// The order fixes the position of each action in a policy row.
func DefaultActions() []Action {
	return []Action{ActionIdle, ActionCheckSignal, ActionAnalyzeNews, ActionPostUpdate}
}

// ParseAction maps a symbol back to a known Action.
func ParseAction(s string) (Action, bool) {
	for _, a := range DefaultActions() {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// IndexOf returns the position of a in actions, or -1.
func IndexOf(actions []Action, a Action) int {
	for i, candidate := range actions {
		if candidate == a {
			return i
		}
	}
	return -1
}

// #endregion action
