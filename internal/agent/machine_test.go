package agent

import (
	"errors"
	"testing"
)

func TestMachineDefaultTransitions(t *testing.T) {
	m := NewMachine(DefaultTransitions())

	cases := []struct {
		action Action
		want   State
	}{
		{ActionCheckSignal, StateWaitingForSignal},
		{ActionIdle, StateDefault},
		{ActionAnalyzeNews, StateJustAnalyzedNews},
		{ActionPostUpdate, StateJustPosted},
		{Action("unmapped_action"), StateDefault},
		{Action(""), StateDefault},
	}
	for _, tc := range cases {
		if got := m.Next(tc.action); got != tc.want {
			t.Errorf("Next(%q) = %q, want %q", tc.action, got, tc.want)
		}
	}
}

func TestMachineIsolatedFromCallerMap(t *testing.T) {
	table := map[Action]State{ActionCheckSignal: StateWaitingForSignal}
	m := NewMachine(table)
	table[ActionCheckSignal] = StateJustPosted

	if got := m.Next(ActionCheckSignal); got != StateWaitingForSignal {
		t.Fatalf("machine changed after caller mutation: got %q", got)
	}
}

func TestMachineDeterministic(t *testing.T) {
	m := NewMachine(DefaultTransitions())
	for i := 0; i < 100; i++ {
		if m.Next(ActionAnalyzeNews) != StateJustAnalyzedNews {
			t.Fatal("non-deterministic transition")
		}
	}
}

func TestParseStateAndAction(t *testing.T) {
	if s, ok := ParseState("waiting_for_signal"); !ok || s != StateWaitingForSignal {
		t.Fatalf("ParseState: got %q, %v", s, ok)
	}
	if _, ok := ParseState("nope"); ok {
		t.Fatal("expected unknown state")
	}
	if a, ok := ParseAction("post_update"); !ok || a != ActionPostUpdate {
		t.Fatalf("ParseAction: got %q, %v", a, ok)
	}
	if IndexOf(DefaultActions(), ActionAnalyzeNews) != 2 {
		t.Fatal("unexpected index for analyze_news")
	}
	if IndexOf(DefaultActions(), Action("x")) != -1 {
		t.Fatal("expected -1 for unknown action")
	}
}

func TestErrorUnwrapping(t *testing.T) {
	cfgErr := &ConfigError{Field: "action", Err: ErrUnknownAction}
	if !errors.Is(cfgErr, ErrUnknownAction) {
		t.Fatal("ConfigError should unwrap to ErrUnknownAction")
	}

	cause := errors.New("boom")
	collabErr := &CollaboratorError{Collaborator: "execution", Action: ActionIdle, Err: cause}
	if !errors.Is(collabErr, cause) {
		t.Fatal("CollaboratorError should unwrap to cause")
	}

	var pe *PersistenceError
	wrapped := error(&PersistenceError{Op: "save", Path: "q.json", Err: cause})
	if !errors.As(wrapped, &pe) || pe.Op != "save" {
		t.Fatal("expected PersistenceError via errors.As")
	}
}
