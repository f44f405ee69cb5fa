package agent

import (
	"errors"
	"fmt"
)

// #region sentinels

var (
	// ErrUnknownAction is returned when an action is not in the configured set.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNoHandler is returned when an action has no registered executor handler.
	ErrNoHandler = errors.New("no handler registered")
)

// #endregion sentinels

// #region persistence-error

// PersistenceError reports a failed load or save of the policy table.
// It is never fatal: callers fall back to an empty or in-memory table.
type PersistenceError struct {
	Op   string // "load" | "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("policy %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// #endregion persistence-error

// #region config-error

// ConfigError reports a programming or configuration defect. It must fail fast.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// #endregion config-error

// #region collaborator-error

// CollaboratorError wraps a fault raised by an external collaborator during a tick.
type CollaboratorError struct {
	Collaborator string // "execution" | "memory"
	Action       Action
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator failed on %s: %v", e.Collaborator, e.Action, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// #endregion collaborator-error
