package core

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when an operation targets a session id that
// was never created (or has been deleted). Stores never create sessions
// implicitly.
var ErrSessionNotFound = errors.New("session not found")

// UnknownEventActionError reports a stored action tag outside the closed
// variant set. It signals data corruption and is never coerced.
type UnknownEventActionError struct {
	Action string
}

func (e *UnknownEventActionError) Error() string {
	return fmt.Sprintf("unknown context event action: %q", e.Action)
}

// CollaboratorError wraps a failure of an external collaborator (summarizer,
// retriever, structured memory provider, artifact resolver).
type CollaboratorError struct {
	Step string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: collaborator failed: %v", e.Step, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// SessionNotFound wraps ErrSessionNotFound with the offending id.
func SessionNotFound(id string) error {
	return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
}
