package process

import (
	"errors"
	"fmt"
)

// Typed error set surfaced by the store and the lifecycle manager.
var (
	// ErrNotFound indicates a referenced registration, process, or execution
	// does not exist. Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent writer won a uniqueness race, or a
	// decision already exists for the current approval cycle. Not retryable.
	ErrConflict = errors.New("conflict")

	// ErrFinalized indicates a mutation was attempted on an execution that
	// already reached a terminal status.
	ErrFinalized = errors.New("execution already finalized")

	// ErrTerminal marks a failure that can never succeed on retry, such as
	// an undecodable payload or an unknown operator code.
	ErrTerminal = errors.New("terminal failure")
)

// TransitionError reports an illegal process status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Terminal reports whether the error is unrecoverable and must not be
// retried. Everything else is treated as transient; the task queue owns
// retry decisions.
func Terminal(err error) bool {
	if err == nil {
		return false
	}
	var transition *TransitionError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrFinalized) ||
		errors.Is(err, ErrTerminal) ||
		errors.As(err, &transition)
}
