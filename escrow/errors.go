package escrow

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyApplied    = errors.New("transition already applied")
	ErrTaskNotFound      = errors.New("task not found")
	ErrLedgerRejected    = errors.New("ledger rejected transition")

	// Precondition failures are a flavor of invalid transition; each wraps
	// ErrInvalidTransition so callers can match on either.
	ErrZeroAmount      = fmt.Errorf("%w: amount must be positive", ErrInvalidTransition)
	ErrDeadlineElapsed = fmt.Errorf("%w: deadline elapsed", ErrInvalidTransition)
	ErrProofWindowOpen = fmt.Errorf("%w: proof window still open", ErrInvalidTransition)
	ErrWrongCaller     = fmt.Errorf("%w: caller not authorized", ErrInvalidTransition)
)

// TransitionError carries the task and attempted transition behind every
// engine failure, so no rejection is ever anonymous.
type TransitionError struct {
	TaskID uint64
	Op     Op
	Status Status
	Reason error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: %s rejected in status %s: %v", e.TaskID, e.Op, e.Status, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return e.Reason
}

func NewTransitionError(taskID uint64, op Op, status Status, reason error) *TransitionError {
	return &TransitionError{
		TaskID: taskID,
		Op:     op,
		Status: status,
		Reason: reason,
	}
}
