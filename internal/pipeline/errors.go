package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/visibility-gap/internal/types"
)

var (
	// ErrPhaseCanceled is the cause recorded when a phase is canceled by the user or its context.
	ErrPhaseCanceled = errors.New("phase canceled")
	// ErrTerminalJob is returned for transitions on a completed or failed job.
	ErrTerminalJob = errors.New("job is already terminal")
	// ErrUnknownJob is returned when a job id is not in the registry.
	ErrUnknownJob = errors.New("unknown job")
	// ErrNotRunning is returned by Cancel when the phase has no running job.
	ErrNotRunning = errors.New("phase is not running")
	// ErrInvalidTransition is returned for transitions the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid job transition")

	errWatchdog = errors.New("phase watchdog expired")
)

// PhaseFailedError is returned when the upstream job reported failure, could not be created,
// or could not be polled.
type PhaseFailedError struct {
	Phase   types.PhaseKind
	JobID   string
	Message string
	Cause   error
}

func (e *PhaseFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s phase failed: %s: %v", e.Phase, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s phase failed: %s", e.Phase, e.Message)
}

func (e *PhaseFailedError) Unwrap() error {
	return e.Cause
}

// PhaseTimedOutError is returned when the watchdog stopped polling a phase. The upstream job may
// still be running.
type PhaseTimedOutError struct {
	Phase   types.PhaseKind
	JobID   string
	Timeout time.Duration
}

func (e *PhaseTimedOutError) Error() string {
	return fmt.Sprintf("%s phase timed out after %s; the upstream job may still be running", e.Phase, e.Timeout)
}

// TransitionError reports a rejected JobRegistry transition.
type TransitionError struct {
	JobID string
	From  types.JobStatus
	To    types.JobStatus
	Cause error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s: %v", e.JobID, e.From, e.To, e.Cause)
}

func (e *TransitionError) Unwrap() error {
	return e.Cause
}
