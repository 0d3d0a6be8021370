package job

import "errors"

// Status enumerates the lifecycle states of a job.
type Status string

// Supported job statuses.
const (
	StatusRunning         Status = "running"
	StatusCancelRequested Status = "cancel_requested"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusTimedOut        Status = "timed_out"
	StatusInterrupted     Status = "interrupted"
)

// ErrInvalidTransition is returned when a status change would move a job
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions lists the forward edges of the job state machine.
var validTransitions = map[Status][]Status{
	StatusRunning:         {StatusCancelRequested, StatusCompleted, StatusFailed, StatusTimedOut},
	StatusCancelRequested: {StatusInterrupted, StatusTimedOut},
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusInterrupted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cause records why cancellation was requested.
type Cause string

// Cancellation causes.
const (
	CauseNone      Cause = ""
	CauseInterrupt Cause = "interrupt"
	CauseTimeout   Cause = "timeout"
	CauseShutdown  Cause = "shutdown"
)

// Terminal returns the status a cancelled job ends in for this cause.
func (c Cause) Terminal() Status {
	if c == CauseTimeout {
		return StatusTimedOut
	}
	return StatusInterrupted
}
