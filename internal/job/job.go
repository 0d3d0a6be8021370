// Package job models one accepted request from worker launch to terminal status.
package job

import (
	"fmt"
	"sync"
	"time"
)

// Job is shared between the supervisor that owns it, the watchdog and interrupt
// lookups. Identity fields are immutable; the rest is guarded by mu.
type Job struct {
	id        string
	owner     string
	startedAt time.Time
	deadline  time.Duration
	proc      Process

	cancelOnce sync.Once
	cancelCh   chan struct{}
	doneCh     chan struct{}

	mu       sync.Mutex
	status   Status
	reason   string
	cause    Cause
	cancelAt time.Time
}

// Info is a point-in-time copy of a job suitable for listings.
type Info struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	PID         int       `json:"pid"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CancelCause Cause     `json:"cancel_cause,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Deadline    string    `json:"deadline"`
}

// New creates a Running job. startedAt should carry a monotonic reading.
func New(id, owner string, startedAt time.Time, deadline time.Duration, proc Process) *Job {
	return &Job{
		id:        id,
		owner:     owner,
		startedAt: startedAt,
		deadline:  deadline,
		proc:      proc,
		cancelCh:  make(chan struct{}),
		doneCh:    make(chan struct{}),
		status:    StatusRunning,
	}
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Owner returns the requester the job reports to.
func (j *Job) Owner() string { return j.owner }

// StartedAt returns the creation timestamp.
func (j *Job) StartedAt() time.Time { return j.startedAt }

// Deadline returns the wall-clock budget of the job.
func (j *Job) Deadline() time.Duration { return j.deadline }

// Remaining returns the time left before the deadline, never negative.
func (j *Job) Remaining(now time.Time) time.Duration {
	left := j.deadline - now.Sub(j.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// PID returns the worker's OS process id, or 0 without a process.
func (j *Job) PID() int {
	if j.proc == nil {
		return 0
	}
	return j.proc.PID()
}

// Alive reports whether the worker process is still running.
func (j *Job) Alive() bool {
	return j.proc != nil && j.proc.Alive()
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Reason returns the failure reason recorded with the terminal status.
func (j *Job) Reason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}

// CancelCause returns why cancellation was requested, if it was.
func (j *Job) CancelCause() Cause {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cause
}

// CancelRequestedAt returns when the cancel signal was set.
func (j *Job) CancelRequestedAt() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelAt, !j.cancelAt.IsZero()
}

// CancelSignal is closed once cancellation has been requested.
func (j *Job) CancelSignal() <-chan struct{} {
	return j.cancelCh
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.doneCh
}

// RequestCancel sets the cancel signal. Only the first caller wins; it records
// the cause and moves a Running job to CancelRequested. Later calls return false.
func (j *Job) RequestCancel(cause Cause, now time.Time) bool {
	set := false
	j.cancelOnce.Do(func() {
		set = true
		j.mu.Lock()
		j.cause = cause
		j.cancelAt = now
		if j.status == StatusRunning {
			j.status = StatusCancelRequested
		}
		j.mu.Unlock()
		close(j.cancelCh)
	})
	return set
}

// Transition moves the job to the given status if the state machine allows it.
func (j *Job) Transition(to Status, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to, reason)
}

// Settle resolves a CancelRequested job into the terminal status of its cause
// and returns the resulting status. Other statuses are returned unchanged.
func (j *Job) Settle() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusCancelRequested {
		_ = j.transitionLocked(j.cause.Terminal(), "")
	}
	return j.status
}

// Terminate kills the worker and marks the job with the terminal status of
// cause. A Running job killed for its deadline goes straight to TimedOut.
// It returns the final status, or ErrInvalidTransition if the job had already
// ended; the process is killed either way.
func (j *Job) Terminate(cause Cause) (Status, error) {
	var killErr error
	if j.proc != nil {
		killErr = j.proc.Kill()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cause == CauseNone {
		j.cause = cause
	}
	target := j.cause.Terminal()
	if j.status == StatusRunning && !CanTransition(StatusRunning, target) {
		j.status = StatusCancelRequested
	}
	if err := j.transitionLocked(target, "worker killed"); err != nil {
		return j.status, err
	}
	if killErr != nil {
		return j.status, fmt.Errorf("kill worker: %w", killErr)
	}
	return j.status, nil
}

// Info snapshots the job.
func (j *Job) Info() Info {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Info{
		ID:          j.id,
		Owner:       j.owner,
		PID:         j.PID(),
		Status:      j.status,
		Reason:      j.reason,
		CancelCause: j.cause,
		StartedAt:   j.startedAt,
		Deadline:    j.deadline.String(),
	}
}

func (j *Job) transitionLocked(to Status, reason string) error {
	if !CanTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	if reason != "" {
		j.reason = reason
	}
	if to.Terminal() {
		close(j.doneCh)
	}
	return nil
}
