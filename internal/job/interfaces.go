package job

import (
	"time"

	"github.com/JakeFAU/lms-courier/internal/task"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers for jobs and messages.
type IDGenerator interface {
	NewID() (string, error)
}

// Process is the handle a job keeps on its worker.
type Process interface {
	PID() int
	Alive() bool
	// Cancel asks the worker to stop at its next safe point.
	Cancel() error
	// Kill terminates the worker unconditionally.
	Kill() error
}

// Request is an accepted, already validated ask to run one task.
type Request struct {
	Owner       string
	Credentials task.Credentials
	Target      string
}
