// Package worker runs one task in a child process and carries its outcome
// back to the supervising process.
//
// The child is the service binary re-executed with the hidden worker command.
// Three channels connect the two sides:
//
//   - stdin carries JSON control lines: a start line with the task input,
//     then optionally a cancel line. EOF also cancels.
//   - fd 3 carries exactly one JSON Result.
//   - stderr carries the child's JSON log lines.
package worker

import (
	"github.com/JakeFAU/lms-courier/internal/task"
)

// ResultFD is the descriptor number of the result channel in the child.
const ResultFD = 3

// EnvLogLevel passes the log level to the child.
const EnvLogLevel = "COURIER_WORKER_LOG_LEVEL"

// Control operations.
const (
	OpStart  = "start"
	OpCancel = "cancel"
)

// Control is one line on the control stream.
type Control struct {
	Op   string      `json:"op"`
	Spec *task.Input `json:"spec,omitempty"`
}

// Kind tags a Result.
type Kind string

// Result kinds. KindNone means the worker produced nothing.
const (
	KindNone      Kind = ""
	KindOK        Kind = "ok"
	KindErr       Kind = "err"
	KindCancelled Kind = "cancelled"
)

// Result is the single outcome a worker reports.
type Result struct {
	Kind      Kind     `json:"kind"`
	Artifacts []string `json:"artifacts,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// OK builds a success result.
func OK(artifacts []string) Result {
	return Result{Kind: KindOK, Artifacts: artifacts}
}

// Err builds a failure result.
func Err(err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{Kind: KindErr, Error: msg}
}

// Cancelled builds a cancellation acknowledgment.
func Cancelled() Result {
	return Result{Kind: KindCancelled}
}
