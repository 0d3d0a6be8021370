// Package task defines the contract between a worker process and the engine
// that performs the actual download work.
package task

import (
	"context"
	"time"
)

// Render modes accepted in Options.Render.
const (
	RenderNever  = "never"
	RenderAuto   = "auto"
	RenderAlways = "always"
)

// Credentials are the requester's login for the target site.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// String keeps passwords out of logs and fmt output.
func (c Credentials) String() string {
	return c.Login + ":***"
}

// Options tune the engine. They travel inside the job spec so the worker
// process never has to read the service configuration itself.
type Options struct {
	LoginURL         string        `json:"login_url,omitempty"`
	Render           string        `json:"render,omitempty"`
	Headless         bool          `json:"headless"`
	UserAgent        string        `json:"user_agent,omitempty"`
	WaitBetweenPages time.Duration `json:"wait_between_pages,omitempty"`
	MaxPages         int           `json:"max_pages,omitempty"`
	Include          []string      `json:"include,omitempty"`
	RPS              float64       `json:"rps,omitempty"`
	RequestTimeout   time.Duration `json:"request_timeout,omitempty"`
}

// Input is everything one run of the engine needs.
type Input struct {
	Credentials Credentials `json:"credentials"`
	Target      string      `json:"target"`
	OutputDir   string      `json:"output_dir"`
	Options     Options     `json:"options"`
}

// Runner performs one task. It returns the produced file paths in the order
// they should be delivered. Implementations must check ctx at safe points and
// return promptly once it is done.
type Runner interface {
	Run(ctx context.Context, in Input) ([]string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, in Input) ([]string, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, in Input) ([]string, error) {
	return f(ctx, in)
}
