// Package watchdog enforces job deadlines. A single loop polls the registry,
// requests cooperative cancellation when a deadline passes and kills workers
// that outlive their grace window. On shutdown it cascades cancellation to
// every remaining job.
package watchdog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/job"
	"github.com/JakeFAU/lms-courier/internal/progress"
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultShutdownWindow = 5 * time.Second
)

// Config tunes the watchdog.
//   - PollInterval: time between registry scans (default 100ms).
//   - Grace: cooperative window between a cancel request and a forced kill.
//     Zero kills at the deadline without asking first. Whatever the cause of
//     a cancel request, a worker still alive at deadline+grace is killed.
//   - ShutdownWindow: how long the shutdown cascade waits before killing
//     stragglers (default 5s).
type Config struct {
	PollInterval   time.Duration
	Grace          time.Duration
	ShutdownWindow time.Duration
}

// Jobs is the registry view the watchdog needs.
type Jobs interface {
	List() []*job.Job
	Remove(id string) bool
}

// Watchdog polls Jobs and escalates overdue ones.
type Watchdog struct {
	cfg     Config
	jobs    Jobs
	clock   job.Clock
	emitter progress.Emitter
	logger  *zap.Logger
}

// New returns a Watchdog. A nil emitter or logger is replaced by a no-op.
func New(cfg Config, jobs Jobs, clock job.Clock, emitter progress.Emitter, logger *zap.Logger) *Watchdog {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.ShutdownWindow <= 0 {
		cfg.ShutdownWindow = defaultShutdownWindow
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{
		cfg:     cfg,
		jobs:    jobs,
		clock:   clock,
		emitter: emitter,
		logger:  logger.Named("watchdog"),
	}
}

// Run polls until ctx is done, then runs the shutdown cascade and returns.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	w.logger.Info("watchdog started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("grace", w.cfg.Grace),
	)
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check runs one scan over the registry.
func (w *Watchdog) Check() {
	now := w.clock.Now()
	for _, j := range w.jobs.List() {
		w.checkJob(j, now)
	}
}

func (w *Watchdog) checkJob(j *job.Job, now time.Time) {
	if !j.Alive() {
		if w.jobs.Remove(j.ID()) {
			w.logger.Debug("removed job with exited worker", zap.String("job_id", j.ID()))
		}
		return
	}
	if j.Status().Terminal() {
		// The supervisor is reaping it.
		return
	}
	elapsed := now.Sub(j.StartedAt())
	if cancelAt, set := j.CancelRequestedAt(); set {
		expired := elapsed >= j.Deadline()+w.cfg.Grace
		if expired || (w.cfg.Grace > 0 && now.Sub(cancelAt) >= w.cfg.Grace) {
			w.kill(j, j.CancelCause())
		}
		return
	}
	if elapsed < j.Deadline() {
		return
	}
	if w.cfg.Grace == 0 {
		w.kill(j, job.CauseTimeout)
		return
	}
	if j.RequestCancel(job.CauseTimeout, now) {
		w.logger.Info("job deadline passed, cancellation requested",
			zap.String("job_id", j.ID()),
			zap.Duration("deadline", j.Deadline()),
		)
		w.emitter.Emit(progress.Event{
			JobID:  j.ID(),
			Owner:  j.Owner(),
			TS:     now,
			Stage:  progress.StageJobCancelRequested,
			Status: string(j.Status()),
			Note:   string(job.CauseTimeout),
		})
	}
}

func (w *Watchdog) kill(j *job.Job, cause job.Cause) {
	logger := w.logger.With(zap.String("job_id", j.ID()), zap.Int("pid", j.PID()))
	status, err := j.Terminate(cause)
	switch {
	case errors.Is(err, job.ErrInvalidTransition):
		logger.Debug("job ended before the kill landed", zap.String("status", string(status)))
		return
	case err != nil:
		logger.Warn("forced termination", zap.Error(err))
	default:
		logger.Warn("worker killed", zap.String("status", string(status)), zap.String("cause", string(j.CancelCause())))
	}
	w.emitter.Emit(progress.Event{
		JobID:  j.ID(),
		Owner:  j.Owner(),
		TS:     w.clock.Now(),
		Stage:  progress.StageJobKilled,
		Status: string(status),
		Note:   string(j.CancelCause()),
	})
}

// shutdown asks every remaining job to stop, waits up to the shutdown window
// for their workers to exit and kills the rest.
func (w *Watchdog) shutdown() {
	now := w.clock.Now()
	jobs := w.jobs.List()
	if len(jobs) == 0 {
		w.logger.Info("watchdog stopped")
		return
	}
	w.logger.Info("shutdown: cancelling active jobs", zap.Int("jobs", len(jobs)))
	for _, j := range jobs {
		if j.RequestCancel(job.CauseShutdown, now) {
			w.emitter.Emit(progress.Event{
				JobID:  j.ID(),
				Owner:  j.Owner(),
				TS:     now,
				Stage:  progress.StageJobCancelRequested,
				Status: string(j.Status()),
				Note:   string(job.CauseShutdown),
			})
		}
	}

	deadline := time.NewTimer(w.cfg.ShutdownWindow)
	defer deadline.Stop()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for anyAlive(jobs) {
		select {
		case <-deadline.C:
			for _, j := range jobs {
				if j.Alive() {
					w.kill(j, job.CauseShutdown)
				}
			}
			w.logger.Warn("shutdown window elapsed, stragglers killed")
			return
		case <-ticker.C:
		}
	}
	w.logger.Info("watchdog stopped, all workers exited")
}

func anyAlive(jobs []*job.Job) bool {
	for _, j := range jobs {
		if j.Alive() {
			return true
		}
	}
	return false
}
