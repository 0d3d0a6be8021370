// Package delivery sends a job's artifacts to its owner with bounded retries.
package delivery

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/metrics"
	"github.com/JakeFAU/lms-courier/internal/progress"
)

const (
	defaultMaxAttempts    = 3
	defaultBackoff        = 3 * time.Second
	defaultAttemptTimeout = 60 * time.Second
)

// Config bounds delivery attempts.
type Config struct {
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// Sender is the messenger capability delivery needs.
type Sender interface {
	SendFile(ctx context.Context, owner, path string) error
}

// Report summarises one Deliver call.
type Report struct {
	Delivered []string
	Failed    []string
	Retries   int
}

// Deliverer sends artifacts one at a time in the order given.
type Deliverer struct {
	cfg     Config
	sender  Sender
	policy  RetryPolicy
	emitter progress.Emitter
	logger  *zap.Logger
}

// New builds a Deliverer with a fixed backoff policy derived from cfg.
func New(cfg Config, sender Sender, emitter progress.Emitter, logger *zap.Logger) *Deliverer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{
		cfg:     cfg,
		sender:  sender,
		policy:  NewFixedRetryPolicy(cfg.MaxAttempts, cfg.Backoff),
		emitter: emitter,
		logger:  logger.Named("delivery"),
	}
}

// Deliver sends every path to owner. A path that keeps failing is logged and
// skipped; the remaining paths are still attempted.
func (d *Deliverer) Deliver(ctx context.Context, jobID, owner string, paths []string) Report {
	logger := d.logger.With(zap.String("job_id", jobID))
	var report Report
	for _, path := range paths {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, path)
			continue
		}
		retries, err := d.deliverOne(ctx, logger, jobID, owner, path)
		report.Retries += retries
		name := filepath.Base(path)
		if err != nil {
			report.Failed = append(report.Failed, path)
			logger.Error("artifact delivery gave up",
				zap.String("file", name),
				zap.Int("attempts", retries+1),
				zap.Error(err),
			)
			d.emitter.Emit(progress.Event{JobID: jobID, Owner: owner, Stage: progress.StageArtifactFailed, Note: name})
			continue
		}
		report.Delivered = append(report.Delivered, path)
		d.emitter.Emit(progress.Event{JobID: jobID, Owner: owner, Stage: progress.StageArtifactDelivered, Note: name})
	}
	return report
}

func (d *Deliverer) deliverOne(ctx context.Context, logger *zap.Logger, jobID, owner, path string) (int, error) {
	name := filepath.Base(path)
	for attempt := 1; ; attempt++ {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		err := d.sender.SendFile(attemptCtx, owner, path)
		cancel()
		metrics.ObserveDeliveryAttempt(err, time.Since(start))
		if err == nil {
			return attempt - 1, nil
		}
		if ctx.Err() != nil || !d.policy.ShouldRetry(err, attempt) {
			return attempt - 1, fmt.Errorf("send %s: %w", name, err)
		}
		wait := d.policy.Backoff(attempt)
		logger.Warn("artifact delivery failed, retrying",
			zap.String("file", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		d.emitter.Emit(progress.Event{JobID: jobID, Owner: owner, Stage: progress.StageArtifactRetry, Note: name})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("send %s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
}
