// Package supervisor owns each job from worker launch to terminal status:
// it starts the worker and its log relay, forwards cancellation, interprets
// the worker's result, delivers artifacts and cleans up.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/delivery"
	"github.com/JakeFAU/lms-courier/internal/job"
	"github.com/JakeFAU/lms-courier/internal/messages"
	"github.com/JakeFAU/lms-courier/internal/messenger"
	"github.com/JakeFAU/lms-courier/internal/metrics"
	"github.com/JakeFAU/lms-courier/internal/progress"
	"github.com/JakeFAU/lms-courier/internal/registry"
	"github.com/JakeFAU/lms-courier/internal/relay"
	"github.com/JakeFAU/lms-courier/internal/task"
	"github.com/JakeFAU/lms-courier/internal/worker"
)

// ErrShuttingDown rejects submissions once Close has been called.
var ErrShuttingDown = errors.New("supervisor is shutting down")

const (
	defaultDeadline   = 10 * time.Minute
	defaultResultWait = time.Second
	defaultReapWait   = 5 * time.Second
)

// Worker is the supervisor's view of a running worker process.
type Worker interface {
	job.Process
	Logs() <-chan string
	Exited() <-chan struct{}
	Result(wait time.Duration) worker.Result
	Close()
}

// Launcher starts workers.
type Launcher interface {
	Start(ctx context.Context, in task.Input) (Worker, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, in task.Input) (Worker, error)

// Start calls f.
func (f LauncherFunc) Start(ctx context.Context, in task.Input) (Worker, error) {
	return f(ctx, in)
}

// ProcessLauncher adapts a worker.Launcher.
func ProcessLauncher(l *worker.Launcher) Launcher {
	return LauncherFunc(func(ctx context.Context, in task.Input) (Worker, error) {
		p, err := l.Start(ctx, in)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Config tunes job supervision.
type Config struct {
	// Deadline is the wall-clock budget of each job.
	Deadline time.Duration
	// ResultWait bounds how long a result or log tail may trail process exit.
	ResultWait time.Duration
	// ReapWait bounds how long a worker may linger after reporting.
	ReapWait time.Duration
	// TempDir is the parent of job directories; empty means the OS default.
	TempDir string
	// Options are handed to every task.
	Options task.Options
	// Relay tunes the per-job log relay.
	Relay relay.Config
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	Launcher  Launcher
	Registry  *registry.Registry
	Messenger messenger.Messenger
	Catalog   *messages.Catalog
	Deliverer *delivery.Deliverer
	Emitter   progress.Emitter
	IDs       job.IDGenerator
	Clock     job.Clock
	Logger    *zap.Logger
}

// Supervisor runs jobs.
type Supervisor struct {
	cfg    Config
	deps   Deps
	base   context.Context
	logger *zap.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New validates deps and returns a Supervisor. base supplies values to relay
// and delivery calls; its cancellation does not abort running jobs.
func New(base context.Context, cfg Config, deps Deps) (*Supervisor, error) {
	if deps.Launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if deps.IDs == nil || deps.Clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = messages.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if deps.Deliverer == nil {
		deps.Deliverer = delivery.New(delivery.Config{}, deps.Messenger, deps.Emitter, deps.Logger)
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.ResultWait <= 0 {
		cfg.ResultWait = defaultResultWait
	}
	if cfg.ReapWait <= 0 {
		cfg.ReapWait = defaultReapWait
	}
	if base == nil {
		base = context.Background()
	}
	return &Supervisor{
		cfg:    cfg,
		deps:   deps,
		base:   context.WithoutCancel(base),
		logger: deps.Logger.Named("supervisor"),
	}, nil
}

// Submit starts a job for req and returns its id without waiting for it.
func (s *Supervisor) Submit(ctx context.Context, req job.Request) (string, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return "", ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	started := false
	defer func() {
		if !started {
			s.wg.Done()
		}
	}()

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	dir, err := os.MkdirTemp(s.cfg.TempDir, "courier-job-*")
	if err != nil {
		return "", fmt.Errorf("job dir: %w", err)
	}
	w, err := s.deps.Launcher.Start(ctx, task.Input{
		Credentials: req.Credentials,
		Target:      req.Target,
		OutputDir:   dir,
		Options:     s.cfg.Options,
	})
	if err != nil {
		s.removeDir(dir)
		return "", fmt.Errorf("launch worker: %w", err)
	}

	j := job.New(id, req.Owner, s.deps.Clock.Now(), s.cfg.Deadline, w)
	if _, err := s.deps.Registry.Register(j); err != nil {
		_ = w.Kill()
		<-w.Exited()
		w.Close()
		s.removeDir(dir)
		return "", fmt.Errorf("register job: %w", err)
	}

	rel := relay.New(s.cfg.Relay, j, s.deps.Clock, s.deps.Messenger, s.deps.Catalog, s.deps.Logger)
	go rel.Run(s.base)

	s.logger.Info("job started",
		zap.String("job_id", id),
		zap.String("owner", req.Owner),
		zap.Int("pid", w.PID()),
		zap.Stringer("credentials", req.Credentials),
	)
	s.deps.Emitter.Emit(progress.Event{JobID: id, Owner: req.Owner, TS: j.StartedAt(), Stage: progress.StageJobStart})

	started = true
	go s.supervise(j, w, rel, dir)
	if s.isClosing() {
		s.abortLate(j)
	}
	return id, nil
}

func (s *Supervisor) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// abortLate kills a job that registered after Close. The shutdown cascade may
// already have taken its snapshot of the registry and would never see it.
func (s *Supervisor) abortLate(j *job.Job) {
	now := s.deps.Clock.Now()
	if j.RequestCancel(job.CauseShutdown, now) {
		s.deps.Emitter.Emit(progress.Event{
			JobID:  j.ID(),
			Owner:  j.Owner(),
			TS:     now,
			Stage:  progress.StageJobCancelRequested,
			Status: string(j.Status()),
			Note:   string(job.CauseShutdown),
		})
	}
	status, err := j.Terminate(job.CauseShutdown)
	s.logger.Warn("job registered during shutdown, worker killed",
		zap.String("job_id", j.ID()),
		zap.String("status", string(status)),
		zap.Error(err),
	)
}

// Interrupt sets the cancel signal of a running job. Escalation to a kill
// after the grace window is the watchdog's job.
func (s *Supervisor) Interrupt(id string) error {
	j, err := s.deps.Registry.Get(id)
	if err != nil {
		return err
	}
	if j.RequestCancel(job.CauseInterrupt, s.deps.Clock.Now()) {
		s.logger.Info("interrupt requested", zap.String("job_id", id))
		s.deps.Emitter.Emit(progress.Event{
			JobID:  id,
			Owner:  j.Owner(),
			Stage:  progress.StageJobCancelRequested,
			Status: string(j.Status()),
			Note:   string(job.CauseInterrupt),
		})
	}
	return nil
}

// Jobs snapshots the registry.
func (s *Supervisor) Jobs() []job.Info {
	jobs := s.deps.Registry.List()
	out := make([]job.Info, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Info())
	}
	return out
}

// Close stops accepting new jobs.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
}

// Wait blocks until every supervised job has finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

func (s *Supervisor) supervise(j *job.Job, w Worker, rel *relay.Relay, dir string) {
	defer s.wg.Done()
	defer s.deps.Registry.Remove(j.ID())
	defer s.removeDir(dir)

	logger := s.logger.With(zap.String("job_id", j.ID()))
	workerLogger := s.deps.Logger.Named("worker").With(zap.String("job_id", j.ID()), zap.Int("pid", w.PID()))

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		for line := range w.Logs() {
			rel.Log(relayLine(workerLogger, line))
		}
	}()

	stopForward := make(chan struct{})
	go func() {
		select {
		case <-j.CancelSignal():
			if err := w.Cancel(); err != nil {
				logger.Warn("forward cancel to worker", zap.Error(err))
			}
		case <-stopForward:
		}
	}()

	res := w.Result(s.cfg.ResultWait)
	close(stopForward)
	s.reap(logger, w)

	select {
	case <-logsDone:
	case <-time.After(s.cfg.ResultWait):
		logger.Warn("worker log stream still open after exit")
	}
	w.Close()

	status, summary := s.resolve(logger, j, res)
	rel.Log(summary)
	rel.Finish(relay.Terminal{Status: status, Reason: j.Reason()})
	<-rel.Done()

	runtime := s.deps.Clock.Now().Sub(j.StartedAt())
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.String("reason", j.Reason()),
		zap.Duration("runtime", runtime),
	)
	s.deps.Emitter.Emit(progress.Event{
		JobID:  j.ID(),
		Owner:  j.Owner(),
		Stage:  progress.StageJobDone,
		Status: string(status),
		Note:   j.Reason(),
		Dur:    runtime,
	})
}

// reap makes sure the worker is gone before its directory is removed.
func (s *Supervisor) reap(logger *zap.Logger, w Worker) {
	select {
	case <-w.Exited():
		return
	case <-time.After(s.cfg.ReapWait):
	}
	logger.Warn("worker still running after reporting, killing it")
	if err := w.Kill(); err != nil {
		logger.Warn("kill worker", zap.Error(err))
	}
	<-w.Exited()
}

// resolve maps the worker's result onto the job state machine and returns the
// terminal status with the summary line for the log buffer.
func (s *Supervisor) resolve(logger *zap.Logger, j *job.Job, res worker.Result) (job.Status, string) {
	switch res.Kind {
	case worker.KindOK:
		if j.Status() != job.StatusRunning {
			logger.Info("discarding artifacts of cancelled job", zap.Int("artifacts", len(res.Artifacts)))
			break
		}
		report := s.deps.Deliverer.Deliver(s.base, j.ID(), j.Owner(), res.Artifacts)
		if err := j.Transition(job.StatusCompleted, ""); err != nil {
			logger.Debug("completion lost to cancellation", zap.Error(err))
			break
		}
		return job.StatusCompleted, fmt.Sprintf("Delivered %d of %d files", len(report.Delivered), len(res.Artifacts))
	case worker.KindCancelled:
		j.RequestCancel(job.CauseInterrupt, s.deps.Clock.Now())
	case worker.KindErr:
		_ = j.Transition(job.StatusFailed, res.Error)
	default:
		_ = j.Transition(job.StatusFailed, "no result")
	}

	status := j.Settle()
	switch status {
	case job.StatusFailed:
		return status, "Job failed"
	case job.StatusTimedOut:
		return status, "Job timed out"
	default:
		return status, "Job interrupted"
	}
}

func (s *Supervisor) removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("remove job dir", zap.String("dir", dir), zap.Error(err))
	}
}

// workerLine is the subset of a worker's JSON log line the service reads.
// Lines carrying url and status report a fetched page or file.
type workerLine struct {
	Level  string `json:"level"`
	Msg    string `json:"msg"`
	URL    string `json:"url"`
	Status int    `json:"status"`
	Bytes  int    `json:"bytes"`
}

// relayLine mirrors a worker log line into the service log and returns the
// text shown to the owner. Lines that are not JSON are relayed verbatim.
func relayLine(logger *zap.Logger, line string) string {
	var wl workerLine
	if err := json.Unmarshal([]byte(line), &wl); err != nil || wl.Msg == "" {
		logger.Info(line)
		return line
	}
	if wl.URL != "" && wl.Status > 0 {
		metrics.ObservePage(wl.URL, strconv.Itoa(wl.Status), wl.Bytes)
	}
	switch wl.Level {
	case "error", "dpanic", "panic", "fatal":
		logger.Error(wl.Msg, zap.String("raw", line))
	case "warn":
		logger.Warn(wl.Msg, zap.String("raw", line))
	default:
		logger.Debug(wl.Msg, zap.String("raw", line))
	}
	return wl.Msg
}
