// Package relay turns a job's log stream into one progressively edited status
// message and finishes it with exactly one terminal update.
package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/clock/system"
	"github.com/JakeFAU/lms-courier/internal/job"
	"github.com/JakeFAU/lms-courier/internal/messages"
	"github.com/JakeFAU/lms-courier/internal/messenger"
	"github.com/JakeFAU/lms-courier/internal/metrics"
)

const (
	defaultLogCap        = 3500
	defaultFlushInterval = 3 * time.Second
	defaultCallTimeout   = 30 * time.Second
	entryBuffer          = 1024
)

// Config tunes a Relay.
type Config struct {
	// LogCap bounds the retained log in characters.
	LogCap int
	// FlushInterval is the cadence of progress edits.
	FlushInterval time.Duration
	// SettleDelay separates Finish from the terminal flush.
	SettleDelay time.Duration
	// CallTimeout bounds each messenger call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LogCap <= 0 {
		c.LogCap = defaultLogCap
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	return c
}

// Terminal describes how the job ended.
type Terminal struct {
	Status job.Status
	Reason string
}

// Relay owns the Log Buffer and the status message of one job.
type Relay struct {
	cfg       Config
	jobID     string
	owner     string
	remaining func(time.Time) time.Duration
	clock     job.Clock
	messenger messenger.Messenger
	catalog   *messages.Catalog
	logger    *zap.Logger

	entries    chan string
	finishCh   chan Terminal
	finishOnce sync.Once
	done       chan struct{}

	buf       *Buffer
	messageID string
	lastText  string
}

// New builds a Relay for j. Run must be started and Finish called exactly
// once for the relay goroutine to exit. The clock drives the countdown shown
// in progress updates; nil means the system clock.
func New(
	cfg Config,
	j *job.Job,
	clock job.Clock,
	m messenger.Messenger,
	catalog *messages.Catalog,
	logger *zap.Logger,
) *Relay {
	cfg = cfg.withDefaults()
	if catalog == nil {
		catalog = messages.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Relay{
		cfg:       cfg,
		jobID:     j.ID(),
		owner:     j.Owner(),
		remaining: j.Remaining,
		clock:     clock,
		messenger: m,
		catalog:   catalog,
		logger:    logger.Named("relay").With(zap.String("job_id", j.ID())),
		entries:   make(chan string, entryBuffer),
		finishCh:  make(chan Terminal, 1),
		done:      make(chan struct{}),
		buf:       NewBuffer(cfg.LogCap, catalog.LogLine),
	}
}

// Log queues one log entry. After the relay has exited it is dropped.
func (r *Relay) Log(entry string) {
	select {
	case r.entries <- entry:
	case <-r.done:
	}
}

// Finish marks the end of the stream. Only the first call counts.
func (r *Relay) Finish(t Terminal) {
	r.finishOnce.Do(func() {
		r.finishCh <- t
	})
}

// Done is closed after the terminal flush.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Run drains entries, flushes progress on the configured cadence and performs
// the terminal flush after Finish plus the settle delay. ctx only supplies
// values to messenger calls; its cancellation never skips the terminal flush.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	ctx = context.WithoutCancel(ctx)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	var (
		settle   <-chan time.Time
		terminal Terminal
		finished bool
	)
	settleTimer := time.NewTimer(time.Hour)
	settleTimer.Stop()
	defer settleTimer.Stop()
	for {
		select {
		case entry := <-r.entries:
			r.buf.Add(entry)
		case <-ticker.C:
			if !finished {
				r.flushProgress(ctx)
			}
		case terminal = <-r.finishCh:
			finished = true
			settleTimer.Reset(r.cfg.SettleDelay)
			settle = settleTimer.C
		case <-settle:
			r.drain()
			r.flushTerminal(ctx, terminal)
			return
		}
	}
}

func (r *Relay) drain() {
	for {
		select {
		case entry := <-r.entries:
			r.buf.Add(entry)
		default:
			return
		}
	}
}

func (r *Relay) remainingSeconds() int {
	return int(r.remaining(r.clock.Now()) / time.Second)
}

func (r *Relay) flushProgress(ctx context.Context) {
	text := r.catalog.Progress(r.buf.String(), r.remainingSeconds())
	if text == r.lastText {
		return
	}
	buttons := []messenger.Button{{
		Text: r.catalog.Text(messages.KeyAbortButton),
		Data: AbortData(r.jobID),
	}}
	if r.send(ctx, text, buttons) {
		r.lastText = text
		metrics.ObserveRelayFlush("progress")
	}
}

func (r *Relay) flushTerminal(ctx context.Context, t Terminal) {
	text := r.catalog.Final(TemplateFor(t.Status), r.buf.String(), t.Reason)
	if r.send(ctx, text, nil) {
		metrics.ObserveRelayFlush("terminal")
	}
}

// send creates the status message on first use and edits it afterwards.
// Failures are logged and swallowed.
func (r *Relay) send(ctx context.Context, text string, buttons []messenger.Button) bool {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	if r.messageID == "" {
		id, err := r.messenger.Send(callCtx, r.owner, text, buttons)
		metrics.ObserveMessengerCall("send", err)
		if err != nil {
			r.logger.Warn("status message send failed", zap.Error(err))
			return false
		}
		r.messageID = id
		return true
	}
	err := r.messenger.Edit(callCtx, r.owner, r.messageID, text, buttons)
	metrics.ObserveMessengerCall("edit", err)
	if err != nil {
		r.logger.Warn("status message edit failed", zap.Error(err))
		return false
	}
	return true
}

// AbortData is the callback payload of the abort button for jobID.
func AbortData(jobID string) string {
	return AbortPrefix + jobID
}

// AbortPrefix starts every abort callback payload.
const AbortPrefix = "abort_"

// TemplateFor picks the terminal template for a status.
func TemplateFor(s job.Status) string {
	switch s {
	case job.StatusCompleted:
		return messages.KeyDone
	case job.StatusInterrupted:
		return messages.KeyDoneInterrupted
	case job.StatusTimedOut:
		return messages.KeyDoneTimeout
	default:
		return messages.KeyDoneError
	}
}
