// Package dispatcher consumes inbound events on a single goroutine and turns
// them into replies, job submissions and interrupts.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/intake"
	"github.com/JakeFAU/lms-courier/internal/job"
	"github.com/JakeFAU/lms-courier/internal/messages"
	"github.com/JakeFAU/lms-courier/internal/messenger"
	"github.com/JakeFAU/lms-courier/internal/metrics"
	"github.com/JakeFAU/lms-courier/internal/queue"
	"github.com/JakeFAU/lms-courier/internal/registry"
	"github.com/JakeFAU/lms-courier/internal/relay"
	"github.com/JakeFAU/lms-courier/internal/supervisor"
)

const replyTimeout = 30 * time.Second

// ErrInvalidEvent rejects events without an owner or with an unknown kind.
var ErrInvalidEvent = errors.New("invalid inbound event")

// Supervisor is the job surface the dispatcher drives.
type Supervisor interface {
	Submit(ctx context.Context, req job.Request) (string, error)
	Interrupt(id string) error
}

// Dispatcher reads events from a queue and handles them one at a time.
type Dispatcher struct {
	queue   queue.Queue[intake.Event]
	parser  *intake.Parser
	sup     Supervisor
	msgr    messenger.Messenger
	catalog *messages.Catalog
	clock   job.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	q queue.Queue[intake.Event],
	parser *intake.Parser,
	sup Supervisor,
	msgr messenger.Messenger,
	catalog *messages.Catalog,
	clock job.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if catalog == nil {
		catalog = messages.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		parser:  parser,
		sup:     sup,
		msgr:    msgr,
		catalog: catalog,
		clock:   clock,
		logger:  logger.Named("dispatcher"),
	}
}

// Enqueue validates and queues an event.
func (d *Dispatcher) Enqueue(ctx context.Context, ev intake.Event) error {
	if strings.TrimSpace(ev.Owner) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidEvent)
	}
	if ev.Kind != intake.KindMessage && ev.Kind != intake.KindCallback {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Kind)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.clock.Now()
	}
	if err := d.queue.Enqueue(ctx, ev); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Run handles events until ctx finishes or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	for {
		ev, err := d.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				d.logger.Info("dispatcher stopped")
				return nil
			}
			return fmt.Errorf("dequeue: %w", err)
		}
		d.handle(ctx, ev)
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev intake.Event) {
	switch ev.Kind {
	case intake.KindMessage:
		d.handleMessage(ctx, ev)
	case intake.KindCallback:
		d.handleCallback(ev)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev intake.Event) {
	logger := d.logger.With(zap.String("owner", ev.Owner))
	if strings.TrimSpace(ev.Text) == intake.StartCommand {
		d.reply(ctx, ev.Owner, d.catalog.Text(messages.KeyStart))
		return
	}
	req, err := d.parser.Parse(ev.Owner, ev.Text)
	switch {
	case errors.Is(err, intake.ErrInvalidLink):
		logger.Info("rejected request", zap.Error(err))
		d.reply(ctx, ev.Owner, d.catalog.WrongLink(d.parser.Pattern()))
		return
	case err != nil:
		logger.Info("rejected request", zap.Error(err))
		d.reply(ctx, ev.Owner, d.catalog.Text(messages.KeyWrongMessage))
		return
	}
	id, err := d.sup.Submit(ctx, req)
	if err != nil {
		logger.Error("submit job", zap.Error(err))
		reason := "could not start the job"
		if errors.Is(err, supervisor.ErrShuttingDown) {
			reason = "the service is shutting down"
		}
		d.reply(ctx, ev.Owner, d.catalog.Final(messages.KeyDoneError, "", reason))
		return
	}
	logger.Info("job accepted", zap.String("job_id", id), zap.Duration("queued", d.clock.Now().Sub(ev.ReceivedAt)))
}

func (d *Dispatcher) handleCallback(ev intake.Event) {
	logger := d.logger.With(zap.String("owner", ev.Owner), zap.String("data", ev.Data))
	id, ok := strings.CutPrefix(ev.Data, relay.AbortPrefix)
	if !ok || id == "" {
		logger.Warn("unknown callback")
		return
	}
	if err := d.sup.Interrupt(id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			logger.Info("abort for finished or unknown job", zap.String("job_id", id))
			return
		}
		logger.Warn("interrupt job", zap.String("job_id", id), zap.Error(err))
	}
}

func (d *Dispatcher) reply(ctx context.Context, owner, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()
	_, err := d.msgr.Send(ctx, owner, text, nil)
	metrics.ObserveMessengerCall("send", err)
	if err != nil {
		d.logger.Warn("reply failed", zap.String("owner", owner), zap.Error(err))
	}
}
