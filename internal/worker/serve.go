package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/task"
)

// Cancellation causes seen by the task through context.Cause.
var (
	ErrCancelRequested = errors.New("cancel requested by supervisor")
	ErrControlClosed   = errors.New("control stream closed")
)

// Serve is the child side: it reads the task from control, runs it, watches
// control for cancellation and writes exactly one Result to result.
func Serve(ctx context.Context, control io.Reader, result io.Writer, runner task.Runner, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	dec := json.NewDecoder(control)
	var start Control
	if err := dec.Decode(&start); err != nil {
		err = fmt.Errorf("read task: %w", err)
		return errors.Join(err, writeResult(result, Err(err)))
	}
	if start.Op != OpStart || start.Spec == nil {
		err := fmt.Errorf("expected %q control line, got %q", OpStart, start.Op)
		return errors.Join(err, writeResult(result, Err(err)))
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go watchControl(dec, cancel)

	logger.Info("task started", zap.String("target", start.Spec.Target))
	artifacts, err := runner.Run(ctx, *start.Spec)

	var res Result
	switch {
	case ctx.Err() != nil:
		logger.Info("task cancelled", zap.NamedError("cause", context.Cause(ctx)))
		res = Cancelled()
	case err != nil:
		logger.Error("task failed", zap.Error(err))
		res = Err(err)
	default:
		logger.Info("task finished", zap.Int("artifacts", len(artifacts)))
		res = OK(artifacts)
	}
	return writeResult(result, res)
}

func watchControl(dec *json.Decoder, cancel context.CancelCauseFunc) {
	for {
		var c Control
		if err := dec.Decode(&c); err != nil {
			cancel(ErrControlClosed)
			return
		}
		if c.Op == OpCancel {
			cancel(ErrCancelRequested)
			return
		}
	}
}

func writeResult(w io.Writer, res Result) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
