package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lms-courier/internal/logging"
	"github.com/JakeFAU/lms-courier/internal/scrape"
	"github.com/JakeFAU/lms-courier/internal/worker"
)

// newWorkerCmd is the child side of the supervisor. It is started by the
// service itself and never by hand.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    worker.Command,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The supervisor owns cancellation; a terminal ^C must not abort the task.
			signal.Ignore(os.Interrupt)

			logger, err := logging.NewWorker(os.Stderr, os.Getenv(worker.EnvLogLevel))
			if err != nil {
				return fmt.Errorf("worker logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			result := os.NewFile(worker.ResultFD, "result")
			if result == nil {
				return fmt.Errorf("result pipe fd %d is not open", worker.ResultFD)
			}
			defer result.Close()

			engine := scrape.New(scrape.Deps{Logger: logger})
			return worker.Serve(cmd.Context(), os.Stdin, result, engine, logger)
		},
	}
}
