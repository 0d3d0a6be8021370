package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courier",
		Short: "Fetches course material from a learning site on a chat user's behalf",
		Long: `courier accepts "login / password / link" requests from chat users, signs in
to the learning site in an isolated worker process, saves the course pages and
attachments, and sends the files back while reporting progress in one message.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	return cmd
}

func execute() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "courier: %v\n", err)
		return 1
	}
	return 0
}
