package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued local edits awaiting push",
	Long: `List local mutations that have not yet been acknowledged by the server.
Ops are shown in the order they will be pushed.`,
	RunE: runPending,
}

var pendingLimit int

func init() {
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 50, "Maximum number of ops to show")
	rootCmd.AddCommand(pendingCmd)
}

func runPending(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ops, err := client.PendingOps(pendingLimit)
	if err != nil {
		return fmt.Errorf("list pending ops: %w", err)
	}

	if outputJSON {
		return outputAsJSON(cmd, ops)
	}

	out := cmd.OutOrStdout()
	if len(ops) == 0 {
		fmt.Fprintln(out, "No pending operations. Replica is fully pushed.")
		return nil
	}

	fmt.Fprintf(out, "Pending operations (%d):\n\n", len(ops))
	for _, op := range ops {
		fmt.Fprintf(out, "%-7s %s/%s (queued %s)\n",
			op.Kind, op.Collection, op.EntityID,
			op.EnqueuedAt.Format(time.RFC3339))
	}

	return nil
}
