package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackroom/stacks"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize with the Stackroom server",
	Long: `Run one full sync cycle: pull server deltas, push queued local edits,
and reconnect the live event feed.

Example:
  stacks sync           # Incremental sync from the last checkpoint
  stacks sync --full    # Clear checkpoints and re-pull everything`,
	RunE: runSync,
}

var syncFull bool

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Clear checkpoints and re-pull every collection")
	rootCmd.AddCommand(syncCmd)
}

// SyncResult for JSON output.
type SyncResult struct {
	Full       bool  `json:"full"`
	PendingOps int   `json:"pending_ops"`
	Conflicts  int   `json:"conflicts"`
	DurationMs int64 `json:"duration_ms"`
}

func runSync(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	out := cmd.OutOrStdout()

	// Mirror progress while the cycle runs.
	updates, cancelSub := client.StatusChanges()
	go func() {
		for st := range updates {
			if outputJSON {
				continue
			}
			switch s := st.(type) {
			case stacks.StatusProgress:
				if s.Total > 0 {
					fmt.Fprintf(out, "  %s %s: %d/%d\n", s.Phase, s.Collection, s.Current, s.Total)
				} else {
					fmt.Fprintf(out, "  %s %s: %d\n", s.Phase, s.Collection, s.Current)
				}
			case stacks.StatusRetrying:
				printWarning(out, "transient failure, retrying (%d/%d)", s.Attempt, s.MaxAttempts)
			}
		}
	}()
	defer cancelSub()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if !outputJSON {
		if syncFull {
			printInfo(out, "Full sync with Stackroom...")
		} else {
			printInfo(out, "Synchronizing with Stackroom...")
		}
	}

	start := time.Now()

	if syncFull {
		err = client.ForceFullSync(ctx)
	} else {
		err = client.Sync(ctx)
	}
	if err != nil {
		if errors.Is(err, stacks.ErrLibraryMismatch) {
			return fmt.Errorf("%w\n\nThe server now serves a different library. Run 'stacks reset --library <id>' to rebuild the replica (discards local state)", err)
		}
		return fmt.Errorf("sync: %w", err)
	}

	duration := time.Since(start)
	stats, statsErr := client.Stats()

	if outputJSON {
		res := SyncResult{Full: syncFull, DurationMs: duration.Milliseconds()}
		if statsErr == nil {
			res.PendingOps = stats.PendingOps
			res.Conflicts = stats.Conflicts
		}
		return outputAsJSON(cmd, res)
	}

	printSuccess(out, "Sync complete (took %s)", duration.Round(time.Millisecond))
	if statsErr == nil {
		for _, col := range stacks.Collections() {
			fmt.Fprintf(out, "  %s: %d\n", col, stats.Entities[col])
		}
		if stats.PendingOps > 0 {
			fmt.Fprintf(out, "  Pending ops: %d\n", stats.PendingOps)
		}
		if stats.Conflicts > 0 {
			printWarning(out, "%d conflicts need resolution ('stacks conflicts')", stats.Conflicts)
		}
	}

	return nil
}
