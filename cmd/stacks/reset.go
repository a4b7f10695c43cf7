package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Rebuild the replica for a new library",
	Long: `Discard the local replica and rebuild it from the library the server
now serves. All local entities, queued edits, and conflicts are lost.

Run this after 'stacks sync' reports a library mismatch.

Example:
  stacks reset --library lib_9f2e --yes`,
	RunE: runReset,
}

var (
	resetLibraryID string
	resetConfirmed bool
)

func init() {
	resetCmd.Flags().StringVar(&resetLibraryID, "library", "", "Library ID to rebuild from (required)")
	resetCmd.Flags().BoolVar(&resetConfirmed, "yes", false, "Skip the confirmation prompt")
	_ = resetCmd.MarkFlagRequired("library")

	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if !resetConfirmed {
		if stats.PendingOps > 0 {
			printWarning(out, "%d unpushed local edits will be discarded.", stats.PendingOps)
		}
		fmt.Fprintf(out, "This wipes the local replica and rebuilds from library %q.\n", resetLibraryID)
		fmt.Fprint(out, "Continue? [y/N] ")

		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	printInfo(out, "Resetting replica for library %s...", resetLibraryID)
	if err := client.ResetForNewLibrary(ctx, resetLibraryID); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	printSuccess(out, "Replica rebuilt from library %s", resetLibraryID)
	return nil
}
