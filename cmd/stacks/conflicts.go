package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackroom/stacks"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List and resolve sync conflicts",
	Long: `List entities whose local edits collided with newer server writes.

Example:
  stacks conflicts
  stacks conflicts resolve items b0184 --keep-local
  stacks conflicts resolve items b0184 --accept-server`,
	RunE: runConflictsList,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <collection> <id>",
	Short: "Resolve one conflict",
	Args:  cobra.ExactArgs(2),
	RunE:  runConflictResolve,
}

var (
	resolveKeepLocal    bool
	resolveAcceptServer bool
)

func init() {
	resolveCmd.Flags().BoolVar(&resolveKeepLocal, "keep-local", false, "Keep the local edit and re-queue it for push")
	resolveCmd.Flags().BoolVar(&resolveAcceptServer, "accept-server", false, "Discard the local edit and apply the server's copy")
	resolveCmd.MarkFlagsMutuallyExclusive("keep-local", "accept-server")

	conflictsCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	conflicts, err := client.Conflicts()
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}

	if outputJSON {
		return outputAsJSON(cmd, conflicts)
	}

	out := cmd.OutOrStdout()
	if len(conflicts) == 0 {
		fmt.Fprintln(out, "No conflicts.")
		return nil
	}

	fmt.Fprintf(out, "Conflicts (%d):\n\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Fprintf(out, "%s/%s\n", c.Collection, c.EntityID)
		fmt.Fprintf(out, "    server changed: %s\n", c.ServerVersion.Format(time.RFC3339))
		fmt.Fprintf(out, "    detected:       %s\n", c.DetectedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	printMuted(out, "Resolve with: stacks conflicts resolve <collection> <id> --keep-local | --accept-server")

	return nil
}

func runConflictResolve(cmd *cobra.Command, args []string) error {
	col := stacks.Collection(args[0])
	id := args[1]

	if !col.IsValid() {
		return fmt.Errorf("unknown collection %q", args[0])
	}
	if !resolveKeepLocal && !resolveAcceptServer {
		return fmt.Errorf("choose a resolution: --keep-local or --accept-server")
	}

	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if resolveKeepLocal {
		if err := client.ResolveConflictKeepLocal(ctx, col, id); err != nil {
			return fmt.Errorf("resolve conflict: %w", err)
		}
		printSuccess(out, "Kept local edit for %s/%s; it will push on the next sync", col, id)
		return nil
	}

	if err := client.ResolveConflictAcceptServer(ctx, col, id); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	printSuccess(out, "Accepted server copy for %s/%s; the next sync overwrites the local edit", col, id)
	return nil
}
