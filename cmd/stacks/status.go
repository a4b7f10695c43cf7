package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackroom/stacks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica statistics",
	Long: `Display statistics about the local catalog replica.

Example:
  stacks status
  stacks status --health`,
	RunE: runStatus,
}

var statusHealth bool

func init() {
	statusCmd.Flags().BoolVar(&statusHealth, "health", false, "Include server health check")
	rootCmd.AddCommand(statusCmd)
}

// StatusResult for JSON output.
type StatusResult struct {
	Stats  *stacks.StoreStats   `json:"stats"`
	Health *stacks.HealthStatus `json:"health,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	var health *stacks.HealthStatus
	if statusHealth {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		h := client.HealthCheck(ctx)
		cancel()
		health = &h
	}

	if outputJSON {
		return outputAsJSON(cmd, StatusResult{Stats: stats, Health: health})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Local Replica")
	fmt.Fprintln(out, "-------------")
	for _, col := range stacks.Collections() {
		fmt.Fprintf(out, "%-14s %d\n", col+":", stats.Entities[col])
	}
	fmt.Fprintf(out, "%-14s %d\n", "Pending ops:", stats.PendingOps)
	fmt.Fprintf(out, "%-14s %d\n", "Conflicts:", stats.Conflicts)
	fmt.Fprintf(out, "%-14s %s\n", "Schema:", stats.SchemaVersion)

	if stats.LibraryID != "" {
		fmt.Fprintf(out, "%-14s %s\n", "Library:", stats.LibraryID)
	}
	if !stats.LastSync.IsZero() {
		fmt.Fprintf(out, "%-14s %s (%s ago)\n", "Last sync:",
			stats.LastSync.Format(time.RFC3339),
			time.Since(stats.LastSync).Round(time.Minute))
	} else {
		fmt.Fprintf(out, "%-14s never\n", "Last sync:")
	}

	if health != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Health Check")
		fmt.Fprintln(out, "------------")

		status := "healthy"
		if !health.Healthy {
			status = "unhealthy"
		}
		fmt.Fprintf(out, "Status:           %s\n", status)
		fmt.Fprintf(out, "Store OK:         %v\n", health.StoreOK)
		fmt.Fprintf(out, "Server reachable: %v\n", health.ServerReachable)
		fmt.Fprintf(out, "Stream connected: %v\n", health.StreamConnected)
		if health.Error != "" {
			fmt.Fprintf(out, "Error:            %s\n", health.Error)
		}
	}

	return nil
}
