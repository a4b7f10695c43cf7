package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackroom/stacks"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live catalog updates",
	Long: `Connect the live event feed and keep the replica updated until
interrupted. Runs an initial sync, then applies server events as they
arrive. Ctrl-C to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	out := cmd.OutOrStdout()

	client.SetRevokedHandler(func(reason string) {
		printWarning(out, "session revoked by server: %s", reason)
	})

	updates, cancelSub := client.StatusChanges()
	defer cancelSub()

	go func() {
		for st := range updates {
			switch s := st.(type) {
			case stacks.StatusSyncing:
				printInfo(out, "sync started")
			case stacks.StatusSuccess:
				printSuccess(out, "sync complete at %s", s.CompletedAt.Format(time.Kitchen))
			case stacks.StatusError:
				printWarning(out, "sync failed: %v", s.Cause)
			case stacks.StatusLibraryMismatch:
				printWarning(out, "library mismatch: replica built from %s, server serves %s", s.Expected, s.Actual)
			}
		}
	}()

	printInfo(out, "Initial sync...")
	if err := client.Sync(cmd.Context()); err != nil {
		printWarning(out, "initial sync failed: %v (watching anyway)", err)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	printInfo(out, "Watching for catalog updates (Ctrl-C to stop)")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Fprintln(out)
	printMuted(out, "Stopping.")
	return nil
}
