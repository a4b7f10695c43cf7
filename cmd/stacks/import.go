package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stackroom/stacks"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import entities from a backup file",
	Long: `Import entities from a JSONL export into the local replica.

Merge strategies:
  skip    - Skip entities that already exist (by collection and id)
  replace - Overwrite existing entities with imported copies
  merge   - Upsert by collection and id (default)

Examples:
  stacks import -i backup.jsonl
  stacks import -i backup.jsonl --merge-strategy skip
  stacks import -i backup.jsonl --dry-run`,
	RunE: runImport,
}

var (
	importInputPath     string
	importMergeStrategy string
	importDryRun        bool
)

func init() {
	importCmd.Flags().StringVarP(&importInputPath, "input", "i", "", "Input file path (required)")
	importCmd.Flags().StringVar(&importMergeStrategy, "merge-strategy", "merge", "Merge strategy: skip, replace, merge")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Preview import without making changes")
	_ = importCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(importCmd)
}

// ImportResultOutput for JSON output.
type ImportResultOutput struct {
	InputFile  string   `json:"input_file"`
	Strategy   string   `json:"merge_strategy"`
	DryRun     bool     `json:"dry_run"`
	Total      int      `json:"total"`
	Created    int      `json:"created"`
	Merged     int      `json:"merged"`
	Skipped    int      `json:"skipped"`
	ErrorCount int      `json:"error_count"`
	Errors     []string `json:"errors,omitempty"`
	Duration   string   `json:"duration"`
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	strategy := stacks.MergeStrategy(strings.ToLower(importMergeStrategy))
	switch strategy {
	case stacks.MergeStrategySkip, stacks.MergeStrategyReplace, stacks.MergeStrategyMerge:
	default:
		return fmt.Errorf("invalid merge strategy %q: must be 'skip', 'replace', or 'merge'", importMergeStrategy)
	}

	f, err := os.Open(importInputPath)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	if !outputJSON {
		if importDryRun {
			printInfo(out, "Previewing import from %s...", importInputPath)
		} else {
			printInfo(out, "Importing from %s...", importInputPath)
		}
		fmt.Fprintf(out, "  Strategy: %s\n", strategy)
	}

	start := time.Now()
	result, err := client.Import(ctx, f, strategy, importDryRun)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	duration := time.Since(start)

	if outputJSON {
		return outputAsJSON(cmd, ImportResultOutput{
			InputFile:  importInputPath,
			Strategy:   string(strategy),
			DryRun:     importDryRun,
			Total:      result.Total,
			Created:    result.Created,
			Merged:     result.Merged,
			Skipped:    result.Skipped,
			ErrorCount: len(result.Errors),
			Errors:     result.Errors,
			Duration:   duration.Round(time.Millisecond).String(),
		})
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Total:   %d\n", result.Total)
	if importDryRun {
		fmt.Fprintf(out, "  Would create: %d\n", result.Created)
		if strategy == stacks.MergeStrategySkip {
			fmt.Fprintf(out, "  Would skip:   %d\n", result.Skipped)
		} else {
			fmt.Fprintf(out, "  Would merge:  %d\n", result.Merged)
		}
	} else {
		fmt.Fprintf(out, "  Created: %d\n", result.Created)
		if strategy == stacks.MergeStrategySkip {
			fmt.Fprintf(out, "  Skipped: %d\n", result.Skipped)
		} else {
			fmt.Fprintf(out, "  Merged:  %d\n", result.Merged)
		}
	}
	fmt.Fprintf(out, "  Errors:  %d\n", len(result.Errors))

	if len(result.Errors) > 0 {
		fmt.Fprintln(out)
		printWarning(out, "Errors encountered:")
		maxErrors := 10
		for i, e := range result.Errors {
			if i >= maxErrors {
				fmt.Fprintf(out, "  ... and %d more errors\n", len(result.Errors)-maxErrors)
				break
			}
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}

	fmt.Fprintln(out)
	if importDryRun {
		printMuted(out, "Dry-run complete. No changes made.")
	} else {
		printSuccess(out, "Import complete")
	}

	return nil
}
