package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the replica to a backup file",
	Long: `Export the local replica to a backup file.

Supports JSONL (default) and SQLite formats. JSONL exports stream one
entity per line to keep memory flat on large catalogs.

Examples:
  stacks export -o backup.jsonl
  stacks export -o backup.db --format sqlite`,
	RunE: runExport,
}

var (
	exportOutputPath string
	exportFormat     string
)

func init() {
	exportCmd.Flags().StringVarP(&exportOutputPath, "output", "o", "", "Output file path (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "jsonl", "Export format: jsonl, sqlite")
	_ = exportCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(exportCmd)
}

// ExportResult for JSON output.
type ExportResult struct {
	Format   string `json:"format"`
	Entities int    `json:"entities"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
	Duration string `json:"duration"`
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	format := strings.ToLower(exportFormat)
	if format != "jsonl" && format != "sqlite" {
		return fmt.Errorf("invalid format %q: must be 'jsonl' or 'sqlite'", exportFormat)
	}

	client, err := openClient()
	if err != nil {
		return fmt.Errorf("initialize client: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	total := 0
	for _, n := range stats.Entities {
		total += n
	}

	if !outputJSON {
		printInfo(out, "Exporting replica to %s (%s)...", exportOutputPath, strings.ToUpper(format))
	}

	if err := ensureParentDir(exportOutputPath); err != nil {
		return err
	}

	start := time.Now()

	switch format {
	case "jsonl":
		f, err := os.Create(exportOutputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		if err := client.Export(ctx, f); err != nil {
			f.Close()
			os.Remove(exportOutputPath)
			return fmt.Errorf("export failed: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close output file: %w", err)
		}
	case "sqlite":
		if err := client.ExportSQLite(ctx, exportOutputPath); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
	}

	duration := time.Since(start)

	var fileSize int64
	if fi, err := os.Stat(exportOutputPath); err == nil {
		fileSize = fi.Size()
	}

	if outputJSON {
		return outputAsJSON(cmd, ExportResult{
			Format:   format,
			Entities: total,
			FilePath: exportOutputPath,
			FileSize: fileSize,
			Duration: duration.Round(time.Millisecond).String(),
		})
	}

	fmt.Fprintf(out, "  Entities:  %d\n", total)
	fmt.Fprintf(out, "  File size: %s\n", formatBytes(fileSize))
	fmt.Fprintf(out, "  Duration:  %s\n", duration.Round(time.Millisecond))
	printSuccess(out, "Export complete")

	return nil
}

// ensureParentDir creates the parent directory of path if it doesn't exist.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	return nil
}
