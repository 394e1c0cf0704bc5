package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/brensch/jsonlpack/internal/analyser"

	"github.com/spf13/cobra"
)

var analyseTop int

var analyseCmd = &cobra.Command{
	Use:   "analyse",
	Short: "Summarize the folder catalog with DuckDB",
	Long: `Reads the catalog parquet written by 'run' through DuckDB and prints record
totals, the largest folders and the most common fields.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		path := cfg.CatalogFile()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no catalog at %s; run 'jsonlpack run' first", path)
		}

		report, err := analyser.Analyse(context.Background(), getDB(), path, analyseTop, logger)
		if report != nil {
			analyser.Print(cmd.OutOrStdout(), report)
		}
		if err != nil {
			logger.Error("Analysis completed with errors", "error", err)
			return fmt.Errorf("analysis failed: %w", err)
		}
		return nil
	},
}

func init() {
	analyseCmd.Flags().IntVarP(&analyseTop, "top", "n", 10, "Number of folders and fields to list")
}
