package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brensch/jsonlpack/internal/saver"

	"github.com/spf13/cobra"
)

var saveDir string

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Saves tables from the DuckDB database to Parquet files",
	Long: `Copies each table in the state database, the run event log included, to
<table>.parquet in the output directory (or --dir).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		dir := saveDir
		if dir == "" {
			dir = getConfig().OutputDir
		}

		written, err := saver.SaveTablesToParquet(context.Background(), getDB(), dir, logger)
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		if err != nil {
			logger.Error("Save process completed with errors", "error", err)
			return fmt.Errorf("save failed: %w", err)
		}
		logger.Info("Table save process completed successfully.", slog.Int("files", len(written)))
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveDir, "dir", "", "Destination directory (defaults to the output directory)")
}
