package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/brensch/jsonlpack/internal/db"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateRunFilter   string
	stateRuns        bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View the event log history of processed folders",
	Long: `Queries the DuckDB event log and displays the history of folder events,
newest first. Use --runs for one line per run instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		dbConn := getDB()
		out := cmd.OutOrStdout()
		ctx := context.Background()

		if stateRuns {
			runs, err := db.ListRuns(ctx, dbConn, stateLimit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-36s | %-19s | %-10s | %7s | %6s | %12s\n", "Run", "Started", "Took", "Folders", "Errors", "Records")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s | %-19s | %-10s | %7d | %6d | %12s\n",
					r.RunID, r.Started.Format("2006-01-02 15:04:05"), r.Finished.Sub(r.Started).Round(time.Millisecond),
					r.Folders, r.Errors, humanize.Comma(r.Records))
			}
			return nil
		}

		logger.Debug("Querying database event log", "run_filter", stateRunFilter, "event_filter", stateFilterEvent, "limit", stateLimit)
		if err := db.DisplayFolderHistory(ctx, dbConn, out, stateRunFilter, stateFilterEvent, stateLimit); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g., folder_end, error, extract_error)")
	stateCmd.Flags().StringVar(&stateRunFilter, "run", "", "Filter records by run ID prefix")
	stateCmd.Flags().BoolVar(&stateRuns, "runs", false, "Summarize runs instead of listing events")
}
