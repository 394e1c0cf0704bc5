package cmd

import (
	"fmt"

	"github.com/brensch/jsonlpack/internal/inspector"

	"github.com/spf13/cobra"
)

var inspectVerbose bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [output-dir]",
	Short: "Cross-check bundles against their folder summaries",
	Long: `Reads every <folder>.tar.gz under the given directory (default: the output
root), counts the lines of each bundled record file and compares the total
with the record count in <folder>.json.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		dir := getConfig().OutputDir
		if len(args) > 0 {
			dir = args[0]
		}

		reports, err := inspector.InspectTree(dir, logger)
		out := cmd.OutOrStdout()
		for _, r := range reports {
			inspector.Print(out, r, inspectVerbose)
		}
		if err != nil {
			return fmt.Errorf("inspection failed: %w", err)
		}
		if len(reports) == 0 {
			fmt.Fprintf(out, "No bundles found under %s\n", dir)
			return nil
		}
		if err := inspector.Check(reports); err != nil {
			return err
		}
		logger.Info("All bundles match their summaries.", "bundles", len(reports))
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVarP(&inspectVerbose, "verbose", "v", false, "List every file inside each bundle")
}
