package cmd

import (
	"fmt"

	"github.com/brensch/jsonlpack/internal/walker"

	"github.com/spf13/cobra"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List the top-level folders under the root directory",
	Long:  `Prints the immediate subdirectories of the root directory in the order the run walks them, numbered from 1.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		folders, err := walker.TopLevelFolders(cfg.RootDir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(folders) == 0 {
			fmt.Fprintf(out, "No folders under %s\n", cfg.RootDir)
			return nil
		}
		fmt.Fprintf(out, "Available folders under %s:\n", cfg.RootDir)
		for i, f := range folders {
			fmt.Fprintf(out, "%3d. %s\n", i+1, f)
		}
		return nil
	},
}
