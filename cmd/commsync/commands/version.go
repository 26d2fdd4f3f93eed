package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faithflow/commsync/cmd/commsync/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("output") {
			return output(cmd, build.Get())
		}
		fmt.Fprintln(cmd.OutOrStdout(), build.String())
		if verbose {
			path := configPath
			if cfg, err := loadConfig(); err == nil {
				path = cfg.Path()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  config: %s\n", path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
