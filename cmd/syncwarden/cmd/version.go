package cmd

import (
	"fmt"

	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if IsJSONOutput() {
			return printJSON(map[string]string{
				"version":    version.Version,
				"revision":   version.Revision,
				"branch":     version.Branch,
				"build_date": version.BuildDate,
				"go_version": version.GoVersion,
			})
		}
		fmt.Println(version.Print("syncwarden"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
