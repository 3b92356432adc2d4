package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Print the sync daemon's web UI address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig()
		if err != nil {
			return err
		}
		if IsJSONOutput() {
			return printJSON(map[string]string{"web_ui_url": cfg.WebUIURL})
		}
		fmt.Println(cfg.WebUIURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
