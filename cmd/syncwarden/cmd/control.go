package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/syncwarden/internal/api"
)

const requestTimeout = 60 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync daemon",
	Long:  `Ask the running supervisor to launch the sync daemon.`,
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sync daemon",
	Long: `Ask the running supervisor to stop the sync daemon. A daemon the
supervisor did not launch is stopped too, when the OS permits it.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	return runAction(cmd.Context(), func(ctx context.Context, c *api.Client) (api.ActionResult, error) {
		return c.Start(ctx)
	}, "Daemon started")
}

func runStop(cmd *cobra.Command, args []string) error {
	return runAction(cmd.Context(), func(ctx context.Context, c *api.Client) (api.ActionResult, error) {
		return c.Stop(ctx)
	}, "Daemon stopped")
}

func runAction(parent context.Context, call func(context.Context, *api.Client) (api.ActionResult, error), done string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, requestTimeout)
	defer cancel()

	res, err := call(ctx, client)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if IsJSONOutput() {
		return printJSON(res)
	}
	if res.Warning != "" {
		fmt.Printf("Warning: %s\n", res.Warning)
	} else {
		fmt.Println(done)
	}
	printSnapshot(res.Status)
	return nil
}
