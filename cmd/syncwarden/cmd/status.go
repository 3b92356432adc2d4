package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/syncwarden/internal/api"
	"github.com/psantana5/syncwarden/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync daemon status",
	Long: `Show the status reported by the running supervisor. When no supervisor
answers, the process table is scanned directly.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := client.Status(ctx)
	local := false
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("request failed: %w", err)
		}
		snap, err = detectLocally()
		if err != nil {
			return err
		}
		local = true
	}

	if IsJSONOutput() {
		return printJSON(snap)
	}
	if local {
		fmt.Println("Supervisor not reachable; status from a local process scan")
	}
	printSnapshot(snap)
	return nil
}

// detectLocally runs one detection pass without a supervisor.
func detectLocally() (state.Snapshot, error) {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return state.Snapshot{}, err
	}
	st := state.New(*cfg, state.Options{})
	defer st.Close()
	st.DetectAndAttach()
	return st.Snapshot(), nil
}
