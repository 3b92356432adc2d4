package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent daemon status changes",
	Long:  `List the status transitions recorded in the supervisor's journal, newest first.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := client.History(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No transitions recorded")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Time", "Status", "PID", "Ownership", "Source", "Session")
	for _, e := range entries {
		status := "stopped"
		if e.Running {
			status = "running"
		}
		pid := "-"
		if e.PID > 0 {
			pid = strconv.Itoa(e.PID)
		}
		session := e.Session
		if len(session) > 8 {
			session = session[:8]
		}
		table.Append(
			e.At.Local().Format(time.DateTime),
			status,
			pid,
			e.Ownership,
			e.Source,
			session,
		)
	}
	table.Render()
	fmt.Printf("\nShowing %d entries\n", len(entries))
	return nil
}
