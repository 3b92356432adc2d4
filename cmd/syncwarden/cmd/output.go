package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/syncwarden/internal/state"
)

func printJSON(v interface{}) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

func printSnapshot(snap state.Snapshot) {
	status := "stopped"
	switch {
	case snap.Stopping:
		status = "stopping"
	case snap.Running:
		status = "running"
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Status", status)
	if snap.Running {
		table.Append("PID", strconv.Itoa(snap.PID))
		table.Append("Ownership", snap.Ownership)
		table.Append("Tracked PIDs", joinPIDs(snap.Tracked))
		table.Append("Grouped", boolToYesNo(snap.Grouped))
		table.Append("Uptime", snap.Uptime.Round(time.Second).String())
	}
	table.Append("Executable", snap.Path)
	table.Append("Closure policy", snap.Policy)
	table.Render()
}

func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ", ")
}

func boolToYesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
