package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"telbill/internal/api"
	"telbill/internal/process"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, fromDaemon, err := fetchStatus(cmd, ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd, status, fromDaemon)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

// fetchStatus asks the daemon first and falls back to reading the store
// directly when it is not running.
func fetchStatus(cmd *cobra.Command, ctx *commandContext) (*api.DaemonStatus, bool, error) {
	client, err := ctx.apiClient()
	if err != nil {
		return nil, false, err
	}
	status, err := client.Status(cmd.Context())
	if err == nil {
		return status, true, nil
	}
	if !errors.Is(err, errDaemonUnreachable) {
		return nil, false, err
	}

	var offline api.DaemonStatus
	storeErr := ctx.withStore(func(store *process.Store) error {
		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		health, err := store.Health(cmd.Context())
		if err != nil {
			return err
		}
		offline = api.DaemonStatus{
			DatabasePath:   store.Path(),
			ProcessCounts:  api.MergeProcessStats(stats),
			TotalProcesses: health.Total,
			RunningCount:   health.Running,
			FailedCount:    health.Failed,
		}
		return nil
	})
	if storeErr != nil {
		return nil, false, storeErr
	}
	return &offline, false, nil
}

func renderDaemonStatus(cmd *cobra.Command, status *api.DaemonStatus, fromDaemon bool) {
	out := cmd.OutOrStdout()
	colorize := isTerminalWriter(out)

	if fromDaemon && status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else if fromDaemon {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "reachable but not started", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running; reading the store directly", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))

	failedKind := statusOK
	if status.FailedCount > 0 {
		failedKind = statusError
	}
	fmt.Fprintln(out, renderStatusLine("Processes", statusInfo, strconv.Itoa(status.TotalProcesses), colorize))
	fmt.Fprintln(out, renderStatusLine("Running", statusInfo, strconv.Itoa(status.RunningCount), colorize))
	fmt.Fprintln(out, renderStatusLine("Failed", failedKind, strconv.Itoa(status.FailedCount), colorize))

	if len(status.ProcessCounts) > 0 {
		rows := buildCountRows(status.ProcessCounts)
		fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, 2))
	}
	if len(status.QueueDepths) > 0 {
		rows := make([][]string, 0, len(status.QueueDepths))
		keys := make([]string, 0, len(status.QueueDepths))
		for queue := range status.QueueDepths {
			keys = append(keys, queue)
		}
		sort.Strings(keys)
		for _, queue := range keys {
			rows = append(rows, []string{queue, strconv.FormatInt(status.QueueDepths[queue], 10)})
		}
		fmt.Fprintln(out, renderTable([]string{"Queue", "Depth"}, rows, 2))
	}
}

// buildCountRows orders status counts in lifecycle order so the table reads
// as a pipeline, with unknown statuses appended alphabetically.
func buildCountRows(counts map[string]int) [][]string {
	order := []string{"created", "pending", "running", "completed", "awaiting_approval", "approved", "submitted", "failed"}
	seen := make(map[string]bool, len(order))
	rows := make([][]string, 0, len(counts))
	for _, status := range order {
		seen[status] = true
		if count, ok := counts[status]; ok {
			rows = append(rows, []string{status, strconv.Itoa(count)})
		}
	}
	extra := make([]string, 0)
	for status := range counts {
		if !seen[status] {
			extra = append(extra, status)
		}
	}
	sort.Strings(extra)
	for _, status := range extra {
		rows = append(rows, []string{status, strconv.Itoa(counts[status])})
	}
	return rows
}
