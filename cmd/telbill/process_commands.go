package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"telbill/internal/api"
	"telbill/internal/batch"
	"telbill/internal/lifecycle"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/scheduler"
	"telbill/internal/tasks"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	procCmd := &cobra.Command{
		Use:     "process",
		Aliases: []string{"proc"},
		Short:   "Inspect and manage billing processes",
	}

	procCmd.AddCommand(newProcessListCommand(ctx))
	procCmd.AddCommand(newProcessShowCommand(ctx))
	procCmd.AddCommand(newProcessRetryCommand(ctx))
	procCmd.AddCommand(newProcessPurgeCommand(ctx))
	procCmd.AddCommand(newProcessMaterializeCommand(ctx))
	procCmd.AddCommand(newProcessDispatchCommand(ctx))

	return procCmd
}

func newProcessListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := listProcesses(cmd, ctx, statusFilter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No processes found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, view := range views {
				rows = append(rows, []string{
					strconv.FormatInt(view.ID, 10),
					view.RegistrationHash,
					view.Period,
					view.Status,
					view.Detail,
				})
			}
			out := renderTable([]string{"ID", "Registration", "Period", "Status", "Detail"}, rows, 1)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by process status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

// listProcesses prefers the daemon API and falls back to the store when the
// daemon is not running.
func listProcesses(cmd *cobra.Command, ctx *commandContext, statusFilter string) ([]api.ProcessView, error) {
	if statusFilter != "" && !process.ValidStatus(process.Status(statusFilter)) {
		return nil, fmt.Errorf("unknown status %q", statusFilter)
	}

	client, err := ctx.apiClient()
	if err != nil {
		return nil, err
	}
	views, err := client.Processes(cmd.Context(), statusFilter)
	if err == nil {
		return views, nil
	}
	if !errors.Is(err, errDaemonUnreachable) {
		return nil, err
	}

	var procs []*process.Process
	storeErr := ctx.withStore(func(store *process.Store) error {
		var statuses []process.Status
		if statusFilter != "" {
			statuses = append(statuses, process.Status(statusFilter))
		}
		procs, err = store.ListProcessesByStatus(cmd.Context(), statuses...)
		return err
	})
	if storeErr != nil {
		return nil, storeErr
	}
	return api.FromProcesses(procs), nil
}

func newProcessShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one process with its executions, invoices and decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid process id %q", args[0])
			}
			return ctx.withStore(func(store *process.Store) error {
				detail, err := describeProcess(cmd, store, id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				printProcessDetail(cmd, detail)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func describeProcess(cmd *cobra.Command, store *process.Store, id int64) (*api.ProcessDetail, error) {
	manager := lifecycle.NewManager(store, nil, nil)
	return api.NewProcessService(manager).Describe(cmd.Context(), id)
}

func printProcessDetail(cmd *cobra.Command, detail *api.ProcessDetail) {
	out := cmd.OutOrStdout()
	proc := detail.Process
	fmt.Fprintf(out, "Process %d  %s  %s\n", proc.ID, proc.Period, proc.Status)
	fmt.Fprintf(out, "Registration: %s\n", proc.RegistrationHash)
	if proc.Detail != "" {
		fmt.Fprintf(out, "Detail: %s\n", proc.Detail)
	}
	if proc.ApprovalCycle > 0 {
		fmt.Fprintf(out, "Approval cycle: %d\n", proc.ApprovalCycle)
	}

	if len(detail.Executions) > 0 {
		rows := make([][]string, 0, len(detail.Executions))
		for _, exec := range detail.Executions {
			rows = append(rows, []string{exec.SessionID, exec.Stage, exec.Status, exec.StartedAt, exec.EndedAt})
		}
		fmt.Fprintln(out, renderTable([]string{"Session", "Stage", "Status", "Started", "Ended"}, rows))
	}
	if len(detail.Invoices) > 0 {
		rows := make([][]string, 0, len(detail.Invoices))
		for _, inv := range detail.Invoices {
			rows = append(rows, []string{
				strconv.FormatInt(inv.ID, 10),
				inv.StoragePath,
				inv.DueDate,
				formatAmount(inv.AmountCents),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"ID", "Storage Path", "Due", "Amount"}, rows, 1, 4))
	}
	if len(detail.Decisions) > 0 {
		rows := make([][]string, 0, len(detail.Decisions))
		for _, dec := range detail.Decisions {
			rows = append(rows, []string{
				strconv.Itoa(dec.Cycle),
				dec.Approver,
				dec.Decision,
				dec.Reason,
			})
		}
		fmt.Fprintln(out, renderTable([]string{"Cycle", "Approver", "Decision", "Reason"}, rows, 1))
	}
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func newProcessRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id> [id...]",
		Short: "Reset failed processes back to created",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid process id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(store *process.Store) error {
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed process(es) to created\n", count)
				return nil
			})
		},
	}
}

func newProcessPurgeCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge <id>",
		Short: "Remove a process and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("purge removes executions, invoices and decisions; re-run with --force to confirm")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid process id %q", args[0])
			}
			return ctx.withStore(func(store *process.Store) error {
				if err := store.PurgeProcess(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Process %d purged\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm the purge")
	return cmd
}

func newProcessMaterializeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize [period]",
		Short: "Create the period's processes for every active registration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			period := process.CurrentPeriod(time.Now())
			if len(args) == 1 {
				period = args[0]
			}
			if !process.ValidPeriod(period) {
				return fmt.Errorf("invalid period %q", period)
			}
			if ctx.enqueueSchedulePass(cmd, tasks.ScheduleJob{Pass: tasks.PassMaterialize, Period: period}) {
				fmt.Fprintf(cmd.OutOrStdout(), "Materialization for %s queued on the daemon\n", period)
				return nil
			}
			return ctx.withScheduler(func(sched *scheduler.Scheduler) error {
				created, err := sched.RunMonthlyMaterialization(cmd.Context(), period)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d process(es) for %s\n", created, period)
				return nil
			})
		},
	}
}

func newProcessDispatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Queue stage work for every dispatchable process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.enqueueSchedulePass(cmd, tasks.ScheduleJob{Pass: tasks.PassDispatch}) {
				fmt.Fprintln(cmd.OutOrStdout(), "Dispatch pass queued on the daemon")
				return nil
			}
			return ctx.withScheduler(func(sched *scheduler.Scheduler) error {
				count, err := sched.RunPendingDispatch(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %d process(es)\n", count)
				return nil
			})
		},
	}
}

// enqueueSchedulePass hands a pass to the daemon's schedule queue. It
// reports false when the daemon is not running or the broker refuses the
// task; the caller then runs the pass inline.
func (c *commandContext) enqueueSchedulePass(cmd *cobra.Command, job tasks.ScheduleJob) bool {
	cfg, err := c.ensureConfig()
	if err != nil {
		return false
	}
	client, err := c.apiClient()
	if err != nil {
		return false
	}
	status, err := client.Status(cmd.Context())
	if err != nil || !status.Running {
		return false
	}
	broker := tasks.NewClient(cfg)
	defer broker.Close()
	_, err = broker.Enqueue(cmd.Context(), tasks.QueueSchedule, job)
	return err == nil
}

// withScheduler builds a one-shot scheduler over a fresh store and broker
// connection for manual pass runs.
func (c *commandContext) withScheduler(fn func(*scheduler.Scheduler) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(func(store *process.Store) error {
		broker := tasks.NewClient(cfg)
		defer broker.Close()

		notifier := notifications.NewService(cfg)
		coordinator := batch.New(cfg.Workflow.PoolWidth, func() (*process.Store, error) {
			return process.Open(cfg)
		}, notifier, nil)

		return fn(scheduler.New(cfg, store, coordinator, broker, nil))
	})
}
