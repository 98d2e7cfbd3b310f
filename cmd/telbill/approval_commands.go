package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"telbill/internal/approval"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/tasks"
)

func newApprovalCommand(ctx *commandContext) *cobra.Command {
	approvalCmd := &cobra.Command{
		Use:   "approval",
		Short: "Drive the invoice approval gate",
	}

	approvalCmd.AddCommand(newApprovalPendingCommand(ctx))
	approvalCmd.AddCommand(newApprovalSubmitCommand(ctx))
	approvalCmd.AddCommand(newApprovalDecideCommand(ctx, process.DecisionApproved))
	approvalCmd.AddCommand(newApprovalDecideCommand(ctx, process.DecisionRejected))

	return approvalCmd
}

// withWorkflow wires the approval workflow over a fresh store and broker.
// The broker carries the post-approval upload task; submit and pending work
// without it being reachable.
func (c *commandContext) withWorkflow(fn func(*approval.Workflow) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	return c.withStore(func(store *process.Store) error {
		broker := tasks.NewClient(cfg)
		defer broker.Close()

		notifier := notifications.NewService(cfg)
		wf := approval.NewWorkflow(store, notifier, broker, cfg.Approval.Approvers, nil)
		return fn(wf)
	})
}

func newApprovalPendingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List processes awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withWorkflow(func(wf *approval.Workflow) error {
				procs, err := wf.PendingApproval(cmd.Context())
				if err != nil {
					return err
				}
				if len(procs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing awaiting approval")
					return nil
				}
				rows := make([][]string, 0, len(procs))
				for _, proc := range procs {
					rows = append(rows, []string{
						strconv.FormatInt(proc.ID, 10),
						proc.RegistrationHash,
						proc.Period,
						strconv.Itoa(proc.ApprovalCycle),
						proc.Detail,
					})
				}
				out := renderTable([]string{"ID", "Registration", "Period", "Cycle", "Detail"}, rows, 1, 4)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func newApprovalSubmitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <process-id>",
		Short: "Submit a completed process for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid process id %q", args[0])
			}
			return ctx.withWorkflow(func(wf *approval.Workflow) error {
				proc, err := wf.SubmitForApproval(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Process %d awaiting approval (cycle %d)\n", proc.ID, proc.ApprovalCycle)
				return nil
			})
		},
	}
}

func newApprovalDecideCommand(ctx *commandContext, decision process.Decision) *cobra.Command {
	var approver string
	var reason string

	use := "approve"
	if decision == process.DecisionRejected {
		use = "reject"
	}

	cmd := &cobra.Command{
		Use:   use + " <process-id>",
		Short: fmt.Sprintf("Record an %s decision", decision),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid process id %q", args[0])
			}
			return ctx.withWorkflow(func(wf *approval.Workflow) error {
				recorded, err := wf.Decide(cmd.Context(), id, approver, decision, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Process %d %s by %s (cycle %d)\n", id, recorded.Decision, recorded.Approver, recorded.Cycle)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&approver, "as", "", "Approver identity recording the decision")
	cmd.Flags().StringVar(&reason, "reason", "", "Decision reason (recorded as process detail on rejection)")
	_ = cmd.MarkFlagRequired("as")
	if decision == process.DecisionRejected {
		_ = cmd.MarkFlagRequired("reason")
	}
	return cmd
}
