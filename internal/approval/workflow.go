// Package approval implements the submission and decision workflow that
// gates completed processes before their invoices are sent to the
// reimbursement system. A process enters the approval cycle at most once
// per submission attempt; each cycle accepts exactly one decision.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"telbill/internal/logging"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/tasks"
)

// ErrNotAuthorized is returned when the deciding user is not on the
// configured approver list.
var ErrNotAuthorized = errors.New("approver not authorized")

// ErrNoInvoices is returned when a process is submitted for approval
// without any invoice on file.
var ErrNoInvoices = errors.New("process has no invoices to approve")

// Enqueuer is the slice of the task broker the workflow needs: publishing
// the post-approval upload task.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue tasks.Queue, payload any) (*tasks.Task, error)
}

// Workflow drives processes through the approval gate.
type Workflow struct {
	store     *process.Store
	notifier  notifications.Service
	enqueuer  Enqueuer
	approvers []string
	logger    *slog.Logger
}

// NewWorkflow constructs the approval workflow.
func NewWorkflow(store *process.Store, notifier notifications.Service, enqueuer Enqueuer, approvers []string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Workflow{
		store:     store,
		notifier:  notifier,
		enqueuer:  enqueuer,
		approvers: approvers,
		logger:    logging.NewComponentLogger(logger, "approval"),
	}
}

func (w *Workflow) authorized(approver string) bool {
	for _, candidate := range w.approvers {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(approver)) {
			return true
		}
	}
	return false
}

// SubmitForApproval moves a completed process into the approval gate and
// opens a new decision cycle. The process must have at least one invoice
// on file; invoices without a due date never reach the store, so presence
// is the only check needed here.
func (w *Workflow) SubmitForApproval(ctx context.Context, processID int64) (*process.Process, error) {
	proc, err := w.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !process.CanTransition(proc.Status, process.StatusAwaitingApproval) {
		return nil, &process.TransitionError{From: proc.Status, To: process.StatusAwaitingApproval}
	}

	invoices, err := w.store.ListInvoices(ctx, processID)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ErrNoInvoices
	}

	proc.Status = process.StatusAwaitingApproval
	proc.ApprovalCycle++
	proc.Detail = fmt.Sprintf("awaiting approval (cycle %d)", proc.ApprovalCycle)
	if err := w.store.UpdateProcess(ctx, proc); err != nil {
		return nil, err
	}

	w.logger.Info("process awaiting approval",
		logging.Int64(logging.FieldProcessID, proc.ID),
		logging.Int("cycle", proc.ApprovalCycle),
		logging.Int("invoices", len(invoices)),
	)
	w.notifyAwaiting(ctx, proc, len(invoices))
	return proc, nil
}

// notifyAwaiting hands the approver notification to the notification queue
// so the daemon delivers it; when the broker is unreachable it is delivered
// inline instead.
func (w *Workflow) notifyAwaiting(ctx context.Context, proc *process.Process, invoiceCount int) {
	if w.enqueuer != nil {
		_, err := w.enqueuer.Enqueue(ctx, tasks.QueueNotification, tasks.NotificationJob{
			ProcessID:    proc.ID,
			Event:        tasks.NotifyAwaitingApproval,
			InvoiceCount: invoiceCount,
		})
		if err == nil {
			return
		}
		w.logger.Warn("notification enqueue failed, delivering inline",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.Error(err))
	}
	if err := w.notifier.NotifyAwaitingApproval(ctx, proc, invoiceCount); err != nil {
		w.logger.Warn("approval notification failed",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.Error(err))
	}
}

// Decide records the decision for the process's current cycle and advances
// the process: approval moves it to StatusApproved and queues its upload
// task, rejection returns it to StatusCreated with the reason recorded.
// The status change is committed before the enqueue, so a broker failure
// leaves the process approved and the dispatch pass queues the upload
// later. A second decision for the same cycle fails with
// process.ErrConflict.
func (w *Workflow) Decide(ctx context.Context, processID int64, approver string, decision process.Decision, reason string) (*process.ApprovalDecision, error) {
	if decision != process.DecisionApproved && decision != process.DecisionRejected {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
	if !w.authorized(approver) {
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, approver)
	}

	proc, err := w.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if proc.Status != process.StatusAwaitingApproval {
		return nil, &process.TransitionError{From: proc.Status, To: process.Status(decision)}
	}

	recorded, err := w.store.InsertDecision(ctx, processID, proc.ApprovalCycle, approver, decision, reason)
	if err != nil {
		return nil, err
	}

	log := w.logger.With(
		logging.Int64(logging.FieldProcessID, proc.ID),
		logging.Int("cycle", proc.ApprovalCycle),
		logging.String(logging.FieldOperator, approver),
	)

	switch decision {
	case process.DecisionApproved:
		proc.Status = process.StatusApproved
		proc.Detail = fmt.Sprintf("approved by %s", approver)
		if err := w.store.UpdateProcess(ctx, proc); err != nil {
			return nil, err
		}
		if w.enqueuer != nil {
			if _, err := w.enqueuer.Enqueue(ctx, tasks.QueueUpload, tasks.StageJob{
				ProcessID:      proc.ID,
				RegistrationID: proc.RegistrationHash,
				Stage:          string(process.StageUpload),
			}); err != nil {
				// The approval is committed; the dispatch pass re-queues
				// uploads for approved processes, so the upload is only
				// delayed until the broker is back.
				log.Warn("upload enqueue failed", logging.Error(err))
			}
		}
		log.Info("process approved")
	case process.DecisionRejected:
		proc.Status = process.StatusCreated
		proc.Detail = fmt.Sprintf("rejected by %s: %s", approver, reason)
		if err := w.store.UpdateProcess(ctx, proc); err != nil {
			return nil, err
		}
		log.Info("process rejected", logging.String("reason", reason))
	}

	if err := w.notifier.NotifyDecision(ctx, proc, recorded); err != nil {
		log.Warn("decision notification failed", logging.Error(err))
	}
	return recorded, nil
}

// PendingApproval lists the processes currently waiting for a decision.
func (w *Workflow) PendingApproval(ctx context.Context) ([]*process.Process, error) {
	return w.store.ListProcessesByStatus(ctx, process.StatusAwaitingApproval)
}
