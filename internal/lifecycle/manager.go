// Package lifecycle implements the process manager: the single mutation API
// for processes, executions, and invoices. Execution workers, the scheduler,
// and the approval workflow all go through a Manager; nothing else writes
// lifecycle state.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"telbill/internal/identity"
	"telbill/internal/logging"
	"telbill/internal/notifications"
	"telbill/internal/process"
)

// Manager coordinates lifecycle transitions against one store handle.
// Managers are cheap; batch workers construct one per worker around their
// own store.
type Manager struct {
	store    *process.Store
	notifier notifications.Service
	logger   *slog.Logger
}

// NewManager constructs a lifecycle manager.
func NewManager(store *process.Store, notifier notifications.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "lifecycle"),
	}
}

// Store exposes the underlying store for read paths (views, health).
func (m *Manager) Store() *process.Store {
	return m.store
}

// EnsureProcess returns the process for (registration, period), creating it
// when absent, and reports whether this call created it. Idempotent and safe
// under concurrent invocation for the same key: uniqueness is enforced by the
// storage layer, not application locking.
func (m *Manager) EnsureProcess(ctx context.Context, registrationHash, period string) (*process.Process, bool, error) {
	if _, err := m.store.GetRegistration(ctx, registrationHash); err != nil {
		return nil, false, err
	}
	proc, created, err := m.store.EnsureProcess(ctx, registrationHash, period)
	if err != nil {
		return nil, false, err
	}
	if created {
		m.logger.Info("process created",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.String(logging.FieldRegistration, registrationHash),
			logging.String(logging.FieldPeriod, period),
		)
	}
	return proc, created, nil
}

// StartExecution opens a new attempt for a process and moves it to
// StatusRunning. It returns (nil, nil) when no attempt should run: the
// process is submitted, it is waiting on an approval decision, or it is
// completed with an invoice on file and re-download was not requested. The
// execution's stage is upload when the process already completed
// acquisition, download otherwise.
func (m *Manager) StartExecution(ctx context.Context, processID int64, redownload bool) (*process.Execution, error) {
	proc, err := m.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	if proc.Status == process.StatusSubmitted {
		m.logger.Info("execution skipped: process already submitted",
			logging.Int64(logging.FieldProcessID, proc.ID),
		)
		return nil, nil
	}
	if proc.Status == process.StatusAwaitingApproval {
		// The approval gate owns the process until a decision lands.
		m.logger.Info("execution skipped: process awaiting approval",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.Int("cycle", proc.ApprovalCycle),
		)
		return nil, nil
	}

	invoices, err := m.store.ListInvoices(ctx, proc.ID)
	if err != nil {
		return nil, err
	}
	if proc.Status == process.StatusCompleted && len(invoices) > 0 && !redownload {
		// De-duplication guard against redundant automation triggers within
		// a period.
		m.logger.Info("execution skipped: invoice already on file",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.String(logging.FieldPeriod, proc.Period),
		)
		return nil, nil
	}

	stage := process.StageDownload
	if !redownload && (proc.Status == process.StatusCompleted || proc.Status == process.StatusApproved) {
		stage = process.StageUpload
	}

	sessionID := identity.SessionID(proc.RegistrationHash, time.Now())
	exec, err := m.store.InsertExecution(ctx, proc.ID, sessionID, stage)
	if err != nil {
		return nil, err
	}

	if process.CanTransition(proc.Status, process.StatusRunning) {
		proc.Status = process.StatusRunning
		proc.Detail = ""
		if err := m.store.UpdateProcess(ctx, proc); err != nil {
			return nil, err
		}
	}

	m.logger.Info("execution started",
		logging.Int64(logging.FieldProcessID, proc.ID),
		logging.String(logging.FieldSessionID, exec.SessionID),
		logging.String(logging.FieldStage, string(exec.Stage)),
	)
	return exec, nil
}

// RecordInvoice appends a downloaded artifact to a process.
func (m *Manager) RecordInvoice(ctx context.Context, processID int64, storagePath, dueDate string, amountCents int64) (*process.Invoice, error) {
	proc, err := m.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}
	if proc.Status == process.StatusSubmitted {
		return nil, fmt.Errorf("process %d already submitted: %w", proc.ID, process.ErrConflict)
	}
	inv, err := m.store.AppendInvoice(ctx, proc.ID, storagePath, dueDate, amountCents)
	if err != nil {
		return nil, err
	}
	m.logger.Info("invoice recorded",
		logging.Int64(logging.FieldProcessID, proc.ID),
		logging.String("storage_path", storagePath),
		logging.String("due_date", dueDate),
	)
	return inv, nil
}

// UpdateExecutionStatus finalizes an execution attempt. Only terminal target
// statuses are meaningful; the end time is stamped on finalization.
func (m *Manager) UpdateExecutionStatus(ctx context.Context, sessionID string, status process.ExecutionStatus, detail string) (*process.Execution, error) {
	exec, err := m.store.FinalizeExecution(ctx, sessionID, status, detail)
	if err != nil {
		return nil, err
	}
	m.logger.Info("execution finalized",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("status", string(status)),
	)
	return exec, nil
}

// UpdateProcessStatus transitions a process. Reaching StatusCompleted or
// StatusSubmitted stamps a completion time and fires a notification; any
// other target is treated as a failure signal and maps to StatusFailed.
func (m *Manager) UpdateProcessStatus(ctx context.Context, processID int64, target process.Status, detail string) (*process.Process, error) {
	proc, err := m.store.GetProcess(ctx, processID)
	if err != nil {
		return nil, err
	}

	switch target {
	case process.StatusCompleted, process.StatusSubmitted:
		if !process.CanTransition(proc.Status, target) {
			return nil, &process.TransitionError{From: proc.Status, To: target}
		}
		now := time.Now().UTC()
		proc.Status = target
		proc.Detail = strings.TrimSpace(detail)
		proc.CompletedAt = &now
		if err := m.store.UpdateProcess(ctx, proc); err != nil {
			return nil, err
		}
		m.notifyStatus(ctx, proc)
	default:
		if proc.Status.Terminal() {
			return nil, &process.TransitionError{From: proc.Status, To: process.StatusFailed}
		}
		proc.Status = process.StatusFailed
		proc.Detail = failureDetail(target, detail)
		if err := m.store.UpdateProcess(ctx, proc); err != nil {
			return nil, err
		}
		m.notifyFailure(ctx, proc)
	}

	m.logger.Info("process status updated",
		logging.Int64(logging.FieldProcessID, proc.ID),
		logging.String("status", string(proc.Status)),
	)
	return proc, nil
}

// CompositeFail marks a process and one of its executions failed in a single
// transaction.
func (m *Manager) CompositeFail(ctx context.Context, processID int64, sessionID, message string) error {
	if err := m.store.FailProcessAndExecution(ctx, processID, sessionID, message); err != nil {
		return err
	}
	if proc, err := m.store.GetProcess(ctx, processID); err == nil {
		m.notifyFailure(ctx, proc)
	}
	m.logger.Warn("process and execution failed",
		logging.Int64(logging.FieldProcessID, processID),
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("detail", message),
	)
	return nil
}

func (m *Manager) notifyStatus(ctx context.Context, proc *process.Process) {
	if m.notifier == nil {
		return
	}
	var err error
	switch proc.Status {
	case process.StatusCompleted:
		err = m.notifier.NotifyProcessCompleted(ctx, proc)
	case process.StatusSubmitted:
		err = m.notifier.NotifyProcessSubmitted(ctx, proc)
	}
	if err != nil {
		m.logger.Warn("notification delivery failed",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.Error(err),
		)
	}
}

func (m *Manager) notifyFailure(ctx context.Context, proc *process.Process) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifyProcessFailed(ctx, proc, proc.Detail); err != nil {
		m.logger.Warn("notification delivery failed",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.Error(err),
		)
	}
}

func failureDetail(target process.Status, detail string) string {
	detail = strings.TrimSpace(detail)
	if detail != "" {
		return detail
	}
	if target != "" && target != process.StatusFailed {
		return fmt.Sprintf("unexpected status signal %q", target)
	}
	return "process failed"
}
