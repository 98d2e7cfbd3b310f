// Package stage binds the task queues to the operator workers: each queue's
// handler opens an execution, drives the operator automation, records its
// output, and settles the process and execution state.
package stage

import (
	"context"
	"fmt"
	"log/slog"

	"telbill/internal/approval"
	"telbill/internal/lifecycle"
	"telbill/internal/logging"
	"telbill/internal/notifications"
	"telbill/internal/operators"
	"telbill/internal/process"
	"telbill/internal/tasks"
)

// Handlers owns the per-queue task handlers.
type Handlers struct {
	manager  *lifecycle.Manager
	registry *operators.Registry
	approval *approval.Workflow
	notifier notifications.Service
	logger   *slog.Logger
}

// NewHandlers constructs the handler set.
func NewHandlers(manager *lifecycle.Manager, registry *operators.Registry, wf *approval.Workflow, notifier notifications.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		manager:  manager,
		registry: registry,
		approval: wf,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "stage"),
	}
}

// Register installs the handlers on the runner.
func (h *Handlers) Register(runner *tasks.Runner) {
	runner.Register(tasks.QueueDownload, h.HandleDownload)
	runner.Register(tasks.QueueUpload, h.HandleUpload)
	if h.approval != nil {
		runner.Register(tasks.QueueApproval, h.HandleApproval)
	}
	if h.notifier != nil {
		runner.Register(tasks.QueueNotification, h.HandleNotification)
	}
}

// HandleDownload runs invoice acquisition for one process.
func (h *Handlers) HandleDownload(ctx context.Context, task *tasks.Task) error {
	return h.runStage(ctx, task, process.StageDownload)
}

// HandleUpload runs invoice submission for one approved process.
func (h *Handlers) HandleUpload(ctx context.Context, task *tasks.Task) error {
	return h.runStage(ctx, task, process.StageUpload)
}

func (h *Handlers) runStage(ctx context.Context, task *tasks.Task, stage process.Stage) error {
	var job tasks.StageJob
	if err := task.DecodePayload(&job); err != nil {
		// Undecodable payloads can never succeed; fail without retry.
		return fmt.Errorf("decode stage job: %w", errTerminal(err))
	}

	store := h.manager.Store()
	proc, err := store.GetProcess(ctx, job.ProcessID)
	if err != nil {
		return err
	}
	reg, err := store.GetRegistration(ctx, proc.RegistrationHash)
	if err != nil {
		return err
	}
	worker, err := h.registry.Worker(reg.Operator)
	if err != nil {
		return errTerminal(err)
	}

	exec, err := h.manager.StartExecution(ctx, proc.ID, false)
	if err != nil {
		return err
	}
	if exec == nil {
		h.logger.Info("stage skipped: already satisfied",
			logging.Int64(logging.FieldProcessID, proc.ID),
			logging.String(logging.FieldStage, string(stage)),
		)
		return nil
	}

	log := h.logger.With(
		logging.Int64(logging.FieldProcessID, proc.ID),
		logging.String(logging.FieldSessionID, exec.SessionID),
		logging.String(logging.FieldStage, string(exec.Stage)),
		logging.String(logging.FieldOperator, reg.Operator),
	)

	workerJob := operators.Job{
		SessionID:  exec.SessionID,
		ProcessID:  proc.ID,
		Period:     proc.Period,
		Operator:   reg.Operator,
		FilterName: reg.FilterName,
		SATData:    reg.SATData,
		Filter:     reg.Filter,
		Unit:       reg.Unit,
		TaxID:      reg.TaxID,
	}

	var result operators.Result
	switch exec.Stage {
	case process.StageUpload:
		result, err = worker.Upload(ctx, workerJob)
	default:
		result, err = worker.Download(ctx, workerJob)
	}
	if err != nil {
		log.Error("operator worker failed", logging.Error(err))
		if failErr := h.manager.CompositeFail(ctx, proc.ID, exec.SessionID, err.Error()); failErr != nil {
			log.Warn("composite fail did not settle", logging.Error(failErr))
		}
		return err
	}

	if exec.Stage == process.StageDownload {
		for _, inv := range result.Invoices {
			if _, err := h.manager.RecordInvoice(ctx, proc.ID, inv.StoragePath, inv.DueDate, inv.AmountCents); err != nil {
				return fmt.Errorf("record invoice: %w", err)
			}
		}
	}

	if _, err := h.manager.UpdateExecutionStatus(ctx, exec.SessionID, process.ExecutionCompleted, result.Detail); err != nil {
		return err
	}

	target := process.StatusCompleted
	detail := fmt.Sprintf("%d invoices captured", len(result.Invoices))
	if exec.Stage == process.StageUpload {
		target = process.StatusSubmitted
		detail = "submitted"
		if result.Protocol != "" {
			detail = "submitted under protocol " + result.Protocol
		}
	}
	if _, err := h.manager.UpdateProcessStatus(ctx, proc.ID, target, detail); err != nil {
		return err
	}
	log.Info("stage finished", logging.String("status", string(target)))
	return nil
}

// HandleNotification delivers a queued notification event.
func (h *Handlers) HandleNotification(ctx context.Context, task *tasks.Task) error {
	var job tasks.NotificationJob
	if err := task.DecodePayload(&job); err != nil {
		return fmt.Errorf("decode notification job: %w", errTerminal(err))
	}
	proc, err := h.manager.Store().GetProcess(ctx, job.ProcessID)
	if err != nil {
		return err
	}
	switch job.Event {
	case tasks.NotifyAwaitingApproval:
		return h.notifier.NotifyAwaitingApproval(ctx, proc, job.InvoiceCount)
	default:
		return errTerminal(fmt.Errorf("unknown notification event %q", job.Event))
	}
}

// HandleApproval records a queued approval decision.
func (h *Handlers) HandleApproval(ctx context.Context, task *tasks.Task) error {
	var job tasks.ApprovalJob
	if err := task.DecodePayload(&job); err != nil {
		return fmt.Errorf("decode approval job: %w", errTerminal(err))
	}
	_, err := h.approval.Decide(ctx, job.ProcessID, job.ApproverID, process.Decision(job.Decision), job.Reason)
	return err
}

// errTerminal wraps an error so the runner's retry policy treats it as
// non-retryable.
func errTerminal(err error) error {
	return fmt.Errorf("%w: %w", process.ErrTerminal, err)
}
