package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"telbill/internal/lifecycle"
	"telbill/internal/process"
)

// ErrInvalidRequest marks malformed caller input, as opposed to lifecycle
// rule violations.
var ErrInvalidRequest = errors.New("invalid request")

// ProcessService exposes lifecycle operations returning API DTOs. It is the
// single application surface behind the worker callback endpoints and the
// CLI.
type ProcessService struct {
	manager *lifecycle.Manager
}

// NewProcessService constructs a ProcessService around the manager.
func NewProcessService(manager *lifecycle.Manager) *ProcessService {
	if manager == nil {
		return nil
	}
	return &ProcessService{manager: manager}
}

func (s *ProcessService) resolveProcessID(ctx context.Context, req StartExecutionRequest) (int64, error) {
	if req.ProcessID > 0 {
		return req.ProcessID, nil
	}
	hash := strings.TrimSpace(req.RegistrationHash)
	period := strings.TrimSpace(req.Period)
	if hash == "" || period == "" {
		return 0, fmt.Errorf("%w: process id or registration hash and period required", ErrInvalidRequest)
	}
	proc, err := s.manager.Store().FindProcess(ctx, hash, period)
	if err != nil {
		return 0, err
	}
	return proc.ID, nil
}

// StartExecution opens an execution for the requested process. A skip (work
// already satisfied) is reported in the response, not as an error.
func (s *ProcessService) StartExecution(ctx context.Context, req StartExecutionRequest) (*StartExecutionResponse, error) {
	processID, err := s.resolveProcessID(ctx, req)
	if err != nil {
		return nil, err
	}
	exec, err := s.manager.StartExecution(ctx, processID, req.Redownload)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return &StartExecutionResponse{Skipped: true}, nil
	}
	view := FromExecution(exec)
	return &StartExecutionResponse{Execution: &view}, nil
}

// FinalizeExecution records an execution's terminal status.
func (s *ProcessService) FinalizeExecution(ctx context.Context, sessionID string, req ExecutionStatusRequest) (*ExecutionView, error) {
	status := process.ExecutionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != process.ExecutionCompleted && status != process.ExecutionFailed {
		return nil, fmt.Errorf("%w: invalid execution status %q", ErrInvalidRequest, req.Status)
	}
	exec, err := s.manager.UpdateExecutionStatus(ctx, sessionID, status, req.Detail)
	if err != nil {
		return nil, err
	}
	view := FromExecution(exec)
	return &view, nil
}

// RecordInvoice appends one invoice to a process.
func (s *ProcessService) RecordInvoice(ctx context.Context, processID int64, req InvoiceRequest) (*InvoiceView, error) {
	inv, err := s.manager.RecordInvoice(ctx, processID, req.StoragePath, req.DueDate, req.AmountCents)
	if err != nil {
		return nil, err
	}
	view := FromInvoice(inv)
	return &view, nil
}

// UpdateProcessStatus moves a process toward the requested status; anything
// outside the success vocabulary is treated as a failure report.
func (s *ProcessService) UpdateProcessStatus(ctx context.Context, processID int64, req ProcessStatusRequest) (*ProcessView, error) {
	status := process.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	proc, err := s.manager.UpdateProcessStatus(ctx, processID, status, req.Detail)
	if err != nil {
		return nil, err
	}
	view := FromProcess(proc)
	return &view, nil
}

// List returns processes filtered by status; no filter returns every
// non-terminal and terminal process alike.
func (s *ProcessService) List(ctx context.Context, statuses ...process.Status) ([]ProcessView, error) {
	procs, err := s.manager.Store().ListProcessesByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromProcesses(procs), nil
}

// Describe aggregates one process with its executions, invoices, and
// decisions.
func (s *ProcessService) Describe(ctx context.Context, id int64) (*ProcessDetail, error) {
	store := s.manager.Store()
	proc, err := store.GetProcess(ctx, id)
	if err != nil {
		return nil, err
	}
	execs, err := store.ListExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	invoices, err := store.ListInvoices(ctx, id)
	if err != nil {
		return nil, err
	}
	decisions, err := store.ListDecisions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProcessDetail{
		Process:    FromProcess(proc),
		Executions: FromExecutions(execs),
		Invoices:   FromInvoices(invoices),
		Decisions:  FromDecisions(decisions),
	}, nil
}

// Stats returns process counts keyed by status string.
func (s *ProcessService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.manager.Store().Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeProcessStats(stats), nil
}

// Health returns the aggregate process health summary.
func (s *ProcessService) Health(ctx context.Context) (process.HealthSummary, error) {
	return s.manager.Store().Health(ctx)
}
