package api_test

import (
	"context"
	"errors"
	"testing"

	"telbill/internal/api"
	"telbill/internal/lifecycle"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/testsupport"
)

func newService(t *testing.T) (*api.ProcessService, *process.Store, *process.Registration) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	reg := testsupport.NewRegistration(t, store, "acct-api", "VIVO")
	manager := lifecycle.NewManager(store, notifications.NewService(cfg), nil)
	return api.NewProcessService(manager), store, reg
}

func TestStartExecutionResolvesByRegistrationAndPeriod(t *testing.T) {
	svc, store, reg := newService(t)
	ctx := context.Background()
	testsupport.NewProcess(t, store, reg.Hash, "2026-08")

	resp, err := svc.StartExecution(ctx, api.StartExecutionRequest{
		RegistrationHash: reg.Hash,
		Period:           "2026-08",
	})
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if resp.Skipped || resp.Execution == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Execution.Stage != string(process.StageDownload) {
		t.Fatalf("stage = %q", resp.Execution.Stage)
	}
	if resp.Execution.SessionID == "" {
		t.Fatal("session id must be assigned")
	}
}

func TestStartExecutionRequiresProcessReference(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.StartExecution(context.Background(), api.StartExecutionRequest{})
	if !errors.Is(err, api.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.StartExecution(context.Background(), api.StartExecutionRequest{
		RegistrationHash: "no-such-hash",
		Period:           "2026-08",
	})
	if !errors.Is(err, process.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalizeExecutionRejectsUnknownStatus(t *testing.T) {
	svc, store, reg := newService(t)
	ctx := context.Background()
	testsupport.NewProcess(t, store, reg.Hash, "2026-08")

	resp, err := svc.StartExecution(ctx, api.StartExecutionRequest{
		RegistrationHash: reg.Hash,
		Period:           "2026-08",
	})
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}

	_, err = svc.FinalizeExecution(ctx, resp.Execution.SessionID, api.ExecutionStatusRequest{Status: "paused"})
	if !errors.Is(err, api.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	view, err := svc.FinalizeExecution(ctx, resp.Execution.SessionID, api.ExecutionStatusRequest{Status: "completed"})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if view.Status != string(process.ExecutionCompleted) || view.EndedAt == "" {
		t.Fatalf("view = %+v", view)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	svc, store, reg := newService(t)
	ctx := context.Background()

	proc := testsupport.NewProcess(t, store, reg.Hash, "2026-08")
	if _, err := svc.StartExecution(ctx, api.StartExecutionRequest{ProcessID: proc.ID}); err != nil {
		t.Fatalf("start execution: %v", err)
	}

	running, err := svc.List(ctx, process.StatusRunning)
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 1 || running[0].ID != proc.ID {
		t.Fatalf("running = %+v", running)
	}

	created, err := svc.List(ctx, process.StatusCreated)
	if err != nil {
		t.Fatalf("list created: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("created = %+v", created)
	}
}

func TestDescribeAggregatesHistory(t *testing.T) {
	svc, store, reg := newService(t)
	ctx := context.Background()

	proc := testsupport.NewProcess(t, store, reg.Hash, "2026-08")
	resp, err := svc.StartExecution(ctx, api.StartExecutionRequest{ProcessID: proc.ID})
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if _, err := svc.RecordInvoice(ctx, proc.ID, api.InvoiceRequest{
		StoragePath: "invoices/2026-08/vivo.pdf",
		DueDate:     "2026-09-10",
		AmountCents: 18990,
	}); err != nil {
		t.Fatalf("record invoice: %v", err)
	}
	if _, err := svc.FinalizeExecution(ctx, resp.Execution.SessionID, api.ExecutionStatusRequest{Status: "completed"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	detail, err := svc.Describe(ctx, proc.ID)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if len(detail.Executions) != 1 || len(detail.Invoices) != 1 {
		t.Fatalf("detail = %+v", detail)
	}
	if detail.Invoices[0].AmountCents != 18990 {
		t.Fatalf("invoice = %+v", detail.Invoices[0])
	}

	if _, err := svc.Describe(ctx, 99999); !errors.Is(err, process.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
