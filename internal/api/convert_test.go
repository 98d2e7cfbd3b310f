package api

import (
	"testing"
	"time"

	"telbill/internal/process"
)

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "" {
		t.Fatalf("zero time should format empty, got %q", got)
	}
	stamp := time.Date(2026, 8, 15, 9, 30, 0, 125_000_000, time.UTC)
	if got := formatTime(stamp); got != "2026-08-15T09:30:00.125Z" {
		t.Fatalf("formatTime = %q", got)
	}
	if got := formatTimePtr(nil); got != "" {
		t.Fatalf("nil pointer should format empty, got %q", got)
	}
	if got := formatTimePtr(&stamp); got != "2026-08-15T09:30:00.125Z" {
		t.Fatalf("formatTimePtr = %q", got)
	}
}

func TestFromRegistrationUsesMaskedTaxID(t *testing.T) {
	reg := &process.Registration{
		Hash:        "hash-1",
		FilterName:  "acct-1",
		Operator:    "VIVO",
		Service:     "TELEFONIA",
		Unit:        "HQ",
		TaxIDMasked: "12.***.***/0001-**",
		Active:      true,
	}
	view := FromRegistration(reg)
	if view.TaxID != "12.***.***/0001-**" {
		t.Fatalf("tax id = %q", view.TaxID)
	}
	if view.Hash != "hash-1" || view.Operator != "VIVO" || !view.Active {
		t.Fatalf("view = %+v", view)
	}
}

func TestFromProcessCarriesLifecycleFields(t *testing.T) {
	done := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	proc := &process.Process{
		ID:               9,
		RegistrationHash: "hash-1",
		Period:           "2026-08",
		Status:           process.StatusCompleted,
		Detail:           "2 invoices captured",
		ApprovalCycle:    1,
		CompletedAt:      &done,
	}
	view := FromProcess(proc)
	if view.Status != "completed" || view.ApprovalCycle != 1 {
		t.Fatalf("view = %+v", view)
	}
	if view.CompletedAt != "2026-08-20T12:00:00.000Z" {
		t.Fatalf("completed at = %q", view.CompletedAt)
	}
}

func TestFromSlicesNeverReturnNil(t *testing.T) {
	if FromProcesses(nil) == nil {
		t.Fatal("FromProcesses(nil) should return an empty slice")
	}
	if FromExecutions(nil) == nil {
		t.Fatal("FromExecutions(nil) should return an empty slice")
	}
	if FromInvoices(nil) == nil {
		t.Fatal("FromInvoices(nil) should return an empty slice")
	}
	if FromDecisions(nil) == nil {
		t.Fatal("FromDecisions(nil) should return an empty slice")
	}
	if FromRegistrations(nil) == nil {
		t.Fatal("FromRegistrations(nil) should return an empty slice")
	}
}

func TestMergeProcessStats(t *testing.T) {
	merged := MergeProcessStats(map[process.Status]int{
		process.StatusCreated: 2,
		process.StatusFailed:  1,
	})
	if merged["created"] != 2 || merged["failed"] != 1 {
		t.Fatalf("merged = %+v", merged)
	}
}
