package daemon

import (
	"context"
	"testing"

	"telbill/internal/notifications"
	"telbill/internal/testsupport"
)

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := notifications.NewService(cfg)

	first, err := New(cfg, store, notifier, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	defer first.Stop()

	if first.APIAddr() == "" {
		t.Fatal("expected bound api address")
	}

	secondStore := testsupport.MustOpenStore(t, cfg)
	second, err := New(cfg, secondStore, notifier, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("new second daemon: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("expected lock conflict for second instance")
	}
}

func TestDaemonStatusReportsCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, store, notifications.NewService(cfg), nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	reg := testsupport.NewRegistration(t, store, "acct-300", "VIVO")
	testsupport.NewProcess(t, store, reg.Hash, "2026-08")

	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Running {
		t.Fatal("daemon should report not running before Start")
	}
	if status.TotalProcesses != 1 {
		t.Fatalf("total = %d, want 1", status.TotalProcesses)
	}
	if status.ProcessCounts["created"] != 1 {
		t.Fatalf("created count = %d, want 1", status.ProcessCounts["created"])
	}
}
