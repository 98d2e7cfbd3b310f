package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"telbill/internal/config"
	"telbill/internal/lifecycle"
	"telbill/internal/process"
	"telbill/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *process.Store
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg := testsupport.NewConfig(t)

	configPath := filepath.Join(homeDir, ".config", "telbill", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		configPath: configPath,
	}
}

// runCLI executes a command against the test config. The API flag points at
// a closed port so commands exercise their direct-store fallback.
func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", env.configPath, "--api", "http://127.0.0.1:1"}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\napi_bind = %q\napi_token = %q\n\n[approval]\napprovers = [%q]\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.APIBind,
		cfg.Paths.APIToken,
		"fiscal@example.com",
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
}

// completeProcess drives a process to completed with one recorded invoice so
// approval commands have something to act on.
func completeProcess(t *testing.T, store *process.Store, processID int64) {
	t.Helper()
	ctx := context.Background()
	manager := lifecycle.NewManager(store, nil, nil)

	exec, err := manager.StartExecution(ctx, processID, false)
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if _, err := manager.RecordInvoice(ctx, processID, "invoices/test.pdf", "2026-09-10", 12990); err != nil {
		t.Fatalf("record invoice: %v", err)
	}
	if _, err := manager.UpdateExecutionStatus(ctx, exec.SessionID, process.ExecutionCompleted, ""); err != nil {
		t.Fatalf("finalize execution: %v", err)
	}
	if _, err := manager.UpdateProcessStatus(ctx, processID, process.StatusCompleted, "1 invoice captured"); err != nil {
		t.Fatalf("complete process: %v", err)
	}
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output missing %q:\n%s", want, output)
	}
}
