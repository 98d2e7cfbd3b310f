package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Workflow.PoolWidth != 10 {
		t.Fatalf("pool width = %d, want 10", cfg.Workflow.PoolWidth)
	}
	if cfg.Tasks.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d, want 3", cfg.Tasks.MaxAttempts)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telbill.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
api_bind = "127.0.0.1:7733"

[workflow]
pool_width = 4

[tasks]
soft_time_limit = 60
hard_time_limit = 90

[approval]
approvers = ["Fiscal@Example.com"]

[operators.vivo]
endpoint = "http://localhost:9100"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Workflow.PoolWidth != 4 {
		t.Fatalf("pool width = %d, want 4", cfg.Workflow.PoolWidth)
	}
	if cfg.Tasks.SoftTimeLimit != 60 || cfg.Tasks.HardTimeLimit != 90 {
		t.Fatalf("limits = %d/%d", cfg.Tasks.SoftTimeLimit, cfg.Tasks.HardTimeLimit)
	}
	if !cfg.IsApprover("fiscal@example.com") {
		t.Fatal("expected case-insensitive approver match")
	}
	if cfg.IsApprover("stranger@example.com") {
		t.Fatal("unexpected approver match")
	}
}

func TestLoadRejectsInvertedTimeLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telbill.toml")
	content := `
[tasks]
soft_time_limit = 1800
hard_time_limit = 1500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected validation error for soft >= hard")
	}
}

func TestLoadRejectsBadOperatorEndpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telbill.toml")
	content := `
[operators.oi]
endpoint = "not a url"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected validation error for operator endpoint")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("TELBILL_API_TOKEN", "env-token")
	t.Setenv("TELBILL_REDIS_PASSWORD", "env-secret")

	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Fatalf("api token = %q", cfg.Paths.APIToken)
	}
	if cfg.Redis.Password != "env-secret" {
		t.Fatalf("redis password = %q", cfg.Redis.Password)
	}
}

func TestExpandPathResolvesHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	expanded, err := expandPath("~/telbill-data")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !strings.HasPrefix(expanded, home) {
		t.Fatalf("expanded = %q, want prefix %q", expanded, home)
	}
}

func TestWriteSampleProducesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	if _, _, _, err := Load(path); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
}

func TestDatabasePathUnderDataDir(t *testing.T) {
	cfg := Default()
	cfg.Paths.DataDir = "/var/lib/telbill"
	if got := cfg.DatabasePath(); got != filepath.Join("/var/lib/telbill", "orchestrator.db") {
		t.Fatalf("database path = %q", got)
	}
}
