package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Redis contains connection settings for the task queue broker.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Workflow contains scheduler and coordinator timing configuration.
// Intervals are expressed in seconds unless noted otherwise.
type Workflow struct {
	PoolWidth            int `toml:"pool_width"`
	DispatchInterval     int `toml:"dispatch_interval"`
	SweepInterval        int `toml:"sweep_interval"`
	MaterializeInterval  int `toml:"materialize_interval"`
	StaleAfterMinutes    int `toml:"stale_after_minutes"`
	ErrorRetryInterval   int `toml:"error_retry_interval"`
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`
}

// Tasks contains retry and deadline policy for queued jobs.
type Tasks struct {
	MaxAttempts      int `toml:"max_attempts"`
	RetryDelay       int `toml:"retry_delay"`
	SoftTimeLimit    int `toml:"soft_time_limit"`
	HardTimeLimit    int `toml:"hard_time_limit"`
	ResultTTLMinutes int `toml:"result_ttl_minutes"`
}

// Approval contains the identities allowed to decide on processes.
type Approval struct {
	Approvers []string `toml:"approvers"`
}

// Operator describes the external automation endpoint for one carrier portal.
type Operator struct {
	Endpoint string `toml:"endpoint"`
	Token    string `toml:"token"`
	Timeout  int    `toml:"timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Submitted      bool   `toml:"submitted"`
	Failed         bool   `toml:"failed"`
	Approval       bool   `toml:"approval"`
	RatePerMinute  int    `toml:"rate_per_minute"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for telbill.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories, API bind address, API token
//   - Redis: task queue broker connection
//   - Workflow: scheduler intervals, pool width, staleness threshold
//   - Tasks: task attempt limits, retry delay, soft/hard time limits
//   - Approval: approver identities
//   - Operators: per-carrier automation endpoints
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths               `toml:"paths"`
	Redis         Redis               `toml:"redis"`
	Workflow      Workflow            `toml:"workflow"`
	Tasks         Tasks               `toml:"tasks"`
	Approval      Approval            `toml:"approval"`
	Operators     map[string]Operator `toml:"operators"`
	Notifications Notifications       `toml:"notifications"`
	Logging       Logging             `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/telbill/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("telbill.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the filesystem location of the orchestrator database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "orchestrator.db")
}

// IsApprover reports whether the given identity holds the approver capability.
func (c *Config) IsApprover(identity string) bool {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	for _, approver := range c.Approval.Approvers {
		if strings.EqualFold(strings.TrimSpace(approver), identity) {
			return true
		}
	}
	return false
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
