package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeWorkflow()
	c.normalizeTasks()
	c.normalizeApproval()
	c.normalizeOperators()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if token := os.Getenv("TELBILL_API_TOKEN"); token != "" {
		c.Paths.APIToken = token
	}
	return nil
}

func (c *Config) normalizeRedis() {
	if strings.TrimSpace(c.Redis.Addr) == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
	if password := os.Getenv("TELBILL_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PoolWidth <= 0 {
		c.Workflow.PoolWidth = defaultPoolWidth
	}
	if c.Workflow.DispatchInterval <= 0 {
		c.Workflow.DispatchInterval = defaultDispatchInterval
	}
	if c.Workflow.SweepInterval <= 0 {
		c.Workflow.SweepInterval = defaultSweepInterval
	}
	if c.Workflow.MaterializeInterval <= 0 {
		c.Workflow.MaterializeInterval = defaultMaterializeInterval
	}
	if c.Workflow.StaleAfterMinutes <= 0 {
		c.Workflow.StaleAfterMinutes = defaultStaleAfterMinutes
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.ShutdownGraceSeconds <= 0 {
		c.Workflow.ShutdownGraceSeconds = defaultShutdownGraceSeconds
	}
}

func (c *Config) normalizeTasks() {
	if c.Tasks.MaxAttempts <= 0 {
		c.Tasks.MaxAttempts = defaultTaskMaxAttempts
	}
	if c.Tasks.RetryDelay <= 0 {
		c.Tasks.RetryDelay = defaultTaskRetryDelay
	}
	if c.Tasks.SoftTimeLimit <= 0 {
		c.Tasks.SoftTimeLimit = defaultSoftTimeLimit
	}
	if c.Tasks.HardTimeLimit <= 0 {
		c.Tasks.HardTimeLimit = defaultHardTimeLimit
	}
	if c.Tasks.ResultTTLMinutes <= 0 {
		c.Tasks.ResultTTLMinutes = defaultResultTTLMinutes
	}
}

func (c *Config) normalizeApproval() {
	cleaned := make([]string, 0, len(c.Approval.Approvers))
	for _, approver := range c.Approval.Approvers {
		trimmed := strings.TrimSpace(approver)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	c.Approval.Approvers = cleaned
}

func (c *Config) normalizeOperators() {
	for code, op := range c.Operators {
		if op.Timeout <= 0 {
			op.Timeout = defaultOperatorTimeout
		}
		op.Endpoint = strings.TrimSpace(op.Endpoint)
		normalized := strings.ToUpper(strings.TrimSpace(code))
		if normalized != code {
			delete(c.Operators, code)
		}
		c.Operators[normalized] = op
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	if c.Notifications.RatePerMinute <= 0 {
		c.Notifications.RatePerMinute = defaultNotifyRatePerMinute
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
}
