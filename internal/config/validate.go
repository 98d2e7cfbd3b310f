package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateTasks(); err != nil {
		return err
	}
	if err := c.validateOperators(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PoolWidth > 64 {
		return errors.New("workflow.pool_width must not exceed 64")
	}
	if c.Workflow.StaleAfterMinutes < 5 {
		return errors.New("workflow.stale_after_minutes must be at least 5")
	}
	return nil
}

func (c *Config) validateTasks() error {
	if c.Tasks.SoftTimeLimit >= c.Tasks.HardTimeLimit {
		return errors.New("tasks.soft_time_limit must be below tasks.hard_time_limit")
	}
	if c.Tasks.MaxAttempts > 10 {
		return errors.New("tasks.max_attempts must not exceed 10")
	}
	return nil
}

func (c *Config) validateOperators() error {
	for code, op := range c.Operators {
		if strings.TrimSpace(op.Endpoint) == "" {
			return fmt.Errorf("operators.%s.endpoint must be set", code)
		}
		parsed, err := url.Parse(op.Endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("operators.%s.endpoint is not a valid URL", code)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
