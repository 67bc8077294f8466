package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}
	u, err := url.Parse(c.Agent.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("agent.url %q is not a valid URL", c.Agent.URL)
	}
	if c.Agent.PollIntervalMs <= 0 {
		return fmt.Errorf("agent.poll_interval_ms must be positive, got %d", c.Agent.PollIntervalMs)
	}
	if c.Agent.TimeoutMs <= 0 {
		return fmt.Errorf("agent.timeout_ms must be positive, got %d", c.Agent.TimeoutMs)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("logging.output %q is not one of stdout, stderr, file", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging.output is \"file\"")
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history.enabled is true")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics.enabled is true")
	}

	for product, schema := range c.Sink.Schemas {
		if schema == "" {
			return fmt.Errorf("sink.schemas[%s] is empty", product)
		}
	}
	return nil
}
