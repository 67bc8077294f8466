// Package config handles configuration loading, validation, and defaults
// for the rcagent daemon and the embedded remote-configuration client.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete agent configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Agent configures the control-plane connection and poll cadence.
	Agent AgentConfig `toml:"agent" json:"agent" yaml:"agent"`

	// Client configures remote-configuration client behavior.
	Client ClientConfig `toml:"client" json:"client" yaml:"client"`

	// Identity describes this process to the control plane.
	Identity IdentityConfig `toml:"identity" json:"identity" yaml:"identity"`

	// Capabilities toggles the protocol features advertised on each poll.
	Capabilities CapabilityConfig `toml:"capabilities" json:"capabilities" yaml:"capabilities"`

	// History configures the optional apply-history journal.
	History HistoryConfig `toml:"history" json:"history" yaml:"history"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Sink configures the file-sink products registered by the daemon.
	Sink SinkConfig `toml:"sink" json:"sink" yaml:"sink"`
}

// AgentConfig holds control-plane connection settings.
type AgentConfig struct {
	// URL is the control-plane base URL.
	URL string `toml:"url" json:"url" yaml:"url"`

	// Endpoint overrides the default configuration endpoint path.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	// PollIntervalMs is the poll cadence in milliseconds.
	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// TimeoutMs bounds each poll exchange in milliseconds.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// PollInterval returns the poll cadence as a duration.
func (a AgentConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// Timeout returns the per-exchange timeout as a duration.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// ClientConfig holds remote-configuration client behavior flags.
type ClientConfig struct {
	// LogPayloads logs full request and response bodies at debug level.
	LogPayloads bool `toml:"log_payloads" json:"log_payloads" yaml:"log_payloads"`

	// SkipShutdown leaves subscriber pipelines running on shutdown, for
	// hosts whose own teardown would otherwise deadlock against them.
	SkipShutdown bool `toml:"skip_shutdown" json:"skip_shutdown" yaml:"skip_shutdown"`
}

// IdentityConfig describes the process to the control plane.
type IdentityConfig struct {
	// Service is the service name reported in the client payload.
	Service string `toml:"service" json:"service" yaml:"service"`

	// Env is the deployment environment, e.g. "prod".
	Env string `toml:"env" json:"env" yaml:"env"`

	// AppVersion is the application version reported to the control plane.
	AppVersion string `toml:"app_version" json:"app_version" yaml:"app_version"`

	// ExtraServices are additional service names served by this process.
	ExtraServices []string `toml:"extra_services" json:"extra_services" yaml:"extra_services"`

	// Tags are free-form key/value tags attached to the client payload.
	Tags map[string]string `toml:"tags" json:"tags" yaml:"tags"`
}

// CapabilityConfig toggles advertised protocol features.
type CapabilityConfig struct {
	SampleRate     bool `toml:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
	LogsInjection  bool `toml:"logs_injection" json:"logs_injection" yaml:"logs_injection"`
	HTTPHeaderTags bool `toml:"http_header_tags" json:"http_header_tags" yaml:"http_header_tags"`
	CustomTags     bool `toml:"custom_tags" json:"custom_tags" yaml:"custom_tags"`
	TracingEnabled bool `toml:"tracing_enabled" json:"tracing_enabled" yaml:"tracing_enabled"`
	SampleRules    bool `toml:"sample_rules" json:"sample_rules" yaml:"sample_rules"`
}

// HistoryConfig holds apply-history journal settings.
type HistoryConfig struct {
	// Enabled turns the SQLite journal on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the journal database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled turns the scrape endpoint on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Addr is the listen address, e.g. "127.0.0.1:9102".
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// SinkConfig configures the daemon's file-sink products.
type SinkConfig struct {
	// Products are the product names to register.
	Products []string `toml:"products" json:"products" yaml:"products"`

	// SpoolDir is where received configs are materialized.
	SpoolDir string `toml:"spool_dir" json:"spool_dir" yaml:"spool_dir"`

	// Schemas maps a product name to a JSON schema file validating its
	// config content before delivery.
	Schemas map[string]string `toml:"schemas" json:"schemas" yaml:"schemas"`
}

// DataDir returns the base rcagent data directory, honoring the
// RCAGENT_DATA_DIR override.
func DataDir() string {
	if dir := os.Getenv("RCAGENT_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "rcagent")
	}
	return filepath.Join(home, ".rcagent")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Agent: AgentConfig{
			URL:            "http://localhost:8126",
			PollIntervalMs: 5000,
			TimeoutMs:      10000,
		},
		Client: ClientConfig{
			LogPayloads:  false,
			SkipShutdown: false,
		},
		Identity: IdentityConfig{
			Tags: map[string]string{},
		},
		Capabilities: CapabilityConfig{
			SampleRate:     true,
			LogsInjection:  true,
			HTTPHeaderTags: true,
			CustomTags:     true,
			TracingEnabled: true,
			SampleRules:    true,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(dir, "history.db"),
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "rcagent.log"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9102",
		},
		Sink: SinkConfig{
			SpoolDir: filepath.Join(dir, "spool"),
			Schemas:  map[string]string{},
		},
	}
}

// ApplyEnvOverrides applies RCAGENT_* environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RCAGENT_AGENT_URL"); v != "" {
		c.Agent.URL = v
	}
	if v := os.Getenv("RCAGENT_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Agent.PollIntervalMs = ms
		}
	}
	if v := os.Getenv("RCAGENT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Agent.TimeoutMs = ms
		}
	}
	if v := os.Getenv("RCAGENT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RCAGENT_LOG_PAYLOADS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Client.LogPayloads = b
		}
	}
	if v := os.Getenv("RCAGENT_SKIP_SHUTDOWN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Client.SkipShutdown = b
		}
	}
	if v := os.Getenv("RCAGENT_SERVICE"); v != "" {
		c.Identity.Service = v
	}
	if v := os.Getenv("RCAGENT_ENV"); v != "" {
		c.Identity.Env = v
	}
	if v := os.Getenv("RCAGENT_HISTORY_PATH"); v != "" {
		c.History.Path = v
		c.History.Enabled = true
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c

	clone.Identity.ExtraServices = append([]string(nil), c.Identity.ExtraServices...)
	clone.Identity.Tags = make(map[string]string, len(c.Identity.Tags))
	for k, v := range c.Identity.Tags {
		clone.Identity.Tags[k] = v
	}
	clone.Sink.Products = append([]string(nil), c.Sink.Products...)
	clone.Sink.Schemas = make(map[string]string, len(c.Sink.Schemas))
	for k, v := range c.Sink.Schemas {
		clone.Sink.Schemas[k] = v
	}
	return &clone
}
