// Package config defines the bridge configuration structures and their
// defaults. Values come from a YAML file with environment expansion; the
// gateway token can additionally be resolved from the OS keyring or
// environment.
package config

import "time"

// Config holds all bridge configuration.
type Config struct {
	// Gateway configures the OpenClaw gateway connection.
	Gateway GatewayConfig `yaml:"gateway"`

	// Poll configures the status poll cycle.
	Poll PollConfig `yaml:"poll"`

	// History configures chat log persistence.
	History HistoryConfig `yaml:"history"`

	// Server configures the host-facing HTTP API.
	Server ServerConfig `yaml:"server"`

	// Scheduler configures cron-scheduled prompts.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Context configures the system prompt context budget.
	Context ContextConfig `yaml:"context"`

	// Instructions is the static system prompt prefix sent with every
	// message. Host context is appended after it.
	Instructions string `yaml:"instructions"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig is the OpenClaw gateway connection profile.
type GatewayConfig struct {
	// Host is the gateway hostname or IP.
	Host string `yaml:"host"`

	// Port is the gateway port.
	Port int `yaml:"port"`

	// UseTLS selects https.
	UseTLS bool `yaml:"use_tls"`

	// VerifyTLS controls certificate verification. Disable for
	// self-signed certificates (lan_https mode).
	VerifyTLS bool `yaml:"verify_tls"`

	// Token is the gateway bearer token. Resolution order: OS keyring,
	// OPENCLAW_GATEWAY_TOKEN env var, this value.
	Token string `yaml:"token"`

	// AgentID is the target OpenClaw agent (default "main").
	AgentID string `yaml:"agent_id"`

	// ConfigRoot is the directory holding .openclaw/openclaw.json, used
	// to re-read the token after the addon rotates it.
	ConfigRoot string `yaml:"config_root"`
}

// PollConfig configures the coordinator.
type PollConfig struct {
	// Interval between status polls. Default: 30s.
	Interval time.Duration `yaml:"interval"`
}

// HistoryConfig configures chat log persistence.
type HistoryConfig struct {
	// DBPath is the SQLite database file. Empty disables persistence.
	DBPath string `yaml:"db_path"`
}

// ServerConfig configures the host HTTP API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`

	// AuthToken is the Bearer token for the host API (empty = no auth).
	AuthToken string `yaml:"auth_token"`
}

// SchedulerConfig configures scheduled prompts.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ContextConfig bounds the host context block in the system prompt.
type ContextConfig struct {
	// MaxChars is the context budget. 0 means unlimited.
	MaxChars int `yaml:"max_chars"`

	// Strategy is applied when the context exceeds the budget:
	// truncate_end, truncate_start, or drop.
	Strategy string `yaml:"strategy"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:      "127.0.0.1",
			Port:      18789,
			VerifyTLS: true,
			AgentID:   "main",
		},
		Poll:    PollConfig{Interval: 30 * time.Second},
		History: HistoryConfig{DBPath: "./data/clawbridge.db"},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8930",
		},
		Scheduler: SchedulerConfig{Enabled: true},
		Context: ContextConfig{
			MaxChars: 6000,
			Strategy: "truncate_end",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
