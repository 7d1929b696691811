// Package config provides environment-based configuration for the fleet master.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultLatencyTargets are the external hosts probed by a latency test when
// no targets are configured.
var DefaultLatencyTargets = []string{
	"www.google.com:443",
	"www.cloudflare.com:443",
	"www.amazon.com:443",
	"www.apple.com:443",
	"www.netflix.com:443",
	"www.youtube.com:443",
	"www.github.com:443",
	"www.microsoft.com:443",
}

// Config holds all configuration for the fleet master. It is constructed
// once at process start and injected into every component; there are no
// ambient configuration globals.
type Config struct {
	// Server configuration
	APIHost string `yaml:"api_host"`
	APIPort int    `yaml:"api_port"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Agent control configuration
	Agent AgentConfig `yaml:"agent"`

	// Telemetry configuration
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Latency test configuration
	Latency LatencyConfig `yaml:"latency"`

	// Geo clustering configuration
	Geo GeoConfig `yaml:"geo"`
}

// AgentConfig holds settings for reaching node agents.
type AgentConfig struct {
	// Protocol used for agent control calls, http or https.
	Protocol string `yaml:"protocol"`
	// ControlPort is the port the agent control endpoint listens on.
	ControlPort int `yaml:"control_port"`
	// CallTimeout bounds every trigger call to an agent.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// APIKey is the process-wide shared control credential. Dispatch fails
	// fast when it is absent.
	APIKey string `yaml:"api_key"`
	// DispatchConcurrency limits how many trigger calls run in parallel.
	DispatchConcurrency int `yaml:"dispatch_concurrency"`
}

// TelemetryConfig holds heartbeat staleness settings.
type TelemetryConfig struct {
	// StalenessThreshold is the window after which a node's newest sample
	// counts as expired for scoring.
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	// OfflineThreshold is the heartbeat age beyond which an online node is
	// flipped to offline.
	OfflineThreshold time.Duration `yaml:"offline_threshold"`
	// OfflineCheckInterval is how often the staleness monitor scans the fleet.
	OfflineCheckInterval time.Duration `yaml:"offline_check_interval"`
}

// LatencyConfig holds latency test settings.
type LatencyConfig struct {
	// PollInterval is how often a coordinator fetches incremental results.
	PollInterval time.Duration `yaml:"poll_interval"`
	// PollCeiling forces a coordinator into the timed-out state regardless
	// of per-target progress.
	PollCeiling time.Duration `yaml:"poll_ceiling"`
	// ProbeTimeout bounds each external-target probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// Targets are the external hosts probed per session.
	Targets []string `yaml:"targets"`
}

// GeoConfig holds map clustering settings.
type GeoConfig struct {
	// DebounceWindow coalesces zoom-change bursts before reclustering.
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

// Load reads configuration from environment variables, applying an optional
// YAML overlay file named by FLEET_CONFIG before validation. Environment
// variables take precedence over the overlay.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults returns a configuration with defaults only, useful for
// testing. It does not consult the environment or validate.
func LoadWithDefaults() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		APIHost:         "0.0.0.0",
		APIPort:         8080,
		ShutdownTimeout: 30 * time.Second,
		Agent: AgentConfig{
			Protocol:            "http",
			ControlPort:         3002,
			CallTimeout:         8 * time.Second,
			DispatchConcurrency: 32,
		},
		Telemetry: TelemetryConfig{
			StalenessThreshold:   48 * time.Hour,
			OfflineThreshold:     10 * time.Minute,
			OfflineCheckInterval: time.Minute,
		},
		Latency: LatencyConfig{
			PollInterval: 3 * time.Second,
			PollCeiling:  35 * time.Second,
			ProbeTimeout: 10 * time.Second,
			Targets:      append([]string(nil), DefaultLatencyTargets...),
		},
		Geo: GeoConfig{
			DebounceWindow: 200 * time.Millisecond,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.APIHost = getEnv("API_HOST", cfg.APIHost)
	cfg.APIPort = getIntEnv("API_PORT", cfg.APIPort)
	cfg.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.Agent.Protocol = getEnv("AGENT_PROTOCOL", cfg.Agent.Protocol)
	cfg.Agent.ControlPort = getIntEnv("AGENT_CONTROL_PORT", cfg.Agent.ControlPort)
	cfg.Agent.CallTimeout = getDurationEnv("AGENT_CALL_TIMEOUT", cfg.Agent.CallTimeout)
	cfg.Agent.APIKey = getEnv("AGENT_API_KEY", cfg.Agent.APIKey)
	cfg.Agent.DispatchConcurrency = getIntEnv("DISPATCH_CONCURRENCY", cfg.Agent.DispatchConcurrency)

	cfg.Telemetry.StalenessThreshold = getDurationEnv("STALENESS_THRESHOLD", cfg.Telemetry.StalenessThreshold)
	cfg.Telemetry.OfflineThreshold = getDurationEnv("OFFLINE_THRESHOLD", cfg.Telemetry.OfflineThreshold)
	cfg.Telemetry.OfflineCheckInterval = getDurationEnv("OFFLINE_CHECK_INTERVAL", cfg.Telemetry.OfflineCheckInterval)

	cfg.Latency.PollInterval = getDurationEnv("LATENCY_POLL_INTERVAL", cfg.Latency.PollInterval)
	cfg.Latency.PollCeiling = getDurationEnv("LATENCY_POLL_CEILING", cfg.Latency.PollCeiling)
	cfg.Latency.ProbeTimeout = getDurationEnv("LATENCY_PROBE_TIMEOUT", cfg.Latency.ProbeTimeout)
	if targets := getEnv("LATENCY_TARGETS", ""); targets != "" {
		cfg.Latency.Targets = splitAndTrim(targets)
	}

	cfg.Geo.DebounceWindow = getDurationEnv("GEO_DEBOUNCE_WINDOW", cfg.Geo.DebounceWindow)
}

// Validate checks that configuration values are usable. The agent API key is
// deliberately not required here: its absence is a per-job MISCONFIGURED
// condition surfaced by the dispatcher, not a startup failure.
func (c *Config) Validate() error {
	if c.Agent.Protocol != "http" && c.Agent.Protocol != "https" {
		return fmt.Errorf("AGENT_PROTOCOL must be http or https, got %q", c.Agent.Protocol)
	}
	if c.Agent.ControlPort <= 0 || c.Agent.ControlPort > 65535 {
		return fmt.Errorf("AGENT_CONTROL_PORT must be a valid port, got %d", c.Agent.ControlPort)
	}
	if c.Agent.CallTimeout <= 0 {
		return fmt.Errorf("AGENT_CALL_TIMEOUT must be positive")
	}
	if c.Agent.DispatchConcurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive")
	}
	if c.Telemetry.OfflineThreshold <= 0 {
		return fmt.Errorf("OFFLINE_THRESHOLD must be positive")
	}
	if c.Latency.PollInterval <= 0 || c.Latency.PollCeiling <= 0 {
		return fmt.Errorf("latency poll interval and ceiling must be positive")
	}
	if len(c.Latency.Targets) == 0 {
		return fmt.Errorf("at least one latency target is required")
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
