package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.APIHost != "0.0.0.0" || cfg.APIPort != 8080 {
		t.Errorf("api addr = %s:%d, want 0.0.0.0:8080", cfg.APIHost, cfg.APIPort)
	}
	if cfg.Agent.Protocol != "http" || cfg.Agent.ControlPort != 3002 {
		t.Errorf("agent = %s:%d, want http:3002", cfg.Agent.Protocol, cfg.Agent.ControlPort)
	}
	if cfg.Agent.CallTimeout != 8*time.Second {
		t.Errorf("call timeout = %v, want 8s", cfg.Agent.CallTimeout)
	}
	if cfg.Telemetry.StalenessThreshold != 48*time.Hour {
		t.Errorf("staleness threshold = %v, want 48h", cfg.Telemetry.StalenessThreshold)
	}
	if cfg.Telemetry.OfflineThreshold != 10*time.Minute {
		t.Errorf("offline threshold = %v, want 10m", cfg.Telemetry.OfflineThreshold)
	}
	if cfg.Latency.PollInterval != 3*time.Second || cfg.Latency.PollCeiling != 35*time.Second {
		t.Errorf("latency polling = %v/%v, want 3s/35s", cfg.Latency.PollInterval, cfg.Latency.PollCeiling)
	}
	if len(cfg.Latency.Targets) != len(DefaultLatencyTargets) {
		t.Errorf("targets = %d, want %d defaults", len(cfg.Latency.Targets), len(DefaultLatencyTargets))
	}
	if cfg.Geo.DebounceWindow != 200*time.Millisecond {
		t.Errorf("debounce window = %v, want 200ms", cfg.Geo.DebounceWindow)
	}
	// The shared agent credential is optional at startup.
	if cfg.Agent.APIKey != "" {
		t.Errorf("api key = %q, want empty by default", cfg.Agent.APIKey)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("AGENT_API_KEY", "hunter2")
	t.Setenv("OFFLINE_THRESHOLD", "5m")
	t.Setenv("LATENCY_TARGETS", "one.example.com:443, two.example.com:443")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("port = %d, want 9090", cfg.APIPort)
	}
	if cfg.Agent.APIKey != "hunter2" {
		t.Errorf("api key = %q, want hunter2", cfg.Agent.APIKey)
	}
	if cfg.Telemetry.OfflineThreshold != 5*time.Minute {
		t.Errorf("offline threshold = %v, want 5m", cfg.Telemetry.OfflineThreshold)
	}
	want := []string{"one.example.com:443", "two.example.com:443"}
	if len(cfg.Latency.Targets) != 2 || cfg.Latency.Targets[0] != want[0] || cfg.Latency.Targets[1] != want[1] {
		t.Errorf("targets = %v, want %v", cfg.Latency.Targets, want)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	overlay := []byte("api_port: 7070\nagent:\n  protocol: https\n  control_port: 4000\n")
	if err := os.WriteFile(path, overlay, 0o600); err != nil {
		t.Fatalf("writing overlay: %v", err)
	}
	t.Setenv("FLEET_CONFIG", path)
	// Environment wins over the overlay.
	t.Setenv("AGENT_CONTROL_PORT", "4500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.APIPort != 7070 {
		t.Errorf("port = %d, want 7070 from overlay", cfg.APIPort)
	}
	if cfg.Agent.Protocol != "https" {
		t.Errorf("protocol = %q, want https from overlay", cfg.Agent.Protocol)
	}
	if cfg.Agent.ControlPort != 4500 {
		t.Errorf("control port = %d, env must win over overlay", cfg.Agent.ControlPort)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad protocol", func(c *Config) { c.Agent.Protocol = "gopher" }},
		{"zero control port", func(c *Config) { c.Agent.ControlPort = 0 }},
		{"port out of range", func(c *Config) { c.Agent.ControlPort = 70000 }},
		{"zero call timeout", func(c *Config) { c.Agent.CallTimeout = 0 }},
		{"zero concurrency", func(c *Config) { c.Agent.DispatchConcurrency = 0 }},
		{"zero offline threshold", func(c *Config) { c.Telemetry.OfflineThreshold = 0 }},
		{"zero poll interval", func(c *Config) { c.Latency.PollInterval = 0 }},
		{"no latency targets", func(c *Config) { c.Latency.Targets = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadWithDefaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}

func TestLoadRejectsMissingOverlayFile(t *testing.T) {
	t.Setenv("FLEET_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("Load should fail when FLEET_CONFIG names a missing file")
	}
}
