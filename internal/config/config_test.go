// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "rpc.yaml", `
client:
  collective: "prod"
  discovery_timeout: "3s"
  timeout: "20s"
  batch_size: 5
  batch_sleep: "250ms"
  limit_targets: "25%"
  limit_method: "random"
  output_format: "json"
  discovery_method: "flatfile"
  discovery_options: ["/etc/coven/hosts"]

broker:
  grpc_addr: "10.0.0.1:50061"
  http_addr: "10.0.0.1:8081"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Client.Collective != "prod" {
		t.Errorf("Client.Collective = %q, want %q", cfg.Client.Collective, "prod")
	}
	if cfg.Client.DiscoveryTimeout != 3*time.Second {
		t.Errorf("Client.DiscoveryTimeout = %v, want 3s", cfg.Client.DiscoveryTimeout)
	}
	if cfg.Client.Timeout != 20*time.Second {
		t.Errorf("Client.Timeout = %v, want 20s", cfg.Client.Timeout)
	}
	if cfg.Client.BatchSleep != 250*time.Millisecond {
		t.Errorf("Client.BatchSleep = %v, want 250ms", cfg.Client.BatchSleep)
	}
	if cfg.Client.BatchSize != 5 {
		t.Errorf("Client.BatchSize = %d, want 5", cfg.Client.BatchSize)
	}
	if cfg.Broker.GRPCAddr != "10.0.0.1:50061" {
		t.Errorf("Broker.GRPCAddr = %q", cfg.Broker.GRPCAddr)
	}
	if len(cfg.Client.DiscoveryOptions) != 1 || cfg.Client.DiscoveryOptions[0] != "/etc/coven/hosts" {
		t.Errorf("Client.DiscoveryOptions = %v", cfg.Client.DiscoveryOptions)
	}

	// Keys not in the file keep their defaults.
	if !cfg.Client.DirectAddressing {
		t.Error("Client.DirectAddressing should default to true")
	}
	if cfg.Client.TTL != 60*time.Second {
		t.Errorf("Client.TTL = %v, want default 60s", cfg.Client.TTL)
	}
	if cfg.Auth.Caller != "unix" {
		t.Errorf("Auth.Caller = %q, want unix", cfg.Auth.Caller)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "rpc.toml", `
[client]
collective = "staging"
discovery_timeout = "5s"
limit_targets = "3"

[logging]
level = "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.Collective != "staging" {
		t.Errorf("Client.Collective = %q, want staging", cfg.Client.Collective)
	}
	if cfg.Client.DiscoveryTimeout != 5*time.Second {
		t.Errorf("Client.DiscoveryTimeout = %v, want 5s", cfg.Client.DiscoveryTimeout)
	}
	if cfg.Client.LimitTargets != "3" {
		t.Errorf("Client.LimitTargets = %q, want 3", cfg.Client.LimitTargets)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_COVEN_KEY", "/home/test/.ssh/id_ed25519")
	t.Setenv("TEST_COVEN_COLLECTIVE", "lab")

	path := writeConfig(t, "rpc.yaml", `
client:
  collective: "${TEST_COVEN_COLLECTIVE}"
auth:
  caller: "ssh"
  ssh_private_key: "${TEST_COVEN_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Client.Collective != "lab" {
		t.Errorf("Client.Collective = %q, want lab", cfg.Client.Collective)
	}
	if cfg.Auth.SSHPrivateKey != "/home/test/.ssh/id_ed25519" {
		t.Errorf("Auth.SSHPrivateKey = %q", cfg.Auth.SSHPrivateKey)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "client:\n  discovery_timeout: \"soon\"\n", "discovery_timeout"},
		{"negative duration", "client:\n  batch_sleep: \"-1s\"\n", "must not be negative"},
		{"bad limit method", "client:\n  limit_method: \"last\"\n", "limit_method"},
		{"bad limit", "client:\n  limit_targets: \"ten\"\n", "limit_targets"},
		{"zero limit", "client:\n  limit_targets: \"0\"\n", "must be at least 1"},
		{"bad output", "client:\n  output_format: \"xml\"\n", "output_format"},
		{"bad discovery method", "client:\n  discovery_method: \"mc\"\n", "discovery_method"},
		{"inventory without db", "client:\n  discovery_method: \"inventory\"\n", "database.path"},
		{"ssh without key", "auth:\n  caller: \"ssh\"\n", "ssh_private_key"},
		{"empty collective", "client:\n  collective: \"\"\n", "collective"},
		{"negative batch", "client:\n  batch_size: -1\n", "batch_size"},
		{"metrics path", "metrics:\n  enabled: true\n  path: \"metrics\"\n", "metrics.path"},
		{"invalid yaml", "client: [unclosed", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "rpc.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
	if cfg.Client.DiscoveryTimeout != 2*time.Second {
		t.Errorf("DiscoveryTimeout = %v, want 2s", cfg.Client.DiscoveryTimeout)
	}
}

func TestPath(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		t.Setenv("COVEN_RPC_CONFIG", "/etc/coven/custom.yaml")
		if got := Path("COVEN_RPC_CONFIG", "rpc"); got != "/etc/coven/custom.yaml" {
			t.Errorf("Path() = %q", got)
		}
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("COVEN_RPC_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		if got := Path("COVEN_RPC_CONFIG", "rpc"); got != "/tmp/xdg/coven/rpc.yaml" {
			t.Errorf("Path() = %q", got)
		}
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("COVEN_BROKER_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/tester")
		if got := Path("COVEN_BROKER_CONFIG", "broker"); got != "/home/tester/.config/coven/broker.yaml" {
			t.Errorf("Path() = %q", got)
		}
	})
}

func TestSettings(t *testing.T) {
	cfg := Default()
	cfg.Client.OutputFormat = "json"
	cfg.Client.BatchSize = 4
	cfg.Client.LimitTargets = "10%"

	s := cfg.Settings()
	if s.Console {
		t.Error("json output should not be console")
	}
	if s.BatchSize != 4 || s.LimitTargets != "10%" {
		t.Errorf("Settings() = %+v", s)
	}
	if s.DiscoveryTimeout != 2*time.Second || s.BatchSleep != time.Second {
		t.Errorf("durations not carried: %+v", s)
	}
	if s.Collective != "coven" || !s.DirectAddressing {
		t.Errorf("Settings() = %+v", s)
	}
}

func TestNewLogger(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LoggingConfig{Level: "warn", Format: "text"}, &buf)
		logger.Info("hidden")
		logger.With("component", "broker").WithGroup("req").Warn("slow", "id", "abc")

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("info should be filtered at warn level: %q", out)
		}
		if !strings.Contains(out, "WRN slow component=broker req.id=abc") {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LoggingConfig{Level: "debug", Format: "json"}, &buf)
		logger.Debug("hello", "n", 1)
		if !strings.Contains(buf.String(), `"msg":"hello"`) {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})
}
