// ABOUTME: Configuration loading and parsing for coven-rpc and coven-broker
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-rpc/internal/discovery"
	"github.com/2389/coven-rpc/internal/rpc"
)

// Config represents the complete coven-rpc configuration
type Config struct {
	Client   ClientConfig   `yaml:"client" toml:"client"`
	Broker   BrokerConfig   `yaml:"broker" toml:"broker"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	DDL      DDLConfig      `yaml:"ddl" toml:"ddl"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ClientConfig holds the knobs of the RPC client
type ClientConfig struct {
	Collective       string   `yaml:"collective" toml:"collective"`
	BatchSize        int      `yaml:"batch_size" toml:"batch_size"`
	LimitTargets     string   `yaml:"limit_targets" toml:"limit_targets"`
	LimitMethod      string   `yaml:"limit_method" toml:"limit_method"`
	DirectAddressing bool     `yaml:"direct_addressing" toml:"direct_addressing"`
	Progress         bool     `yaml:"progress" toml:"progress"`
	OutputFormat     string   `yaml:"output_format" toml:"output_format"`
	ReplyTo          string   `yaml:"reply_to" toml:"reply_to"`
	DiscoveryMethod  string   `yaml:"discovery_method" toml:"discovery_method"`
	DiscoveryOptions []string `yaml:"discovery_options" toml:"discovery_options"`

	DiscoveryTimeout  time.Duration `yaml:"-" toml:"-"`
	Timeout           time.Duration `yaml:"-" toml:"-"`
	BatchSleep        time.Duration `yaml:"-" toml:"-"`
	TTL               time.Duration `yaml:"-" toml:"-"`
	DiscoveryCacheTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	DiscoveryTimeoutRaw  string `yaml:"discovery_timeout" toml:"discovery_timeout"`
	TimeoutRaw           string `yaml:"timeout" toml:"timeout"`
	BatchSleepRaw        string `yaml:"batch_sleep" toml:"batch_sleep"`
	TTLRaw               string `yaml:"ttl" toml:"ttl"`
	DiscoveryCacheTTLRaw string `yaml:"discovery_cache_ttl" toml:"discovery_cache_ttl"`
}

// BrokerConfig holds broker address configuration
type BrokerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// AuthConfig holds caller identity and request signing configuration
type AuthConfig struct {
	Caller              string   `yaml:"caller" toml:"caller"`
	SSHPublicKey        string   `yaml:"ssh_public_key" toml:"ssh_public_key"`
	SSHPrivateKey       string   `yaml:"ssh_private_key" toml:"ssh_private_key"`
	AllowedFingerprints []string `yaml:"allowed_fingerprints" toml:"allowed_fingerprints"`
}

// DDLConfig points at the action descriptor directory
type DDLConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// DatabaseConfig holds the broker inventory database location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
	// Textfile is where coven-rpc writes its call metrics for a node
	// exporter textfile collector.
	Textfile string `yaml:"textfile" toml:"textfile"`
}

// Discovery methods.
const (
	DiscoveryBroker    = "broker"
	DiscoveryFlatFile  = "flatfile"
	DiscoveryInventory = "inventory"
)

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Collective:           "coven",
			LimitMethod:          "first",
			DirectAddressing:     true,
			Progress:             true,
			OutputFormat:         "console",
			DiscoveryMethod:      DiscoveryBroker,
			DiscoveryTimeout:     2 * time.Second,
			BatchSleep:           time.Second,
			TTL:                  60 * time.Second,
			DiscoveryTimeoutRaw:  "2s",
			BatchSleepRaw:        "1s",
			TTLRaw:               "60s",
			DiscoveryCacheTTLRaw: "0s",
		},
		Broker: BrokerConfig{
			GRPCAddr: "127.0.0.1:50061",
			HTTPAddr: "127.0.0.1:8081",
		},
		Auth: AuthConfig{
			Caller: "unix",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded and
// unset keys keep their Default() values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default() when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Path returns the config file location for name (e.g. "rpc" or "broker").
// Priority: envVar > XDG_CONFIG_HOME/coven/<name>.yaml > ~/.config/coven/<name>.yaml
func Path(envVar, name string) string {
	if envPath := os.Getenv(envVar); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return name + ".yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", name+".yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Client.Collective == "" {
		return fmt.Errorf("client.collective is required")
	}
	if c.Client.BatchSize < 0 {
		return fmt.Errorf("client.batch_size must not be negative")
	}
	if _, err := discovery.ParseLimitMethod(c.Client.LimitMethod); err != nil {
		return fmt.Errorf("client.limit_method: %w", err)
	}
	if c.Client.LimitTargets != "" {
		if _, err := discovery.ParseLimit(c.Client.LimitTargets); err != nil {
			return fmt.Errorf("client.limit_targets: %w", err)
		}
	}

	switch c.Client.OutputFormat {
	case "console", "json":
	default:
		return fmt.Errorf("client.output_format must be console or json, got %q", c.Client.OutputFormat)
	}

	switch c.Client.DiscoveryMethod {
	case DiscoveryBroker, DiscoveryFlatFile:
	case DiscoveryInventory:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for inventory discovery")
		}
	default:
		return fmt.Errorf("client.discovery_method must be broker, flatfile or inventory, got %q", c.Client.DiscoveryMethod)
	}

	switch c.Auth.Caller {
	case "unix":
	case "ssh":
		if c.Auth.SSHPrivateKey == "" {
			return fmt.Errorf("auth.ssh_private_key is required for ssh callers")
		}
	default:
		return fmt.Errorf("auth.caller must be unix or ssh, got %q", c.Auth.Caller)
	}

	if c.Broker.GRPCAddr == "" {
		return fmt.Errorf("broker.grpc_addr is required")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// Settings converts the client section into rpc client settings.
func (c *Config) Settings() rpc.Settings {
	return rpc.Settings{
		Collective:       c.Client.Collective,
		DiscoveryTimeout: c.Client.DiscoveryTimeout,
		Timeout:          c.Client.Timeout,
		TTL:              c.Client.TTL,
		DirectAddressing: c.Client.DirectAddressing,
		BatchSize:        c.Client.BatchSize,
		BatchSleep:       c.Client.BatchSleep,
		LimitTargets:     c.Client.LimitTargets,
		LimitMethod:      c.Client.LimitMethod,
		ReplyTo:          c.Client.ReplyTo,
		Progress:         c.Client.Progress,
		Console:          c.Client.OutputFormat != "json",
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"discovery_timeout", cfg.Client.DiscoveryTimeoutRaw, &cfg.Client.DiscoveryTimeout},
		{"timeout", cfg.Client.TimeoutRaw, &cfg.Client.Timeout},
		{"batch_sleep", cfg.Client.BatchSleepRaw, &cfg.Client.BatchSleep},
		{"ttl", cfg.Client.TTLRaw, &cfg.Client.TTL},
		{"discovery_cache_ttl", cfg.Client.DiscoveryCacheTTLRaw, &cfg.Client.DiscoveryCacheTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = 0
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
