// ABOUTME: Configuration loading and parsing for actor-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "ACTOR_GATEWAY_CONFIG"

// Cluster backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config represents the complete actor-gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`
	Cluster ClusterConfig `yaml:"cluster" toml:"cluster"`
	NATS    NATSConfig    `yaml:"nats" toml:"nats"`
	State   StateConfig   `yaml:"state" toml:"state"`
	Events  EventsConfig  `yaml:"events" toml:"events"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// GatewayConfig identifies this gateway and bounds the calls it routes.
type GatewayConfig struct {
	ID            string `yaml:"id" toml:"id"`
	AdvertiseAddr string `yaml:"advertise_addr" toml:"advertise_addr"`

	ResponseTimeout  time.Duration `yaml:"-" toml:"-"`
	AnnounceInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ResponseTimeoutRaw  string `yaml:"response_timeout" toml:"response_timeout"`
	AnnounceIntervalRaw string `yaml:"announce_interval" toml:"announce_interval"`
}

// ClusterConfig selects where agent placements and subscriptions are shared.
type ClusterConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	SQLitePath    string `yaml:"sqlite_path" toml:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`

	GatewayTTL    time.Duration `yaml:"-" toml:"-"`
	GatewayTTLRaw string        `yaml:"gateway_ttl" toml:"gateway_ttl"`
}

// NATSConfig configures the bus gateways use to reach each other.
type NATSConfig struct {
	URL      string `yaml:"url" toml:"url"`
	Embedded bool   `yaml:"embedded" toml:"embedded"`
	Port     int    `yaml:"port" toml:"port"`
	DataDir  string `yaml:"data_dir" toml:"data_dir"`
}

// Enabled reports whether the gateway should join a peer bus at all.
func (n NATSConfig) Enabled() bool {
	return n.URL != "" || n.Embedded
}

// StateConfig holds the agent state store location. An empty path keeps
// state in memory.
type StateConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// EventsConfig controls duplicate event suppression.
type EventsConfig struct {
	DedupeSize int `yaml:"dedupe_size" toml:"dedupe_size"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
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
}

// Default returns a single-gateway configuration that needs no external services.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			GRPCAddr: "127.0.0.1:50051",
			HTTPAddr: "127.0.0.1:8080",
		},
		Gateway: GatewayConfig{
			ID:               "gw-" + uuid.NewString()[:8],
			ResponseTimeout:  30 * time.Second,
			AnnounceInterval: 10 * time.Second,
		},
		Cluster: ClusterConfig{
			Backend:    BackendMemory,
			GatewayTTL: 30 * time.Second,
		},
		Events: EventsConfig{
			DedupeTTL:  5 * time.Minute,
			DedupeSize: 10000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	return cfg
}

// DefaultPath returns the config file location: $ACTOR_GATEWAY_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/actor-gateway/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "actor-gateway", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Unset values fall back to Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.GRPCAddr == "" {
		return fmt.Errorf("%w: server.grpc_addr is required", ErrInvalid)
	}
	if c.Gateway.ID == "" {
		return fmt.Errorf("%w: gateway.id is required", ErrInvalid)
	}
	if strings.ContainsAny(c.Gateway.ID, ". *>") {
		return fmt.Errorf("%w: gateway.id %q may not contain '.', '*', '>' or spaces", ErrInvalid, c.Gateway.ID)
	}
	if c.Gateway.ResponseTimeout <= 0 {
		return fmt.Errorf("%w: gateway.response_timeout must be positive", ErrInvalid)
	}

	switch c.Cluster.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Cluster.SQLitePath == "" {
			return fmt.Errorf("%w: cluster.sqlite_path is required for the sqlite backend", ErrInvalid)
		}
	case BackendRedis:
		if c.Cluster.RedisAddr == "" {
			return fmt.Errorf("%w: cluster.redis_addr is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown cluster.backend %q", ErrInvalid, c.Cluster.Backend)
	}

	if c.Cluster.Backend != BackendMemory {
		if !c.NATS.Enabled() {
			return fmt.Errorf("%w: a shared cluster backend needs nats.url or nats.embedded", ErrInvalid)
		}
		if c.Gateway.AnnounceInterval <= 0 {
			return fmt.Errorf("%w: gateway.announce_interval must be positive", ErrInvalid)
		}
		if c.Cluster.GatewayTTL <= c.Gateway.AnnounceInterval {
			return fmt.Errorf("%w: cluster.gateway_ttl (%s) must exceed gateway.announce_interval (%s)",
				ErrInvalid, c.Cluster.GatewayTTL, c.Gateway.AnnounceInterval)
		}
	}

	if c.Events.DedupeSize < 0 {
		return fmt.Errorf("%w: events.dedupe_size may not be negative", ErrInvalid)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalid)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("%w: metrics.path must start with /", ErrInvalid)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.response_timeout", cfg.Gateway.ResponseTimeoutRaw, &cfg.Gateway.ResponseTimeout},
		{"gateway.announce_interval", cfg.Gateway.AnnounceIntervalRaw, &cfg.Gateway.AnnounceInterval},
		{"cluster.gateway_ttl", cfg.Cluster.GatewayTTLRaw, &cfg.Cluster.GatewayTTL},
		{"events.dedupe_ttl", cfg.Events.DedupeTTLRaw, &cfg.Events.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
