// Package config provides configuration structures and loading logic for the
// sanitization service and the policy document it enforces.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-dlp/pkg/domain"
)

// Audit sink kinds.
const (
	AuditSinkFile   = "file"
	AuditSinkStdout = "stdout"
	AuditSinkRedis  = "redis"
)

// Offset units a detector provider may report.
const (
	OffsetsRunes = "runes"
	OffsetsBytes = "bytes"
)

// Config holds the global configuration for the service.
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Telemetry TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Policy    PolicyConfig     `yaml:"policy" json:"policy"`
	Audit     AuditConfig      `yaml:"audit" json:"audit"`
	Pipeline  PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	Detectors []DetectorConfig `yaml:"detectors" json:"detectors"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	TLS             *TLSConfig    `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name" json:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// PolicyConfig locates the policy document and controls hot reload.
type PolicyConfig struct {
	File     string        `yaml:"file" json:"file"`
	Watch    bool          `yaml:"watch" json:"watch"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// AuditConfig selects where audit records are appended. Several sinks may be
// listed; records then fan out to all of them.
type AuditConfig struct {
	Sinks []string    `yaml:"sinks" json:"sinks"`
	Path  string      `yaml:"path" json:"path"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the redis audit sink.
type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
	Key string `yaml:"key" json:"key"`
}

// PipelineConfig bounds detector execution per run.
type PipelineConfig struct {
	ProviderTimeout time.Duration `yaml:"provider_timeout" json:"provider_timeout"`
	MaxConcurrency  int           `yaml:"max_concurrency" json:"max_concurrency"`
}

// DetectorConfig declares one probabilistic detector reached over HTTP.
type DetectorConfig struct {
	Name    string            `yaml:"name" json:"name"`
	URL     string            `yaml:"url" json:"url"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout"`
	Offsets string            `yaml:"offsets" json:"offsets"`
	Retries uint64            `yaml:"retries" json:"retries"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Breaker BreakerConfig     `yaml:"breaker" json:"breaker"`
}

// BreakerConfig tunes the per-detector circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    4 << 20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "polis-dlp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Policy: PolicyConfig{
			File:     "policy.yaml",
			Debounce: 500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Sinks: []string{AuditSinkFile},
			Path:  "audit.log",
			Redis: RedisConfig{Key: "polis-dlp:audit"},
		},
		Pipeline: PipelineConfig{
			ProviderTimeout: 2 * time.Second,
			MaxConcurrency:  8,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("POLIS_DLP_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("POLIS_DLP_POLICY_FILE"); val != "" {
		cfg.Policy.File = val
	}
	if val := os.Getenv("POLIS_DLP_POLICY_WATCH"); val != "" {
		cfg.Policy.Watch = val == "true"
	}

	if val := os.Getenv("POLIS_DLP_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("POLIS_DLP_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("POLIS_DLP_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("POLIS_DLP_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("POLIS_DLP_AUDIT_SINKS"); val != "" {
		parts := strings.Split(val, ",")
		sinks := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				sinks = append(sinks, p)
			}
		}
		cfg.Audit.Sinks = sinks
	}
	if val := os.Getenv("POLIS_DLP_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}
	if val := os.Getenv("POLIS_DLP_REDIS_URL"); val != "" {
		cfg.Audit.Redis.URL = val
	}

	if val := os.Getenv("POLIS_DLP_PROVIDER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pipeline.ProviderTimeout = d
		}
	}
	if val := os.Getenv("POLIS_DLP_MAX_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.MaxConcurrency = n
		}
	}
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("%w: policy configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("%w: audit configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("%w: pipeline configuration: %w", domain.ErrConfigInvalid, err)
	}

	names := make(map[string]struct{}, len(c.Detectors))
	for i := range c.Detectors {
		d := &c.Detectors[i]
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: detector %d: %w", domain.ErrConfigInvalid, i, err)
		}
		if _, dup := names[d.Name]; dup {
			return fmt.Errorf("%w: duplicate detector name %q", domain.ErrConfigInvalid, d.Name)
		}
		names[d.Name] = struct{}{}
	}

	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}

// Validate performs validation of the policy location.
func (c *PolicyConfig) Validate() error {
	if strings.TrimSpace(c.File) == "" {
		return NewConfigMissingError("policy.file")
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	return nil
}

// Validate checks the configured audit sinks.
func (c *AuditConfig) Validate() error {
	for _, sink := range c.Sinks {
		switch sink {
		case AuditSinkFile:
			if strings.TrimSpace(c.Path) == "" {
				return NewConfigMissingError("audit.path").
					WithSuggestion("Set audit.path to a writable JSONL file")
			}
		case AuditSinkStdout:
		case AuditSinkRedis:
			if strings.TrimSpace(c.Redis.URL) == "" {
				return NewConfigMissingError("audit.redis.url").
					WithSuggestion("Use a redis:// URL, for example redis://localhost:6379/0")
			}
			if strings.TrimSpace(c.Redis.Key) == "" {
				c.Redis.Key = "polis-dlp:audit"
			}
		default:
			return NewConfigValidationError("audit.sinks", sink, "unknown sink").
				WithSuggestion("Supported sinks: file, stdout, redis")
		}
	}
	return nil
}

// Validate performs validation of pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 2 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	return nil
}

// Validate checks a detector declaration and fills defaults.
func (c *DetectorConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return NewConfigMissingError("name")
	}
	if strings.TrimSpace(c.URL) == "" {
		return NewConfigMissingError("url")
	}
	switch c.Offsets {
	case "":
		c.Offsets = OffsetsRunes
	case OffsetsRunes, OffsetsBytes:
	default:
		return NewConfigValidationError("offsets", c.Offsets, "must be runes or bytes")
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Cooldown <= 0 {
		c.Breaker.Cooldown = 30 * time.Second
	}
	return nil
}
