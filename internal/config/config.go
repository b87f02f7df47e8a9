// Package config provides configuration management for the matchkit gateway
// with hot-reload support. It uses fsnotify to watch for file changes and
// atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
	Cache     CacheConfig     `yaml:"cache"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// InferenceConfig contains the engine's latency and concurrency knobs.
type InferenceConfig struct {
	MaxResponseTimeMS    int    `yaml:"max_response_time_ms"`    // hard deadline ceiling (default: 100)
	TargetResponseTimeMS int    `yaml:"target_response_time_ms"` // warn threshold (default: 50)
	ExecutionMode        string `yaml:"execution_mode"`          // none, basic, quantized, compiled
	WorkerPoolWidth      int    `yaml:"worker_pool_width"`       // concurrent scoring bound (default: 8)
	QueueCapacity        int    `yaml:"queue_capacity"`          // background queue bound (default: 1000)
}

// CacheConfig contains cache tier settings.
type CacheConfig struct {
	InProcessCapacity    int           `yaml:"in_process_capacity"`   // per-kind entry cap (default: 1000)
	EmbeddingTTL         time.Duration `yaml:"embedding_cache_ttl"`   // default: 1 hour
	CounterpartFreshness time.Duration `yaml:"counterpart_freshness"` // default: 1 hour
	PredictionTTL        time.Duration `yaml:"prediction_cache_ttl"`  // default: 5 minutes
	FeatureTTL           time.Duration `yaml:"feature_cache_ttl"`     // default: 30 minutes

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains durable-tier settings.
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Namespace string        `yaml:"namespace"`
	OpTimeout time.Duration `yaml:"op_timeout"` // per-operation budget (default: 50ms)
}

// MonitorConfig contains performance-monitor settings.
type MonitorConfig struct {
	Interval        time.Duration `yaml:"metrics_interval"`  // snapshot cadence (default: 60s)
	WindowSize      int           `yaml:"window_size"`       // rolling window capacity (default: 1000)
	MemoryCeilingMB float64       `yaml:"memory_ceiling_mb"` // health ceiling (default: 8192)
}

// TelemetryConfig contains snapshot-push settings.
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"` // HTTP sink URL; empty = log sink only
	Interval time.Duration `yaml:"interval"` // push cadence (default: 60s)
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Inference: InferenceConfig{
			MaxResponseTimeMS:    100,
			TargetResponseTimeMS: 50,
			ExecutionMode:        "quantized",
			WorkerPoolWidth:      8,
			QueueCapacity:        1000,
		},
		Cache: CacheConfig{
			InProcessCapacity:    1000,
			EmbeddingTTL:         time.Hour,
			CounterpartFreshness: time.Hour,
			PredictionTTL:        5 * time.Minute,
			FeatureTTL:           30 * time.Minute,
			Redis: RedisConfig{
				Enabled:   false,
				Addr:      "localhost:6379",
				Namespace: "matchkit",
				OpTimeout: 50 * time.Millisecond,
			},
		},
		Monitor: MonitorConfig{
			Interval:        60 * time.Second,
			WindowSize:      1000,
			MemoryCeilingMB: 8192,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Interval: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "matchkit",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Inference.MaxResponseTimeMS <= 0 {
		return fmt.Errorf("inference.max_response_time_ms must be positive")
	}
	if c.Inference.TargetResponseTimeMS <= 0 {
		return fmt.Errorf("inference.target_response_time_ms must be positive")
	}
	if c.Inference.TargetResponseTimeMS > c.Inference.MaxResponseTimeMS {
		return fmt.Errorf("inference.target_response_time_ms cannot exceed max_response_time_ms")
	}
	switch c.Inference.ExecutionMode {
	case "", "none", "basic", "quantized", "compiled":
	default:
		return fmt.Errorf("invalid inference.execution_mode: %q", c.Inference.ExecutionMode)
	}
	if c.Inference.WorkerPoolWidth < 0 {
		return fmt.Errorf("inference.worker_pool_width cannot be negative")
	}
	if c.Inference.QueueCapacity < 0 {
		return fmt.Errorf("inference.queue_capacity cannot be negative")
	}

	if c.Cache.InProcessCapacity < 0 {
		return fmt.Errorf("cache.in_process_capacity cannot be negative")
	}
	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when the durable tier is enabled")
	}

	if c.Telemetry.Enabled && c.Telemetry.Interval < 0 {
		return fmt.Errorf("telemetry.interval cannot be negative")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in [0,1]")
	}

	return nil
}
