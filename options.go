package matchkit

import (
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchkit/matchkit/internal/cache"
	"github.com/matchkit/matchkit/internal/config"
	"github.com/matchkit/matchkit/internal/telemetry"
	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// EngineConfig holds all configuration for the Engine.
type EngineConfig struct {
	// Config is the full engine configuration. Defaults apply when nil.
	Config *config.Config

	// Logging
	Logger *slog.Logger

	// Collaborators
	Model     scoring.Model
	Extractor scoring.FeatureExtractor

	// Durable cache tier. When nil and Config.Cache.Redis.Enabled is set,
	// the engine dials Redis itself and owns the connection.
	Durable     cache.Backend
	RedisClient goredis.UniversalClient

	// Sample payloads used to trace the model for compiled execution.
	SampleSubject     types.Payload
	SampleCounterpart types.Payload

	// Observability
	TelemetrySink telemetry.Sink
	Tracer        trace.Tracer

	configErr error
}

// Option is a function that configures the Engine.
type Option func(*EngineConfig)

func defaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Config: config.DefaultConfig(),
	}
}

// WithConfig sets the full engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(ec *EngineConfig) {
		if cfg != nil {
			ec.Config = cfg
		}
	}
}

// WithConfigFile loads configuration from a YAML file. A load or validation
// failure surfaces from New.
func WithConfigFile(path string) Option {
	return func(ec *EngineConfig) {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			ec.configErr = err
			return
		}
		ec.Config = cfg
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ec *EngineConfig) {
		ec.Logger = logger
	}
}

// WithScoringModel sets the trained scoring model. Required.
func WithScoringModel(model scoring.Model) Option {
	return func(ec *EngineConfig) {
		ec.Model = model
	}
}

// WithFeatureExtractor sets the feature extractor that turns raw entity
// payloads into embeddings. Required.
func WithFeatureExtractor(fe scoring.FeatureExtractor) Option {
	return func(ec *EngineConfig) {
		ec.Extractor = fe
	}
}

// WithDurableCache sets a custom durable cache tier shared across the
// engine's cache kinds. The caller keeps ownership and must close it.
func WithDurableCache(backend cache.Backend) Option {
	return func(ec *EngineConfig) {
		ec.Durable = backend
	}
}

// WithRedisClient builds the durable cache tier on an existing Redis client.
// The caller keeps ownership of the client.
func WithRedisClient(client goredis.UniversalClient) Option {
	return func(ec *EngineConfig) {
		ec.RedisClient = client
	}
}

// WithExecutionMode overrides the configured execution mode
// (none, basic, quantized, compiled).
func WithExecutionMode(mode string) Option {
	return func(ec *EngineConfig) {
		ec.Config.Inference.ExecutionMode = mode
	}
}

// WithSamplePair provides representative subject and counterpart payloads.
// Compiled execution traces the model against their embeddings; without a
// sample pair, compiled mode falls back to basic.
func WithSamplePair(subject, counterpart types.Payload) Option {
	return func(ec *EngineConfig) {
		ec.SampleSubject = subject
		ec.SampleCounterpart = counterpart
	}
}

// WithTelemetrySink sets a custom telemetry sink. Overrides the sink the
// engine would derive from Config.Telemetry.
func WithTelemetrySink(sink telemetry.Sink) Option {
	return func(ec *EngineConfig) {
		ec.TelemetrySink = sink
	}
}

// WithTracer sets the tracer used for prediction spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(ec *EngineConfig) {
		ec.Tracer = tracer
	}
}
