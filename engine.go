package matchkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/matchkit/matchkit/internal/cache"
	"github.com/matchkit/matchkit/internal/config"
	"github.com/matchkit/matchkit/internal/extractor"
	"github.com/matchkit/matchkit/internal/metrics"
	"github.com/matchkit/matchkit/internal/monitor"
	"github.com/matchkit/matchkit/internal/observability"
	"github.com/matchkit/matchkit/internal/optimizer"
	"github.com/matchkit/matchkit/internal/queue"
	"github.com/matchkit/matchkit/internal/telemetry"
	"github.com/matchkit/matchkit/pkg/inferr"
	"github.com/matchkit/matchkit/pkg/scoring"
	"github.com/matchkit/matchkit/pkg/types"
)

// Engine is the inference orchestrator. It coordinates the execution-mode
// optimizer, the multi-tier caches, the background queue, and the
// performance monitor behind a small synchronous API.
//
// An Engine is safe for concurrent use. Create one per process and share it.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	handle    *optimizer.Handle
	extractor *extractor.Caching
	keys      *cache.KeyGenerator

	subjects     *cache.EmbeddingStore
	counterparts *cache.EmbeddingStore
	predictions  *cache.PredictionStore

	durable     cache.Backend
	ownsDurable bool

	monitor *monitor.Monitor
	queue   *queue.Queue
	pusher  *telemetry.Pusher
	tracer  trace.Tracer

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closeOnce  sync.Once
	closed     atomic.Bool
}

// New creates an Engine from the given options. A scoring model and a
// feature extractor are required; everything else has defaults.
func New(opts ...Option) (*Engine, error) {
	ec := defaultEngineConfig()
	for _, opt := range opts {
		opt(ec)
	}
	if ec.configErr != nil {
		return nil, ec.configErr
	}

	cfg := ec.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ec.Model == nil {
		return nil, fmt.Errorf("a scoring model is required: use WithScoringModel")
	}
	if ec.Extractor == nil {
		return nil, fmt.Errorf("a feature extractor is required: use WithFeatureExtractor")
	}

	logger := ec.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LoggerConfig{
			Level:      observability.ParseLevel(cfg.Logging.Level),
			JSONFormat: cfg.Logging.Format == "json",
		})
	}

	mode, err := optimizer.ParseMode(cfg.Inference.ExecutionMode)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		extractor: extractor.NewCaching(ec.Extractor, cfg.Cache.FeatureTTL, logger),
		keys:      cache.NewKeyGenerator("matchkit", ec.Model.Version()),
	}

	// Compiled execution needs a traced input shape. Without a sample pair
	// the optimizer falls back on its own.
	var sampleSubject, sampleCounterpart *types.Embedding
	if ec.SampleSubject != nil && ec.SampleCounterpart != nil {
		sampleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sampleSubject, err = e.extractor.Extract(sampleCtx, ec.SampleSubject, types.EntitySubject)
		if err != nil {
			return nil, fmt.Errorf("extract sample subject: %w", err)
		}
		sampleCounterpart, err = e.extractor.Extract(sampleCtx, ec.SampleCounterpart, types.EntityCounterpart)
		if err != nil {
			return nil, fmt.Errorf("extract sample counterpart: %w", err)
		}
	}

	e.handle, err = optimizer.Prepare(ec.Model, sampleSubject, sampleCounterpart, mode, logger)
	if err != nil {
		return nil, err
	}

	durable := ec.Durable
	switch {
	case durable != nil:
	case ec.RedisClient != nil:
		durable = cache.NewRedisFromClient(ec.RedisClient, cfg.Cache.Redis.Namespace, cfg.Cache.EmbeddingTTL, cfg.Cache.Redis.OpTimeout)
	case cfg.Cache.Redis.Enabled:
		durable, err = cache.NewRedis(cache.RedisConfig{
			Addr:       cfg.Cache.Redis.Addr,
			Password:   cfg.Cache.Redis.Password,
			DB:         cfg.Cache.Redis.DB,
			Namespace:  cfg.Cache.Redis.Namespace,
			DefaultTTL: cfg.Cache.EmbeddingTTL,
			OpTimeout:  cfg.Cache.Redis.OpTimeout,
		})
		if err != nil {
			return nil, err
		}
		e.ownsDurable = true
	}
	e.durable = durable

	newTier := func(kind cache.Kind, ttl time.Duration) *cache.Tiered {
		return cache.NewTiered(kind, cache.NewMemory(cache.MemoryConfig{
			Capacity:   cfg.Cache.InProcessCapacity,
			DefaultTTL: ttl,
		}), durable, logger)
	}
	e.subjects = cache.NewEmbeddingStore(newTier(cache.KindSubjectEmbedding, cfg.Cache.EmbeddingTTL), cfg.Cache.EmbeddingTTL, 0, logger)
	e.counterparts = cache.NewEmbeddingStore(newTier(cache.KindCounterpartEmbedding, cfg.Cache.EmbeddingTTL), cfg.Cache.EmbeddingTTL, cfg.Cache.CounterpartFreshness, logger)
	e.predictions = cache.NewPredictionStore(newTier(cache.KindPrediction, cfg.Cache.PredictionTTL), cfg.Cache.PredictionTTL, logger)

	e.queue = queue.New(cfg.Inference.QueueCapacity, cfg.Inference.WorkerPoolWidth, e.handleQueued, logger)

	e.monitor = monitor.New(monitor.Config{
		WindowSize:        cfg.Monitor.WindowSize,
		Interval:          cfg.Monitor.Interval,
		MaxResponseTimeMS: float64(cfg.Inference.MaxResponseTimeMS),
		MemoryCeilingMB:   cfg.Monitor.MemoryCeilingMB,
	}, logger)
	e.monitor.SetQueueDepthFunc(e.queue.Depth)
	e.monitor.SetHitRatesFunc(func() map[string]float64 {
		return map[string]float64{
			string(cache.KindPrediction):           e.predictions.HitRate(),
			string(cache.KindSubjectEmbedding):     e.subjects.HitRate(),
			string(cache.KindCounterpartEmbedding): e.counterparts.HitRate(),
		}
	})
	e.monitor.RegisterReclaimer(func() int {
		n := e.subjects.Tier().ReclaimExpired()
		n += e.counterparts.Tier().ReclaimExpired()
		n += e.predictions.Tier().ReclaimExpired()
		n += e.extractor.Reclaim()
		return n
	})

	e.tracer = ec.Tracer
	if e.tracer == nil {
		e.tracer = otel.Tracer(observability.TracerName)
	}

	sink := ec.TelemetrySink
	if sink == nil && cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint != "" {
			sink = telemetry.NewHTTPSink(cfg.Telemetry.Endpoint, nil)
		} else {
			sink = telemetry.NewSlogSink(logger)
		}
	}
	if sink != nil {
		e.pusher = telemetry.NewPusher(sink, e.Snapshot, cfg.Telemetry.Interval, logger)
	}

	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	e.monitor.Start(e.baseCtx)
	e.queue.Start(e.baseCtx)
	if e.pusher != nil {
		e.pusher.Start(e.baseCtx)
	}

	logger.Info("engine ready",
		"execution_mode", string(e.handle.Mode()),
		"model", e.handle.ModelName(),
		"model_version", e.handle.ModelVersion(),
		"durable_cache", durable != nil,
		"workers", cfg.Inference.WorkerPoolWidth,
	)
	return e, nil
}

// Predict scores one subject/counterpart pair. It always returns within the
// request deadline (or the configured ceiling when the request carries none):
// if the pipeline is still running at the deadline, the call returns a
// timeout response and the in-flight work unwinds via context cancellation.
//
// Validation failures return a nil response and an error. Pipeline failures
// return a failed response alongside the error so callers get the timing
// breakdown either way.
func (e *Engine) Predict(ctx context.Context, req *types.InferenceRequest) (*types.InferenceResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = time.Duration(e.cfg.Inference.MaxResponseTimeMS) * time.Millisecond
	}

	start := time.Now()
	ctx, span := observability.StartPredictionSpan(ctx, e.tracer, "matchkit.predict", observability.PredictionSpanAttributes{
		RequestID: req.RequestID,
		Mode:      string(e.handle.Mode()),
		Priority:  req.Priority,
	})
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type pipelineResult struct {
		resp *types.InferenceResponse
		err  error
	}
	done := make(chan pipelineResult, 1)
	go func() {
		resp, err := e.runPipeline(ctx, req)
		done <- pipelineResult{resp, err}
	}()

	var resp *types.InferenceResponse
	var err error
	select {
	case r := <-done:
		resp, err = r.resp, r.err
	case <-ctx.Done():
		err = inferr.NewUpstreamTimeout("pipeline", fmt.Sprintf("request %s abandoned after %v", req.RequestID, deadline))
		resp = &types.InferenceResponse{
			RequestID:    req.RequestID,
			ErrorMessage: err.Error(),
		}
		metrics.DeadlineExceeded.WithLabelValues("pipeline").Inc()
	}

	resp.ElapsedMS = durationMS(time.Since(start))
	e.finish(resp, err, span)
	return resp, err
}

// finish records per-request accounting shared by all exit paths.
func (e *Engine) finish(resp *types.InferenceResponse, err error, span trace.Span) {
	mode := string(e.handle.Mode())
	outcome := "success"
	switch {
	case inferr.IsTimeout(err):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}

	e.monitor.Record(resp.ElapsedMS, resp.Success)
	metrics.RecordPrediction(mode, outcome, time.Duration(resp.ElapsedMS*float64(time.Millisecond)))

	if resp.Success {
		observability.RecordPredictionResult(span, resp.Prediction.Score, string(resp.Prediction.Strength), resp.CacheHits[types.CacheHitPrediction])
		if target := float64(e.cfg.Inference.TargetResponseTimeMS); resp.ElapsedMS > target {
			e.logger.Warn("prediction exceeded target latency",
				"request_id", resp.RequestID,
				"elapsed_ms", resp.ElapsedMS,
				"target_ms", target,
			)
		}
	} else if err != nil {
		observability.RecordError(span, err)
	}
}

func (e *Engine) runPipeline(ctx context.Context, req *types.InferenceRequest) (*types.InferenceResponse, error) {
	resp := &types.InferenceResponse{
		RequestID:    req.RequestID,
		CacheHits:    make(map[string]bool, 3),
		StageTimings: make(map[string]float64, 5),
	}

	predKey, predKeyErr := e.keys.PredictionKey(req)

	var cached *types.Prediction
	e.stage(resp, types.StageCacheLookup, func() {
		if predKeyErr == nil {
			cached = e.predictions.Get(ctx, predKey)
		}
	})
	if cached != nil {
		resp.CacheHits[types.CacheHitPrediction] = true
		resp.Prediction = cached
		resp.Success = true
		return resp, nil
	}

	subEmb, err := e.embeddingStage(ctx, resp, types.StageSubjectEmbedding, types.EntitySubject, req.Subject, e.subjects)
	if err != nil {
		return failed(resp, types.StageSubjectEmbedding, err)
	}

	cpEmb, err := e.embeddingStage(ctx, resp, types.StageCounterpartEmbedding, types.EntityCounterpart, req.Counterpart, e.counterparts)
	if err != nil {
		return failed(resp, types.StageCounterpartEmbedding, err)
	}

	// Fail fast rather than start scoring work the deadline already killed.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failed(resp, types.StageScoring, ctxErr)
	}

	var result *scoring.Result
	err = e.stageWithRetry(ctx, resp, types.StageScoring, func(ctx context.Context) error {
		r, scoreErr := e.handle.Run(ctx, subEmb, cpEmb)
		if scoreErr != nil {
			return scoreErr
		}
		result = r
		return nil
	})
	if err != nil {
		return failed(resp, types.StageScoring, err)
	}

	pred := buildPrediction(req, result)

	e.stage(resp, types.StageCacheWrite, func() {
		if predKeyErr == nil {
			e.predictions.Set(ctx, predKey, pred)
		}
	})

	resp.Prediction = pred
	resp.Success = true
	return resp, nil
}

// embeddingStage resolves one side's embedding: cache first, extract and
// write through on a miss.
func (e *Engine) embeddingStage(ctx context.Context, resp *types.InferenceResponse, stageName string, kind types.EntityKind, payload types.Payload, store *cache.EmbeddingStore) (*types.Embedding, error) {
	var emb *types.Embedding
	err := e.stageWithRetry(ctx, resp, stageName, func(ctx context.Context) error {
		key, keyErr := e.keys.EmbeddingKey(kind, payload)
		if keyErr != nil {
			return inferr.NewValidationError(fmt.Sprintf("unkeyable %s payload: %v", kind, keyErr))
		}
		if hit := store.Get(ctx, key); hit != nil {
			emb = hit
			resp.CacheHits[stageName] = true
			return nil
		}
		extracted, exErr := e.extractor.Extract(ctx, payload, kind)
		if exErr != nil {
			return exErr
		}
		store.Set(ctx, key, extracted)
		emb = extracted
		return nil
	})
	return emb, err
}

// stage runs an infallible pipeline step and records its timing.
func (e *Engine) stage(resp *types.InferenceResponse, name string, fn func()) {
	t0 := time.Now()
	fn()
	elapsed := time.Since(t0)
	resp.StageTimings[name] = durationMS(elapsed)
	metrics.RecordStage(name, elapsed)
}

// stageWithRetry runs a fallible pipeline step, retrying it once when the
// remaining deadline exceeds twice the failed attempt's cost. Validation
// failures and context cancellation are never retried.
func (e *Engine) stageWithRetry(ctx context.Context, resp *types.InferenceResponse, name string, fn func(context.Context) error) error {
	t0 := time.Now()
	err := fn(ctx)
	if err != nil && ctx.Err() == nil && !inferr.IsValidation(err) {
		attempt := time.Since(t0)
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > 2*attempt {
			e.logger.Debug("retrying stage", "stage", name, "attempt_ms", durationMS(attempt), "error", err)
			err = fn(ctx)
		}
	}
	elapsed := time.Since(t0)
	resp.StageTimings[name] = durationMS(elapsed)
	metrics.RecordStage(name, elapsed)
	return err
}

// BatchPredict scores many pairs concurrently, bounded by the configured
// worker pool width. Responses come back in request order. One request's
// failure never fails its siblings: failed entries carry their own error
// message and the returned error reflects only batch-level cancellation.
func (e *Engine) BatchPredict(ctx context.Context, reqs []*types.InferenceRequest) ([]*types.InferenceResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	metrics.BatchSize.Observe(float64(len(reqs)))

	width := e.cfg.Inference.WorkerPoolWidth
	if width <= 0 {
		width = 1
	}

	// Warm each distinct subject embedding once so requests sharing a
	// subject never extract it in parallel.
	e.warmSubjects(ctx, reqs, width)

	responses := make([]*types.InferenceResponse, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := e.Predict(gctx, req)
			if resp == nil {
				resp = &types.InferenceResponse{ErrorMessage: err.Error()}
				if req != nil {
					resp.RequestID = req.RequestID
				}
			}
			responses[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return responses, ctx.Err()
}

func (e *Engine) warmSubjects(ctx context.Context, reqs []*types.InferenceRequest, width int) {
	distinct := make(map[string]types.Payload)
	for _, req := range reqs {
		if req == nil || len(req.Subject) == 0 {
			continue
		}
		key, err := e.keys.EmbeddingKey(types.EntitySubject, req.Subject)
		if err != nil {
			continue
		}
		if _, ok := distinct[key]; !ok {
			distinct[key] = req.Subject
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)
	for key, payload := range distinct {
		g.Go(func() error {
			if e.subjects.Get(gctx, key) != nil {
				return nil
			}
			emb, err := e.extractor.Extract(gctx, payload, types.EntitySubject)
			if err != nil {
				// The per-request path reports extraction failures.
				return nil
			}
			e.subjects.Set(gctx, key, emb)
			return nil
		})
	}
	_ = g.Wait()
}

// Enqueue submits a request for asynchronous background scoring. The result
// lands in the prediction cache; nobody waits on it. Returns a capacity
// error when the queue is full.
func (e *Engine) Enqueue(req *types.InferenceRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := e.queue.Submit(req); err != nil {
		metrics.QueueRejections.Inc()
		return err
	}
	metrics.QueueDepth.Set(float64(e.queue.Depth()))
	return nil
}

func (e *Engine) handleQueued(ctx context.Context, req *types.InferenceRequest) {
	resp, err := e.Predict(ctx, req)
	if err != nil {
		e.logger.Warn("queued prediction failed", "request_id", req.RequestID, "error", err)
		return
	}
	e.logger.Debug("queued prediction done", "request_id", req.RequestID, "elapsed_ms", resp.ElapsedMS)
}

// HealthStatus is the engine's self-assessment.
type HealthStatus struct {
	Healthy        bool                       `json:"healthy"`
	Running        bool                       `json:"running"`
	QueueDepth     int                        `json:"queue_depth"`
	DurableCacheOK bool                       `json:"durable_cache_ok"`
	ExecutionMode  string                     `json:"execution_mode"`
	Snapshot       *types.PerformanceSnapshot `json:"snapshot,omitempty"`
}

// Health reports whether the engine currently meets its latency, error-rate,
// and memory ceilings. A degraded durable cache is reported but does not by
// itself mark the engine unhealthy.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	snap := e.Snapshot()
	healthy := e.monitor.IsHealthy()

	durableOK := true
	if e.durable != nil {
		durableOK = e.durable.Ping(ctx) == nil
	}

	metrics.RecordSnapshot(healthy, snap.MemoryUsedMB, snap.QueueDepth)
	return HealthStatus{
		Healthy:        healthy,
		Running:        !e.closed.Load(),
		QueueDepth:     e.queue.Depth(),
		DurableCacheOK: durableOK,
		ExecutionMode:  string(e.handle.Mode()),
		Snapshot:       &snap,
	}
}

// Snapshot returns the most recent performance snapshot, computing one on
// demand before the monitor's first sweep.
func (e *Engine) Snapshot() types.PerformanceSnapshot {
	if s := e.monitor.Snapshot(); s != nil {
		return *s
	}
	return *e.monitor.Compute()
}

// ExecutionMode reports the mode the optimizer actually settled on, which
// may be a fallback from the configured mode.
func (e *Engine) ExecutionMode() string {
	return string(e.handle.Mode())
}

// Close drains the background queue, stops the monitor and telemetry loops,
// and releases cache resources. Safe to call more than once.
func (e *Engine) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.queue.Stop()
		if e.pusher != nil {
			e.pusher.Stop()
		}
		e.baseCancel()

		closeErr = errors.Join(
			e.subjects.Tier().Close(),
			e.counterparts.Tier().Close(),
			e.predictions.Tier().Close(),
		)
		if e.ownsDurable && e.durable != nil {
			closeErr = errors.Join(closeErr, e.durable.Close())
		}
		e.logger.Info("engine closed")
	})
	return closeErr
}

func validateRequest(req *types.InferenceRequest) error {
	switch {
	case req == nil:
		return inferr.NewValidationError("request is required")
	case len(req.Subject) == 0:
		return inferr.NewValidationError("subject payload is required")
	case len(req.Counterpart) == 0:
		return inferr.NewValidationError("counterpart payload is required")
	}
	return nil
}

func failed(resp *types.InferenceResponse, stage string, err error) (*types.InferenceResponse, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		err = inferr.NewUpstreamTimeout(stage, "stage deadline exceeded")
	}
	resp.ErrorMessage = err.Error()
	return resp, err
}

// buildPrediction turns a raw scoring result into a cacheable prediction.
// The confidence interval is the normal-approximation 95% band around the
// score, clamped to [0,1].
func buildPrediction(req *types.InferenceRequest, result *scoring.Result) *types.Prediction {
	score := clamp01(result.Score)
	lo := math.Max(0, score-1.96*result.Uncertainty)
	hi := math.Min(1, score+1.96*result.Uncertainty)

	return &types.Prediction{
		SubjectID:          cache.EntityID(req.Subject),
		CounterpartID:      cache.EntityID(req.Counterpart),
		Score:              score,
		ConfidenceLow:      lo,
		ConfidenceHigh:     hi,
		AspectScores:       result.AspectScores,
		Explanation:        result.Explanation,
		Strength:           types.DeriveStrength(score, lo, hi, result.AspectScores),
		ConversionEstimate: result.ConversionEstimate,
		CreatedAt:          time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
