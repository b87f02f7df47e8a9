// Package telemetry ships performance snapshots to an external sink on a
// fixed cadence. Delivery is fire-and-forget: a slow or failing sink never
// blocks the serving path.
package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/matchkit/matchkit/pkg/types"
)

// Sink receives performance snapshots.
type Sink interface {
	Emit(ctx context.Context, snap types.PerformanceSnapshot) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, snap types.PerformanceSnapshot) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, snap types.PerformanceSnapshot) error {
	return f(ctx, snap)
}

// SlogSink logs each snapshot as a structured record.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that writes snapshots to the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the snapshot at INFO level.
func (s *SlogSink) Emit(_ context.Context, snap types.PerformanceSnapshot) error {
	s.logger.Info("performance snapshot",
		"avg_ms", snap.AvgMS,
		"p95_ms", snap.P95MS,
		"p99_ms", snap.P99MS,
		"rps", snap.RequestsPerSecond,
		"total_requests", snap.TotalRequests,
		"error_rate", snap.ErrorRate,
		"timeout_rate", snap.TimeoutRate,
		"queue_depth", snap.QueueDepth,
		"memory_used_mb", snap.MemoryUsedMB,
	)
	return nil
}

// HTTPSink posts snapshots as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSink creates a sink that POSTs snapshots to endpoint.
func NewHTTPSink(endpoint string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSink{endpoint: endpoint, client: client}
}

// Emit serializes the snapshot and posts it to the collector.
func (s *HTTPSink) Emit(ctx context.Context, snap types.PerformanceSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("snapshot sink returned status %d", resp.StatusCode)
	}
	return nil
}

// Pusher periodically reads the latest snapshot and emits it to a sink.
type Pusher struct {
	sink     Sink
	source   func() types.PerformanceSnapshot
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPusher creates a pusher that reads snapshots from source every interval.
func NewPusher(sink Sink, source func() types.PerformanceSnapshot, interval time.Duration, logger *slog.Logger) *Pusher {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pusher{
		sink:     sink,
		source:   source,
		interval: interval,
		// Cap emissions at twice the configured cadence so a clock skew or
		// manual flush cannot flood the sink.
		limiter: rate.NewLimiter(rate.Every(interval/2), 1),
		logger:  logger,
	}
}

// Start begins the push loop. It returns immediately.
func (p *Pusher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.push(ctx)
			}
		}
	}()
}

// Flush emits the current snapshot immediately, subject to rate limiting.
func (p *Pusher) Flush(ctx context.Context) {
	p.push(ctx)
}

func (p *Pusher) push(ctx context.Context) {
	if !p.limiter.Allow() {
		return
	}

	snap := p.source()
	emitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.sink.Emit(emitCtx, snap); err != nil {
		p.logger.Warn("telemetry emit failed", "error", err)
	}
}

// Stop halts the push loop and waits for it to exit.
func (p *Pusher) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}
