// Package queue provides the engine's bounded background request queue and
// the fixed worker pool that drains it. Submissions never block: a full
// queue rejects immediately rather than silently dropping work.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/matchkit/matchkit/pkg/inferr"
	"github.com/matchkit/matchkit/pkg/types"
)

// Handler processes one dequeued request. The response is produced for its
// side effects (cache warming, metrics); nobody is waiting on it.
type Handler func(ctx context.Context, req *types.InferenceRequest)

// Queue is a bounded request queue drained by a fixed pool of workers.
type Queue struct {
	requests chan *types.InferenceRequest
	handler  Handler
	workers  int
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a queue with the given capacity and worker count.
func New(capacity, workers int, handler Handler, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		requests: make(chan *types.InferenceRequest, capacity),
		handler:  handler,
		workers:  workers,
		logger:   logger,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// queue is stopped and drained.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-q.requests:
			if !ok {
				return
			}
			q.handle(ctx, req)
		}
	}
}

func (q *Queue) handle(ctx context.Context, req *types.InferenceRequest) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("background request panicked", "request_id", req.RequestID, "panic", r)
		}
	}()
	q.handler(ctx, req)
}

// Submit enqueues a request without blocking. A full or stopped queue
// returns a capacity error immediately.
func (q *Queue) Submit(req *types.InferenceRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return inferr.NewCapacityExceeded("queue is stopped")
	}
	select {
	case q.requests <- req:
		return nil
	default:
		return inferr.NewCapacityExceeded("queue is full")
	}
}

// Depth returns the number of queued requests.
func (q *Queue) Depth() int {
	return len(q.requests)
}

// Stop rejects further submissions, lets workers drain what is queued, and
// waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.requests)
	q.mu.Unlock()

	q.wg.Wait()
}
