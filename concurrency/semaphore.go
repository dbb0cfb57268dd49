package concurrency

import (
	"context"
	"time"

	"github.com/openpodcast/episode-ingest-worker/metrics"
)

// Semaphore is a labeled, counting semaphore whose acquire/release pair is
// never itself cancellable mid-operation (§4.1 failure semantics) -- only
// the wrapped call inside WithSemaphore may be retried or cancelled.
type Semaphore struct {
	label string
	slots chan struct{}
	limit int
}

// NewSemaphore builds a semaphore with the given label (used for metrics)
// and limit (permits available concurrently).
func NewSemaphore(label string, limit int) *Semaphore {
	if limit < 1 {
		limit = 1
	}
	return &Semaphore{
		label: label,
		slots: make(chan struct{}, limit),
		limit: limit,
	}
}

func (s *Semaphore) Limit() int {
	return s.limit
}

// Acquire blocks until a permit is free. It records queue-depth while
// waiting and in-flight once acquired.
func (s *Semaphore) Acquire() {
	metrics.Metrics.Semaphores.QueueDepth.WithLabelValues(s.label).Inc()
	s.slots <- struct{}{}
	metrics.Metrics.Semaphores.QueueDepth.WithLabelValues(s.label).Dec()
	metrics.Metrics.Semaphores.InFlight.WithLabelValues(s.label).Inc()
}

func (s *Semaphore) Release() {
	metrics.Metrics.Semaphores.InFlight.WithLabelValues(s.label).Dec()
	<-s.slots
}

// Global instances. Limits are resolved at startup in cmd/worker/main.go
// from the env-overridable Cli fields and assigned via Configure.
var (
	Disk *Semaphore
	IO   *Semaphore
	HTTP *Semaphore
	DB   *Semaphore
)

// Configure installs the four global semaphores. Called once at startup
// after config.Cli has been parsed and DetectEffectiveCores has run.
func Configure(diskLimit, ioLimit, httpLimit, dbLimit int) {
	Disk = NewSemaphore("disk", diskLimit)
	IO = NewSemaphore("io", ioLimit)
	HTTP = NewSemaphore("http", httpLimit)
	DB = NewSemaphore("db", dbLimit)
}

// WithSemaphore acquires sem, runs fn, releases sem, and records
// success/failure counters plus cumulative latency under the semaphore's
// label regardless of outcome.
func WithSemaphore[T any](sem *Semaphore, fn func() (T, error)) (T, error) {
	start := time.Now()
	sem.Acquire()
	defer sem.Release()

	res, err := fn()

	elapsed := time.Since(start)
	metrics.Metrics.Semaphores.LatencySum.WithLabelValues(sem.label).Add(elapsed.Seconds())
	if err != nil {
		metrics.Metrics.Semaphores.Failure.WithLabelValues(sem.label).Inc()
	} else {
		metrics.Metrics.Semaphores.Success.WithLabelValues(sem.label).Inc()
	}
	return res, err
}

// WithSemaphoreCtx is WithSemaphore but bails out early if ctx is cancelled
// before a permit becomes available (acquire itself still blocks on the
// channel send, so cancellation is checked opportunistically first).
func WithSemaphoreCtx[T any](ctx context.Context, sem *Semaphore, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}
	return WithSemaphore(sem, fn)
}
