package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/shopvox/internal/observe"
	"github.com/MrWong99/shopvox/internal/search"
	"github.com/MrWong99/shopvox/pkg/types"
)

// Recorder defaults.
const (
	DefaultMaxInFlight  = 4
	DefaultWriteTimeout = 5 * time.Second
)

var _ search.Recorder = (*Recorder)(nil)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithMaxInFlight caps concurrent persists. Records beyond the cap are
// dropped.
func WithMaxInFlight(n int64) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.maxInFlight = n
		}
	}
}

// WithWriteTimeout bounds each persist.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRecorderMetrics sets the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithRecorderMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder persists searches in the background. Failures are logged and
// counted and never reach the caller.
type Recorder struct {
	svc         *Service
	maxInFlight int64
	timeout     time.Duration
	metrics     *observe.Metrics
	sem         *semaphore.Weighted
	wg          sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder writing through svc.
func NewRecorder(svc *Service, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		svc:         svc,
		maxInFlight: DefaultMaxInFlight,
		timeout:     DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.sem = semaphore.NewWeighted(r.maxInFlight)
	return r
}

// RecordSearch schedules a persist and returns immediately.
func (r *Recorder) RecordSearch(actorID, query string, sources []types.Source, resultCount int) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !r.sem.TryAcquire(1) {
		r.mu.Unlock()
		slog.Warn("history: recorder saturated, dropping search", "query", query)
		r.metrics.RecordHistoryWrite(context.Background(), "dropped")
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if _, err := r.svc.Save(ctx, actorID, query, sources, resultCount); err != nil {
			err = fmt.Errorf("%w: %w", ErrPersist, err)
			slog.Warn("history: failed to record search", "query", query, "err", err)
			r.metrics.RecordHistoryWrite(ctx, "error")
			return
		}
		r.metrics.RecordHistoryWrite(ctx, "ok")
	}()
}

// Close stops accepting records and waits for in-flight persists or ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("history: close: %w", ctx.Err())
	}
}
