package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dshills/phiguard/internal/logging"
	"github.com/dshills/phiguard/internal/metrics"
)

const (
	defaultEmitBuffer  = 1024
	defaultEmitWorkers = 4
	appendTimeout      = 30 * time.Second
)

// Appender persists a single event.
type Appender interface {
	Append(ctx context.Context, e Event) error
}

// Emitter persists events in the background so the caller's primary action
// never waits on the audit trail. Every event that cannot be persisted
// (queue full, emitter closed, store error) is logged and counted in
// phiguard_audit_append_failures_total.
type Emitter struct {
	store   Appender
	filter  *DetailsFilter
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int
	workers int

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBuffer sets the queue capacity.
func WithBuffer(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.buffer = n
		}
	}
}

// WithWorkers sets the number of persisting goroutines.
func WithWorkers(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithFilter scrubs event details before they are queued.
func WithFilter(f *DetailsFilter) EmitterOption {
	return func(e *Emitter) { e.filter = f }
}

// WithEmitterLogger sets the logger.
func WithEmitterLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// WithEmitterMetrics sets the metrics collector.
func WithEmitterMetrics(m *metrics.Metrics) EmitterOption {
	return func(e *Emitter) { e.metrics = m }
}

// NewEmitter starts the worker pool.
func NewEmitter(store Appender, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		store:   store,
		buffer:  defaultEmitBuffer,
		workers: defaultEmitWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.For(e.logger, "audit_emitter")
	e.queue = make(chan Event, e.buffer)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.run()
	}
	return e
}

// Emit queues ev without blocking. It returns false when the event was
// dropped.
func (e *Emitter) Emit(ev Event) bool {
	if e.filter != nil {
		ev.Details = e.filter.Apply(ev.Details)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.fail(ev, metrics.FailureClosed, ErrEmitterClosed)
		return false
	}
	select {
	case e.queue <- ev:
		e.metrics.SetQueueDepth(len(e.queue))
		return true
	default:
		e.fail(ev, metrics.FailureQueueFull, nil)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be persisted,
// or for ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.metrics.SetQueueDepth(len(e.queue))
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := e.store.Append(ctx, ev)
		cancel()
		if err != nil {
			e.fail(ev, metrics.FailureStore, err)
			continue
		}
		e.metrics.IncAppended()
	}
}

func (e *Emitter) fail(ev Event, reason string, err error) {
	e.metrics.IncAppendFailure(reason)
	attrs := []any{"event_type", ev.EventType, "reason", reason}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	e.logger.Error("audit event not persisted", attrs...)
}
