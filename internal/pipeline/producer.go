// Package pipeline implements the three Broadway-style processing pipelines:
// Analyzer, CRF-Searcher, and Encoder. Each couples a rate-limited producer
// holding a bounded queue of database-backed work to a single-concurrency
// processor.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
)

// previewSize is how many upcoming items a queue-update event carries.
const previewSize = 5

// pollInterval is the fallback refill cadence when no dispatch signal
// arrives; external ingestion writes rows without notifying the producer.
const pollInterval = 10 * time.Second

// Producer owns a bounded in-memory queue refilled from the entity store and
// feeds a processor one message at a time under a rate limit.
type Producer[T any] struct {
	name      string
	queueSize int
	limiter   *rate.Limiter

	// refill loads up to limit items of pending work from the store.
	refill func(ctx context.Context, limit int) ([]T, error)
	// process handles one message synchronously end-to-end.
	process func(ctx context.Context, item T)
	// preview renders an item for queue-update telemetry.
	preview func(item T) string

	bus       *events.Bus
	idleTopic events.Topic
	logger    *slog.Logger

	mu    sync.Mutex
	queue []T

	dispatch chan struct{}
	wg       sync.WaitGroup
}

// NewProducer creates a pipeline producer.
func NewProducer[T any](
	name string,
	queueSize int,
	rateCfg config.RateConfig,
	bus *events.Bus,
	idleTopic events.Topic,
	logger *slog.Logger,
	refill func(ctx context.Context, limit int) ([]T, error),
	process func(ctx context.Context, item T),
	preview func(item T) string,
) *Producer[T] {
	if logger == nil {
		logger = slog.Default()
	}
	interval := rateCfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	messages := rateCfg.Messages
	if messages < 1 {
		messages = 1
	}

	return &Producer[T]{
		name:      name,
		queueSize: queueSize,
		limiter:   rate.NewLimiter(rate.Every(interval/time.Duration(messages)), messages),
		refill:    refill,
		process:   process,
		preview:   preview,
		bus:       bus,
		idleTopic: idleTopic,
		logger:    logger.With("component", name+"_producer"),
		dispatch:  make(chan struct{}, 1),
	}
}

// Start launches the producer loop. Cancel the context to stop; Wait blocks
// until the in-flight message finishes.
func (p *Producer[T]) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	// A first refill happens immediately.
	p.DispatchAvailable()
}

// Wait blocks until the producer loop has exited.
func (p *Producer[T]) Wait() {
	p.wg.Wait()
}

// DispatchAvailable signals that new work may exist in the store. Signals
// coalesce; at most one refill is pending at a time.
func (p *Producer[T]) DispatchAvailable() {
	select {
	case p.dispatch <- struct{}{}:
	default:
	}
}

// QueueSize returns the current number of queued items.
func (p *Producer[T]) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// run is the producer loop: pop, rate-limit, process; refill when empty.
func (p *Producer[T]) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		item, ok := p.pop()
		if !ok {
			if !p.fill(ctx) {
				// Nothing to do; wait for a signal, the poll tick, or shutdown.
				p.bus.Publish(p.idleTopic, events.PipelineIdle{Pipeline: p.name})
				select {
				case <-ctx.Done():
					return
				case <-p.dispatch:
				case <-ticker.C:
				}
			}
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return // context canceled
		}
		p.process(ctx, item)
	}
}

// pop removes the queue head.
func (p *Producer[T]) pop() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if len(p.queue) == 0 {
		return zero, false
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	return item, true
}

// fill refills the queue from the store and emits a queue-update event.
// Returns false when the store yielded nothing.
func (p *Producer[T]) fill(ctx context.Context) bool {
	items, err := p.refill(ctx, p.queueSize)
	if err != nil {
		p.logger.Error("refilling queue", slog.String("error", err.Error()))
		return false
	}
	if len(items) == 0 {
		return false
	}

	p.mu.Lock()
	p.queue = items
	size := len(p.queue)
	next := make([]string, 0, previewSize)
	for i := 0; i < len(p.queue) && i < previewSize; i++ {
		next = append(next, p.preview(p.queue[i]))
	}
	p.mu.Unlock()

	p.logger.Debug("queue refilled", slog.Int("size", size))
	p.bus.Publish(events.TopicQueueUpdate, events.QueueUpdate{
		Pipeline:   p.name,
		QueueSize:  size,
		NextVideos: next,
	})
	return true
}
