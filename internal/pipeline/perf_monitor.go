package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/events"
)

// throughputWindow is how much batch history feeds the rolling average.
const throughputWindow = 2 * time.Minute

// reportInterval is how often average throughput is published.
const reportInterval = 30 * time.Second

// throughputSample is one completed batch's rate observation.
type throughputSample struct {
	at         time.Time
	throughput float64 // videos per second
}

// PerfMonitor tracks analyzer batch throughput in a rolling window and
// publishes periodic telemetry. Automatic rate-limit and batch-size
// adjustment is disabled in this version; the knobs only move via manual
// override.
type PerfMonitor struct {
	mu        sync.Mutex
	samples   []throughputSample
	batchSize int
	rateLimit int

	bus    *events.Bus
	logger *slog.Logger
}

// NewPerfMonitor creates a monitor with the configured defaults.
func NewPerfMonitor(rateLimit, batchSize int, bus *events.Bus, logger *slog.Logger) *PerfMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PerfMonitor{
		batchSize: batchSize,
		rateLimit: rateLimit,
		bus:       bus,
		logger:    logger.With("component", "analyzer_perf_monitor"),
	}
}

// Start begins periodic throughput reporting until the context is canceled.
func (m *PerfMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.report()
			}
		}
	}()
}

// RecordBatch adds one completed batch's throughput to the window.
func (m *PerfMonitor) RecordBatch(videos int, elapsed time.Duration) {
	if elapsed <= 0 || videos <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, throughputSample{
		at:         time.Now(),
		throughput: float64(videos) / elapsed.Seconds(),
	})
	m.prune()
}

// prune drops samples older than the window. Callers hold the lock.
func (m *PerfMonitor) prune() {
	cutoff := time.Now().Add(-throughputWindow)
	kept := m.samples[:0]
	for _, s := range m.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	m.samples = kept
}

// AverageThroughput returns the rolling average in videos per second.
func (m *PerfMonitor) AverageThroughput() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune()
	if len(m.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		sum += s.throughput
	}
	return sum / float64(len(m.samples))
}

// BatchSize returns the effective mediainfo batch size.
func (m *PerfMonitor) BatchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchSize
}

// RateLimit returns the analyzer rate limit last configured or set by
// SetOverride. The producer's limiter is built once from the configured rate
// and does not follow this value.
func (m *PerfMonitor) RateLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLimit
}

// SetOverride applies a manual (rate_limit, batch_size) override, clamped to
// the supported ranges, and returns the clamped values. The batch size takes
// effect on the next refill; the rate limit is only recorded.
func (m *PerfMonitor) SetOverride(rateLimit, batchSize int) (int, int) {
	rateLimit, batchSize = config.ClampAnalyzerOverride(rateLimit, batchSize)

	m.mu.Lock()
	m.rateLimit = rateLimit
	m.batchSize = batchSize
	m.mu.Unlock()

	m.logger.Info("analyzer override applied",
		slog.Int("rate_limit", rateLimit),
		slog.Int("batch_size", batchSize),
	)
	return rateLimit, batchSize
}

// report publishes the rolling average throughput.
func (m *PerfMonitor) report() {
	throughput := m.AverageThroughput()
	m.bus.Publish(events.TopicAnalyzerProgress, events.AnalyzerProgress{
		BatchSize:  m.BatchSize(),
		Throughput: throughput,
	})
	m.logger.Debug("analyzer throughput", slog.Float64("videos_per_second", throughput))
}
