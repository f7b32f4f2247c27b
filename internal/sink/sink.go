package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

// Sink receives completed bars for downstream analysis.
type Sink interface {
	// Inject delivers one bar. Idempotent per (symbol, bar start).
	Inject(ctx context.Context, b model.Bar) error

	// Refresh asks the downstream system to recompute whatever it derives
	// from injected bars.
	Refresh(ctx context.Context) error

	// Close releases resources.
	Close()
}

// Memory is an in-process Sink keyed by (symbol, bar start). It backs
// tests and the offline driver.
type Memory struct {
	mu   sync.RWMutex
	bars map[string]map[int64]model.Bar
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{bars: make(map[string]map[int64]model.Bar)}
}

// Inject implements Sink. Duplicate (symbol, start) pairs are no-ops.
func (m *Memory) Inject(ctx context.Context, b model.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySymbol, ok := m.bars[b.Symbol]
	if !ok {
		bySymbol = make(map[int64]model.Bar)
		m.bars[b.Symbol] = bySymbol
	}
	key := b.Start.UnixMilli()
	if _, exists := bySymbol[key]; exists {
		return nil
	}
	bySymbol[key] = b
	return nil
}

// Refresh implements Sink.
func (m *Memory) Refresh(ctx context.Context) error { return nil }

// Close implements Sink.
func (m *Memory) Close() {}

// Bars returns the stored bars for a symbol, unordered.
func (m *Memory) Bars(symbol string) []model.Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Bar, 0, len(m.bars[symbol]))
	for _, b := range m.bars[symbol] {
		out = append(out, b)
	}
	return out
}

// Len returns the total number of distinct bars stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, bySymbol := range m.bars {
		n += len(bySymbol)
	}
	return n
}

// Retrying wraps a Sink with bounded retry-then-drop semantics. Transient
// failures are retried with a fixed delay; after exhaustion the bar is
// dropped and counted so the pipeline keeps moving.
type Retrying struct {
	inner    Sink
	attempts int
	delay    time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	dropped int64
}

// NewRetrying wraps inner. attempts is the total number of tries per bar.
func NewRetrying(inner Sink, attempts int, delay, timeout time.Duration, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{
		inner:    inner,
		attempts: attempts,
		delay:    delay,
		timeout:  timeout,
		logger:   logger,
	}
}

// Inject implements Sink. Every attempt is bounded by the configured
// per-attempt timeout; the error returned is the last attempt's.
func (r *Retrying) Inject(ctx context.Context, b model.Bar) error {
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.inner.Inject(attemptCtx, b)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("inject attempt failed",
			"symbol", b.Symbol,
			"bar_start", b.Start,
			"attempt", attempt,
			"error", err,
		)
	}

	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
	r.logger.Error("dropping bar after retry exhaustion",
		"symbol", b.Symbol,
		"bar_start", b.Start,
		"attempts", r.attempts,
		"error", lastErr,
	)
	return lastErr
}

// Refresh implements Sink, bounded by the per-attempt timeout.
func (r *Retrying) Refresh(ctx context.Context) error {
	refreshCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.inner.Refresh(refreshCtx)
}

// Close implements Sink.
func (r *Retrying) Close() { r.inner.Close() }

// Dropped returns the number of bars dropped after retry exhaustion.
func (r *Retrying) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
