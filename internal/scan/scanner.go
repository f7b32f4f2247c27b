package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

// Scanner evaluates strategy conditions over recent bars on demand.
type Scanner interface {
	// Scan returns entry conditions not previously surfaced.
	Scan(ctx context.Context) ([]model.SignalEvent, error)
}

// Evaluator is the analytics collaborator a Scanner consults per symbol.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string, lookback int) ([]model.SignalEvent, error)
}

// EvaluatorFunc is a function adapter for Evaluator.
type EvaluatorFunc func(ctx context.Context, symbol string, lookback int) ([]model.SignalEvent, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, symbol string, lookback int) ([]model.SignalEvent, error) {
	return f(ctx, symbol, lookback)
}

// Config holds scanner configuration.
type Config struct {
	Symbols      []string
	LookbackBars int
	// SuppressFor bounds how long surfaced events are remembered. Entries
	// past this age are lazily pruned on each scan.
	SuppressFor time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LookbackBars: 50,
		SuppressFor:  time.Hour,
	}
}

type seenEntry struct {
	key string
	at  time.Time
}

// scanner walks configured symbols and filters previously-surfaced events.
// Not safe for concurrent use; the orchestrator owns all calls.
type scanner struct {
	cfg    Config
	eval   Evaluator
	logger *slog.Logger

	seen []seenEntry
	now  func() time.Time
}

// New creates a Scanner over the given evaluator.
func New(cfg Config, eval Evaluator, logger *slog.Logger) Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SuppressFor <= 0 {
		cfg.SuppressFor = time.Hour
	}
	return &scanner{
		cfg:    cfg,
		eval:   eval,
		logger: logger,
		now:    time.Now,
	}
}

// Scan implements Scanner.
func (s *scanner) Scan(ctx context.Context) ([]model.SignalEvent, error) {
	s.prune()

	var out []model.SignalEvent
	for _, symbol := range s.cfg.Symbols {
		events, err := s.eval.Evaluate(ctx, symbol, s.cfg.LookbackBars)
		if err != nil {
			return out, fmt.Errorf("evaluate %s: %w", symbol, err)
		}

		for _, ev := range events {
			key := eventKey(ev)
			if s.isSeen(key) {
				continue
			}
			s.seen = append(s.seen, seenEntry{key: key, at: s.now()})
			out = append(out, ev)
		}
	}

	return out, nil
}

// prune drops suppression entries older than SuppressFor. The list is
// append-ordered by time, so the cut point is the first young entry.
func (s *scanner) prune() {
	cutoff := s.now().Add(-s.cfg.SuppressFor)
	idx := 0
	for idx < len(s.seen) && !s.seen[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		s.seen = append(s.seen[:0], s.seen[idx:]...)
	}
}

func (s *scanner) isSeen(key string) bool {
	for _, e := range s.seen {
		if e.key == key {
			return true
		}
	}
	return false
}

func eventKey(ev model.SignalEvent) string {
	return fmt.Sprintf("%s|%s|%d", ev.Type, ev.Symbol, ev.Time.UnixMilli())
}
