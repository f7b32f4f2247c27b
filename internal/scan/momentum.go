package scan

import (
	"context"
	"math"
	"sync"

	"github.com/calebmills/signalwatch/internal/model"
)

// StrategyMomentum is the strategy name stamped onto momentum signals.
const StrategyMomentum = "momentum"

// Momentum signals an entry when the close-to-close percent change across
// the lookback window crosses a threshold: up means EntryLong, down means
// EntryShort. It keeps a bounded window of observed bars per symbol.
type Momentum struct {
	threshold float64
	maxKeep   int

	mu   sync.Mutex
	bars map[string][]model.Bar
}

// NewMomentum builds a momentum evaluator. maxKeep bounds per-symbol
// history and should be at least the scanner's lookback.
func NewMomentum(threshold float64, maxKeep int) *Momentum {
	if threshold <= 0 {
		threshold = 0.02
	}
	if maxKeep < 2 {
		maxKeep = 50
	}
	return &Momentum{
		threshold: threshold,
		maxKeep:   maxKeep,
		bars:      make(map[string][]model.Bar),
	}
}

// Observe records a completed bar. Safe to call from the orchestrator's
// drain path.
func (m *Momentum) Observe(b model.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := append(m.bars[b.Symbol], b)
	if len(window) > m.maxKeep {
		window = window[len(window)-m.maxKeep:]
	}
	m.bars[b.Symbol] = window
}

// Evaluate implements Evaluator.
func (m *Momentum) Evaluate(ctx context.Context, symbol string, lookback int) ([]model.SignalEvent, error) {
	m.mu.Lock()
	window := m.bars[symbol]
	if lookback > 0 && len(window) > lookback {
		window = window[len(window)-lookback:]
	}
	snapshot := make([]model.Bar, len(window))
	copy(snapshot, window)
	m.mu.Unlock()

	if len(snapshot) < 2 {
		return nil, nil
	}

	first := snapshot[0]
	last := snapshot[len(snapshot)-1]
	if first.Close <= 0 {
		return nil, nil
	}

	change := (last.Close - first.Close) / first.Close
	if math.Abs(change) < m.threshold {
		return nil, nil
	}

	sigType := model.EntryLong
	if change < 0 {
		sigType = model.EntryShort
	}

	ev := model.SignalEvent{
		Type:     sigType,
		Symbol:   symbol,
		Price:    last.Close,
		Time:     last.Start,
		Strategy: StrategyMomentum,
		Indicators: map[string]float64{
			"change_pct":  change * 100,
			"first_close": first.Close,
			"last_close":  last.Close,
			"bars":        float64(len(snapshot)),
		},
	}
	return []model.SignalEvent{ev}, nil
}
