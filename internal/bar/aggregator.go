package bar

import (
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

// Alignment epoch for bar boundaries. Only the phase of the bucket
// boundaries depends on this constant, not bar correctness. The Unix epoch
// keeps bucket starts on familiar wall-clock boundaries for intervals that
// divide evenly into hours.
var epoch = time.Unix(0, 0).UTC()

// Align returns the interval-aligned open time for a timestamp:
// floor((t-epoch)/interval)*interval + epoch.
func Align(t time.Time, interval time.Duration) time.Time {
	elapsed := t.Sub(epoch)
	return epoch.Add(elapsed - elapsed%interval)
}

// Aggregator builds bars for a single symbol. Not safe for concurrent use;
// each aggregator is owned by the goroutine that feeds it ticks.
type Aggregator struct {
	symbol   string
	interval time.Duration

	open    model.Bar
	hasOpen bool

	staleTicks int64
}

// NewAggregator creates an aggregator for one symbol.
func NewAggregator(symbol string, interval time.Duration) *Aggregator {
	return &Aggregator{
		symbol:   symbol,
		interval: interval,
	}
}

// OnTick folds a tick into the open bar. When the tick lands at or past the
// open bar's end boundary, the completed bar is returned and a new bar is
// seeded from the tick. Ticks older than the open bar's start are rejected
// and counted; they never mutate the open bar.
func (a *Aggregator) OnTick(price, volume float64, ts time.Time) (model.Bar, bool) {
	if !a.hasOpen {
		a.seed(price, volume, ts)
		return model.Bar{}, false
	}

	if ts.Before(a.open.Start) {
		a.staleTicks++
		return model.Bar{}, false
	}

	if !ts.Before(a.open.End()) {
		completed := a.open
		a.seed(price, volume, ts)
		return completed, true
	}

	if price > a.open.High {
		a.open.High = price
	}
	if price < a.open.Low {
		a.open.Low = price
	}
	a.open.Close = price
	a.open.Volume += volume
	return model.Bar{}, false
}

// Flush force-closes the in-progress bar. Called at shutdown so the final
// partial bar is not silently lost.
func (a *Aggregator) Flush() (model.Bar, bool) {
	if !a.hasOpen {
		return model.Bar{}, false
	}
	completed := a.open
	a.hasOpen = false
	a.open = model.Bar{}
	return completed, true
}

// StaleTicks returns the number of rejected out-of-order ticks.
func (a *Aggregator) StaleTicks() int64 {
	return a.staleTicks
}

func (a *Aggregator) seed(price, volume float64, ts time.Time) {
	a.open = model.Bar{
		Symbol:   a.symbol,
		Start:    Align(ts, a.interval),
		Interval: a.interval,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Volume:   volume,
	}
	a.hasOpen = true
}

// Set owns one aggregator per symbol, created lazily. At most one bar is in
// progress per symbol at any time.
type Set struct {
	interval    time.Duration
	aggregators map[string]*Aggregator
}

// NewSet creates an empty aggregator set for the given interval.
func NewSet(interval time.Duration) *Set {
	return &Set{
		interval:    interval,
		aggregators: make(map[string]*Aggregator),
	}
}

// OnTick routes a tick to its symbol's aggregator.
func (s *Set) OnTick(t model.Tick) (model.Bar, bool) {
	agg, ok := s.aggregators[t.Symbol]
	if !ok {
		agg = NewAggregator(t.Symbol, s.interval)
		s.aggregators[t.Symbol] = agg
	}
	return agg.OnTick(t.Price, t.Volume, t.Time)
}

// Flush force-closes every in-progress bar and returns them.
func (s *Set) Flush() []model.Bar {
	var out []model.Bar
	for _, agg := range s.aggregators {
		if b, ok := agg.Flush(); ok {
			out = append(out, b)
		}
	}
	return out
}

// StaleTicks returns the total rejected tick count across symbols.
func (s *Set) StaleTicks() int64 {
	var total int64
	for _, agg := range s.aggregators {
		total += agg.StaleTicks()
	}
	return total
}
