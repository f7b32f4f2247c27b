package bar

import (
	"testing"
	"time"

	"github.com/calebmills/signalwatch/internal/model"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		name     string
		ts       time.Time
		interval time.Duration
		want     time.Time
	}{
		{
			name:     "already aligned",
			ts:       time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
			interval: time.Minute,
			want:     time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			name:     "mid minute",
			ts:       time.Date(2024, 3, 1, 12, 5, 37, 250_000_000, time.UTC),
			interval: time.Minute,
			want:     time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			name:     "five minute bucket",
			ts:       time.Date(2024, 3, 1, 12, 7, 59, 0, time.UTC),
			interval: 5 * time.Minute,
			want:     time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			name:     "hour bucket",
			ts:       time.Date(2024, 3, 1, 12, 59, 59, 0, time.UTC),
			interval: time.Hour,
			want:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Align(tt.ts, tt.interval)
			if !got.Equal(tt.want) {
				t.Errorf("Align(%v, %v) = %v, want %v", tt.ts, tt.interval, got, tt.want)
			}
		})
	}
}

func TestAlignProperty(t *testing.T) {
	// For any timestamp, the aligned start satisfies
	// floor((t-epoch)/interval)*interval + epoch.
	interval := 60 * time.Second
	base := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		ts := base.Add(time.Duration(i) * 7919 * time.Millisecond)
		got := Align(ts, interval)

		elapsed := ts.Sub(epoch)
		want := epoch.Add((elapsed / interval) * interval)
		if !got.Equal(want) {
			t.Fatalf("Align(%v) = %v, want %v", ts, got, want)
		}
		if got.After(ts) {
			t.Fatalf("aligned start %v is after tick time %v", got, ts)
		}
		if ts.Sub(got) >= interval {
			t.Fatalf("tick %v falls outside its bucket starting %v", ts, got)
		}
	}
}

func TestAggregator_OHLCV(t *testing.T) {
	// Ticks priced [100, 101, 99, 102] inside one 60s window produce
	// open=100 high=102 low=99 close=102.
	agg := NewAggregator("BTCUSD", time.Minute)
	start := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

	prices := []float64{100, 101, 99, 102}
	for i, px := range prices {
		ts := start.Add(time.Duration(i*10) * time.Second)
		if _, done := agg.OnTick(px, 1, ts); done {
			t.Fatalf("tick %d unexpectedly closed the bar", i)
		}
	}

	b, ok := agg.Flush()
	if !ok {
		t.Fatal("Flush returned no bar")
	}
	if b.Open != 100 {
		t.Errorf("Open = %v, want 100", b.Open)
	}
	if b.High != 102 {
		t.Errorf("High = %v, want 102", b.High)
	}
	if b.Low != 99 {
		t.Errorf("Low = %v, want 99", b.Low)
	}
	if b.Close != 102 {
		t.Errorf("Close = %v, want 102", b.Close)
	}
	if b.Volume != 4 {
		t.Errorf("Volume = %v, want 4", b.Volume)
	}
	if !b.Start.Equal(start) {
		t.Errorf("Start = %v, want %v", b.Start, start)
	}
}

func TestAggregator_BoundaryRollsBar(t *testing.T) {
	agg := NewAggregator("BTCUSD", time.Minute)
	start := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

	agg.OnTick(100, 1, start.Add(10*time.Second))
	agg.OnTick(101, 1, start.Add(30*time.Second))

	// A tick exactly on the end boundary closes the bar and seeds the next.
	completed, ok := agg.OnTick(105, 2, start.Add(time.Minute))
	if !ok {
		t.Fatal("expected completed bar at boundary")
	}
	if completed.Close != 101 {
		t.Errorf("completed Close = %v, want 101", completed.Close)
	}
	if !completed.Start.Equal(start) {
		t.Errorf("completed Start = %v, want %v", completed.Start, start)
	}

	next, ok := agg.Flush()
	if !ok {
		t.Fatal("expected a seeded in-progress bar")
	}
	if next.Open != 105 {
		t.Errorf("next Open = %v, want 105", next.Open)
	}
	if !next.Start.Equal(start.Add(time.Minute)) {
		t.Errorf("next Start = %v, want %v", next.Start, start.Add(time.Minute))
	}
	if next.Volume != 2 {
		t.Errorf("next Volume = %v, want 2", next.Volume)
	}
}

func TestAggregator_RejectsStaleTicks(t *testing.T) {
	agg := NewAggregator("BTCUSD", time.Minute)
	start := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

	agg.OnTick(100, 1, start.Add(10*time.Second))

	// Tick before the open bar's start must be rejected and counted.
	if _, done := agg.OnTick(50, 1, start.Add(-time.Second)); done {
		t.Fatal("stale tick closed the bar")
	}
	if got := agg.StaleTicks(); got != 1 {
		t.Errorf("StaleTicks = %d, want 1", got)
	}

	b, _ := agg.Flush()
	if b.Low != 100 {
		t.Errorf("stale tick corrupted bar: Low = %v, want 100", b.Low)
	}
	if b.Volume != 1 {
		t.Errorf("stale tick corrupted bar: Volume = %v, want 1", b.Volume)
	}
}

func TestAggregator_FlushEmpty(t *testing.T) {
	agg := NewAggregator("BTCUSD", time.Minute)
	if _, ok := agg.Flush(); ok {
		t.Error("Flush on empty aggregator returned a bar")
	}
}

func TestSet_PerSymbolBars(t *testing.T) {
	set := NewSet(time.Minute)
	start := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)

	set.OnTick(tick("BTCUSD", 100, start.Add(time.Second)))
	set.OnTick(tick("ETHUSD", 20, start.Add(2*time.Second)))
	set.OnTick(tick("BTCUSD", 101, start.Add(3*time.Second)))

	bars := set.Flush()
	if len(bars) != 2 {
		t.Fatalf("Flush returned %d bars, want 2", len(bars))
	}

	bySymbol := make(map[string]float64)
	for _, b := range bars {
		bySymbol[b.Symbol] = b.Close
	}
	if bySymbol["BTCUSD"] != 101 {
		t.Errorf("BTCUSD close = %v, want 101", bySymbol["BTCUSD"])
	}
	if bySymbol["ETHUSD"] != 20 {
		t.Errorf("ETHUSD close = %v, want 20", bySymbol["ETHUSD"])
	}
}

func tick(symbol string, price float64, ts time.Time) model.Tick {
	return model.Tick{Symbol: symbol, Price: price, Volume: 1, Time: ts}
}
