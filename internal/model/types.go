package model

import (
	"time"

	"github.com/google/uuid"
)

// Tick is a single trade observation from the upstream feed. Ticks are
// ephemeral: they exist only on the way into the bar aggregator.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}

// Bar is a fixed-interval OHLCV aggregate. Start is the interval-aligned
// open time of the bar. Once emitted by the aggregator a Bar is immutable
// and passed by copy everywhere.
type Bar struct {
	Symbol   string
	Start    time.Time
	Interval time.Duration
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// End returns the exclusive end boundary of the bar.
func (b Bar) End() time.Time {
	return b.Start.Add(b.Interval)
}

// FeedStatus describes a connectivity transition reported by the feed
// adapter. It is informational only; the orchestrator derives liveness
// independently.
type FeedStatus struct {
	Connected bool
	Message   string
	Time      time.Time
}

// SignalType enumerates the strategy entry conditions a scan can surface.
type SignalType int

const (
	EntryLong SignalType = iota
	EntryShort
)

// String returns the wire name of the signal type.
func (s SignalType) String() string {
	switch s {
	case EntryLong:
		return "entry_long"
	case EntryShort:
		return "entry_short"
	default:
		return "unknown"
	}
}

// SignalEvent is a detected strategy entry condition at a point in time.
type SignalEvent struct {
	Type       SignalType
	Symbol     string
	Price      float64
	Time       time.Time
	Strategy   string
	Indicators map[string]float64
}

// AlertEvent is a SignalEvent plus dispatch metadata. Retained only in the
// dispatcher's bounded history.
type AlertEvent struct {
	ID           uuid.UUID
	Signal       SignalEvent
	DispatchedAt time.Time
	Channels     []string
}
