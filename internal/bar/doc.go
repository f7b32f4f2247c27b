// Package bar aggregates ticks into fixed-interval OHLCV bars.
//
// Bar boundaries are aligned to a fixed epoch so that alignment is
// deterministic regardless of tick arrival jitter: two watchers observing
// the same stream always produce identically-bucketed bars.
package bar
