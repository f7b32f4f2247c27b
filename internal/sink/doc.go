// Package sink defines the downstream injection contract and its
// implementations.
//
// A Sink must be idempotent per (symbol, bar start): re-injecting an
// already-seen bar is a no-op, never an error, so backfill/live overlap is
// harmless. The Retrying wrapper adds bounded retry-then-drop semantics so
// one bad bar can never stall the pipeline.
package sink
