// Package feed owns the resilient connection to the upstream market-data
// stream.
//
// A Client wraps a single WebSocket connection with heartbeat-based stale
// detection. The Adapter drives the connection state machine
// (Connecting -> Streaming -> Disconnected -> Backoff -> Connecting),
// decodes inbound frames through a pluggable Decoder, aggregates ticks into
// bars, backfills missed bars on reconnect, and publishes bar/status events
// onto a single bounded channel consumed by the orchestrator.
package feed
