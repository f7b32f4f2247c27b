// Package orchestrator drives the watcher pipeline.
//
// A single loop drains feed events, injects completed bars into the
// sink, runs the signal scanner on its cadence, and hands detected
// signals to the alert dispatcher. Serializing sink and scanner calls
// through one goroutine keeps those collaborators free of their own
// locking; the feed adapter is the only concurrent producer, and it is
// isolated behind a bounded channel.
package orchestrator
