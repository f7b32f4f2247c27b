// Package scan evaluates recent bars against strategy entry conditions.
//
// The orchestrator invokes a Scanner on a fixed cadence; the Scanner asks
// its Evaluator collaborator for signals per symbol and suppresses any it
// already surfaced, so each entry condition is reported once. Scans never
// run concurrently: the orchestrator serializes them on its own loop.
package scan
