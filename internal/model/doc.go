// Package model defines the shared value types that flow through the
// ingestion pipeline.
//
// Conventions:
//   - Prices and volumes: float64
//   - Timestamps: time.Time in UTC
//   - Everything here is passed by copy across component boundaries; no
//     type in this package carries mutable shared state.
package model
