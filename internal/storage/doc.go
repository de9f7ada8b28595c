// Package storage provides the persistence layer used by the relay core.
//
// It currently supports:
//   - Channel configuration records (the pipeline reads them read-only)
//   - Durable dedup marks (post processing stays idempotent across restarts)
//   - Optional pending-operation persistence
package storage
