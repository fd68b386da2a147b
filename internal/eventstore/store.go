// Package eventstore records synchronization history in SQLite and folds it
// into per-batch summaries.
package eventstore

import (
	"context"
	"time"
)

// Store persists history events in append order.
type Store interface {
	// Append stores e and sets its ID. A zero At is set to now.
	Append(ctx context.Context, e *Event) error
	// Batch returns the events of one pass in append order.
	Batch(ctx context.Context, batchID string) ([]Event, error)
	// Since returns every event at or after from, in append order.
	Since(ctx context.Context, from time.Time) ([]Event, error)
	// Package returns the newest limit events about one package, newest first.
	Package(ctx context.Context, name string, limit int) ([]Event, error)
	Close() error
}
