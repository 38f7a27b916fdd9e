package audit

import (
	"context"
)

// EventStore receives batches of event records from the observer worker.
// Implementation handles buffering and async writes.
type EventStore interface {
	// Append stores event records.
	Append(ctx context.Context, records ...EventRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EventReader provides read access to recently recorded events.
type EventReader interface {
	// Recent returns up to n of the most recent records, oldest first.
	Recent(n int) []EventRecord
}
