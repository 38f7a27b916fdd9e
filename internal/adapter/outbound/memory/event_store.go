// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

const defaultRecentCap = 1000

// EventStore implements audit.EventStore. Every record is kept in a bounded
// ring buffer for the dashboard and optionally written as one JSON line to w.
type EventStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	writer  io.Writer

	// ring holds the most recent records; next is the slot written next.
	ring  []audit.EventRecord
	next  int
	full  bool
	total int64
}

// NewEventStore creates a store with the given ring capacity (<= 0 selects
// 1000). w may be nil to keep records in memory only.
func NewEventStore(w io.Writer, capacity int) *EventStore {
	if capacity <= 0 {
		capacity = defaultRecentCap
	}
	s := &EventStore{
		writer: w,
		ring:   make([]audit.EventRecord, capacity),
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records to the JSON writer and the ring buffer. A write
// error stops the batch; records before it are kept.
func (s *EventStore) Append(ctx context.Context, records ...audit.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
		s.ring[s.next] = r
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
		s.total++
	}
	return nil
}

// Seed loads records into the ring buffer without writing them or counting
// them in Total. Used to show history from earlier sessions.
func (s *EventStore) Seed(records ...audit.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.ring[s.next] = r
		s.next = (s.next + 1) % len(s.ring)
		if s.next == 0 {
			s.full = true
		}
	}
}

// Flush is a no-op; records are written synchronously.
func (s *EventStore) Flush(ctx context.Context) error {
	return nil
}

// Close closes the writer if it is a file other than stdout or stderr.
func (s *EventStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Recent returns up to n of the most recent records, oldest first.
func (s *EventStore) Recent(n int) []audit.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	if n == 0 {
		return nil
	}

	out := make([]audit.EventRecord, n)
	start := s.next - n
	if start < 0 {
		start += len(s.ring)
	}
	for i := 0; i < n; i++ {
		out[i] = s.ring[(start+i)%len(s.ring)]
	}
	return out
}

// Total returns how many records were ever appended.
func (s *EventStore) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Compile-time interface verification.
var (
	_ audit.EventStore  = (*EventStore)(nil)
	_ audit.EventReader = (*EventStore)(nil)
)
