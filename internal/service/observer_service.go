package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/audit"
)

// ObserverService records bridge events asynchronously through a buffered
// channel and a background worker that batches them into one or more
// EventStore sinks. RecordEvent never fails the caller.
type ObserverService struct {
	stores        []audit.EventStore
	events        chan audit.EventRecord
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	channelSize   int
	sendTimeout   time.Duration // 0 = drop immediately
	dropCount     atomic.Int64
	recorded      atomic.Int64

	// closeMu guards closed so RecordEvent never sends on a closed channel.
	closeMu sync.RWMutex
	closed  bool

	warningThreshold int
	lastWarning      atomic.Int64
	now              func() time.Time
}

// ObserverOption configures ObserverService.
type ObserverOption func(*ObserverService)

// WithObserverBatchSize sets the number of events to batch before writing.
func WithObserverBatchSize(size int) ObserverOption {
	return func(s *ObserverService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithObserverFlushInterval sets the interval to flush pending events.
func WithObserverFlushInterval(interval time.Duration) ObserverOption {
	return func(s *ObserverService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithObserverBufferSize sets the size of the event channel buffer.
func WithObserverBufferSize(size int) ObserverOption {
	return func(s *ObserverService) {
		if size > 0 {
			s.events = make(chan audit.EventRecord, size)
			s.channelSize = size
		}
	}
}

// WithObserverSendTimeout sets the backpressure timeout.
// 0 = drop immediately, >0 = block up to this duration before dropping.
func WithObserverSendTimeout(timeout time.Duration) ObserverOption {
	return func(s *ObserverService) {
		s.sendTimeout = timeout
	}
}

// NewObserverService creates an ObserverService writing to stores.
func NewObserverService(logger *slog.Logger, stores []audit.EventStore, opts ...ObserverOption) *ObserverService {
	const defaultChannelSize = 1000
	s := &ObserverService{
		stores:           stores,
		events:           make(chan audit.EventRecord, defaultChannelSize),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		sendTimeout:      10 * time.Millisecond,
		warningThreshold: 80,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker.
func (s *ObserverService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// RecordEvent implements audit.Observer. A zero Timestamp is set to now.
// When the buffer stays full past the send timeout the event is dropped and
// counted.
func (s *ObserverService) RecordEvent(record audit.EventRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = s.now()
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.recordDrop(record)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.events)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.events <- record:
		s.recorded.Add(1)
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.events <- record:
		s.recorded.Add(1)
	case <-timer.C:
		s.recordDrop(record)
	}
}

func (s *ObserverService) recordDrop(record audit.EventRecord) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("event dropped",
		"action", record.Action,
		"tool", record.Tool,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *ObserverService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("event channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
		)
	}
}

// DroppedEvents returns the number of dropped events.
func (s *ObserverService) DroppedEvents() int64 { return s.dropCount.Load() }

// RecordedEvents returns the number of events accepted into the buffer.
func (s *ObserverService) RecordedEvents() int64 { return s.recorded.Load() }

// ChannelDepth returns the current buffer usage.
func (s *ObserverService) ChannelDepth() int { return len(s.events) }

// ChannelCapacity returns the buffer size.
func (s *ObserverService) ChannelCapacity() int { return s.channelSize }

// Stop closes the buffer, waits for the worker to write pending events, then
// flushes and closes every store. Later RecordEvent calls are dropped.
func (s *ObserverService) Stop() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.closeMu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The worker may have exited on context cancellation first.
	var rest []audit.EventRecord
	for record := range s.events {
		rest = append(rest, record)
	}
	if len(rest) > 0 {
		s.flush(ctx, rest)
	}

	var errs []error
	for _, store := range s.stores {
		if err := store.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ObserverService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.EventRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.flush(flushCtx, batch)
		cancel()
	}

	for {
		select {
		case record, ok := <-s.events:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Take what is buffered now; the channel may never be closed.
		drain:
			for {
				select {
				case record, ok := <-s.events:
					if !ok {
						break drain
					}
					batch = append(batch, record)
				default:
					break drain
				}
			}
			finalFlush()
			return
		}
	}
}

// flush writes a batch to every store. Errors are logged, never returned.
func (s *ObserverService) flush(ctx context.Context, batch []audit.EventRecord) {
	for _, store := range s.stores {
		if err := store.Append(ctx, batch...); err != nil {
			s.logger.Error("failed to write event batch",
				"error", err,
				"count", len(batch),
			)
		}
	}
}

var _ audit.Observer = (*ObserverService)(nil)
