package rag

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kanishk2004/plug-rag/internal/records"
)

const (
	defaultUsageBuffer = 256
	usageRecordTimeout = 5 * time.Second
)

// UsageSink persists usage events.
type UsageSink interface {
	RecordUsage(ctx context.Context, e *records.UsageEvent) error
}

// UsageTracker records usage in the background. Track never blocks: events
// that do not fit the buffer are dropped, and events still queued at Close
// are written before Close returns.
type UsageTracker struct {
	sink    UsageSink
	events  chan records.UsageEvent
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewUsageTracker starts a tracker writing to sink.
func NewUsageTracker(sink UsageSink, buffer int, logger *slog.Logger) *UsageTracker {
	if buffer <= 0 {
		buffer = defaultUsageBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &UsageTracker{
		sink:   sink,
		events: make(chan records.UsageEvent, buffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "usage"),
	}
	go t.run()
	return t
}

// Track queues an event and reports whether it was accepted.
func (t *UsageTracker) Track(e records.UsageEvent) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.events <- e:
		return true
	default:
		t.dropped.Add(1)
		t.logger.Warn("Usage event dropped", "bot_id", e.BotID, "tokens", e.Tokens)
		return false
	}
}

// Dropped returns how many events were lost to a full buffer.
func (t *UsageTracker) Dropped() int64 {
	return t.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be written.
func (t *UsageTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.events)
	t.mu.Unlock()
	<-t.done
}

func (t *UsageTracker) run() {
	defer close(t.done)
	for e := range t.events {
		ctx, cancel := context.WithTimeout(context.Background(), usageRecordTimeout)
		if err := t.sink.RecordUsage(ctx, &e); err != nil {
			t.logger.Warn("Failed to record usage", "bot_id", e.BotID, "error", err)
		}
		cancel()
	}
}
