package overlay

import (
	"log/slog"
	"sync"

	"ltlive/internal/metrics"
)

// DefaultQueueSize bounds the number of undelivered events.
const DefaultQueueSize = 64

// Publisher accepts overlay events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Queue is a bounded FIFO between event producers and the websocket server.
// When full, the oldest event is discarded so producers never stall on a
// slow or absent overlay.
type Queue struct {
	mu      sync.Mutex
	events  []Event
	size    int
	notify  chan struct{}
	dropped int64
	logger  *slog.Logger
}

// NewQueue returns a queue holding at most size events.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		size:   size,
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Publish enqueues e, dropping the oldest event if the queue is full.
func (q *Queue) Publish(e Event) {
	q.mu.Lock()
	if len(q.events) >= q.size {
		dropped := q.events[0]
		q.events = q.events[1:]
		q.dropped++
		metrics.OverlayEventsDropped.Inc()
		if q.dropped%50 == 1 {
			q.logger.Warn("overlay queue full, dropping oldest event",
				"dropped_type", dropped.Type(),
				"total_dropped", q.dropped,
			)
		}
	}
	q.events = append(q.events, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever events may be available.
func (q *Queue) Ready() <-chan struct{} { return q.notify }

// Drain removes and returns all queued events in order.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events were discarded so far.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
