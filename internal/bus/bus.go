// Package bus carries inbound chat messages from the gateways to the router.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"ltlive/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound chan domain.InboundMessage
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundMessage, bufferSize),
		timeout: publishTimeout,
		logger:  logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full, then drops msg.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		// Full: wait up to the timeout before dropping.
		b.logger.Warn("inbound bus full, waiting...", "channel_id", msg.ChannelID, "user_id", msg.Author.UserID)
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "channel_id", msg.ChannelID)
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				"channel_id", msg.ChannelID,
				"user_id", msg.Author.UserID,
				"waited", b.timeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Len returns the number of buffered messages.
func (b *InMemoryBus) Len() int {
	return len(b.inbound)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
