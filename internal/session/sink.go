package session

import (
	"sync"

	"github.com/jennylee1996/speech-to-text-service/internal/codec"
)

// ChannelSink adapts a bounded channel to the Sink interface. Delivery is
// non-blocking: a full buffer or a closed sink reports an error, which
// evicts the sink from its session without stalling the receive path.
type ChannelSink struct {
	C chan codec.TranscriptEvent

	mu     sync.Mutex
	closed bool
}

// NewChannelSink creates a sink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelSink{C: make(chan codec.TranscriptEvent, buffer)}
}

// Send implements Sink
func (c *ChannelSink) Send(ev codec.TranscriptEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSinkClosed
	}

	select {
	case c.C <- ev:
		return nil
	default:
		return ErrSinkOverflow
	}
}

// Close marks the sink closed. The channel itself is left open so a
// consumer can drain already-buffered events.
func (c *ChannelSink) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
