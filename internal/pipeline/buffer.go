package pipeline

import "github.com/evtlab/iohub/eventapi"

// DefaultGlobalBufferLength bounds the hub-wide event buffer.
const DefaultGlobalBufferLength = 2048

// GlobalBuffer is the bounded holding area for events awaiting client
// retrieval. Every monitored device feeds it through the processor; the
// RPC handler drains it. Overflow silently evicts the oldest events;
// that is accepted data loss under a slow client, not an error.
type GlobalBuffer struct {
	buf []eventapi.Event
	cap int
}

func NewGlobalBuffer(capacity int) *GlobalBuffer {
	if capacity <= 0 {
		capacity = DefaultGlobalBufferLength
	}
	return &GlobalBuffer{cap: capacity}
}

func (b *GlobalBuffer) HandleEvent(ev eventapi.Event) error {
	if len(b.buf) == b.cap {
		copy(b.buf, b.buf[1:])
		b.buf[len(b.buf)-1] = ev
		return nil
	}
	b.buf = append(b.buf, ev)
	return nil
}

func (b *GlobalBuffer) Len() int {
	return len(b.buf)
}

// Drain returns and removes every buffered event.
func (b *GlobalBuffer) Drain() []eventapi.Event {
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = nil
	return out
}

func (b *GlobalBuffer) Clear() {
	b.buf = nil
}
