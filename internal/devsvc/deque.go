package devsvc

import "github.com/evtlab/iohub/eventapi"

// eventDeque is a bounded FIFO of converted events. Appending beyond the
// capacity evicts the oldest entry; that loss is documented behavior, not
// an error. Only the hub's processing goroutine touches a deque.
type eventDeque struct {
	buf []eventapi.Event
	cap int
}

func newEventDeque(capacity int) *eventDeque {
	if capacity < 1 {
		capacity = 1
	}
	return &eventDeque{cap: capacity}
}

func (d *eventDeque) Append(ev eventapi.Event) {
	if len(d.buf) == d.cap {
		copy(d.buf, d.buf[1:])
		d.buf[len(d.buf)-1] = ev
		return
	}
	d.buf = append(d.buf, ev)
}

func (d *eventDeque) Len() int {
	return len(d.buf)
}

// DrainAll returns and removes every buffered event.
func (d *eventDeque) DrainAll() []eventapi.Event {
	if len(d.buf) == 0 {
		return nil
	}
	out := d.buf
	d.buf = nil
	return out
}

func (d *eventDeque) Clear() {
	d.buf = nil
}
