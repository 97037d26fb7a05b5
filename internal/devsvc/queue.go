package devsvc

import "github.com/puzpuzpuz/xsync/v3"

// ingressQueue is the boundary between external callback context and the
// hub's processing goroutine. OS hooks and SDK callbacks append from their
// own threads; only the pipeline drains. When full, the oldest entry is
// evicted so a stalled consumer costs data, never blocks a producer.
type ingressQueue struct {
	q *xsync.MPMCQueueOf[NativeEvent]
}

func newIngressQueue(capacity int) *ingressQueue {
	if capacity < 2 {
		capacity = 2
	}
	return &ingressQueue{q: xsync.NewMPMCQueueOf[NativeEvent](capacity)}
}

func (q *ingressQueue) Enqueue(ev NativeEvent) {
	for !q.q.TryEnqueue(ev) {
		if _, ok := q.q.TryDequeue(); !ok {
			// Racing consumers emptied the queue between attempts.
			continue
		}
	}
}

// Drain removes up to max queued events in FIFO order.
func (q *ingressQueue) Drain(max int) []NativeEvent {
	var out []NativeEvent
	for len(out) < max {
		ev, ok := q.q.TryDequeue()
		if !ok {
			break
		}
		out = append(out, ev)
	}
	return out
}
