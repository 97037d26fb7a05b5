package devsvc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtlab/iohub/eventapi"
)

func TestIngressQueueFIFO(t *testing.T) {
	q := newIngressQueue(8)
	for i := 0; i < 5; i++ {
		q.Enqueue(NativeEvent{DeviceTime: float64(i)})
	}
	out := q.Drain(10)
	require.Len(t, out, 5)
	for i, ev := range out {
		assert.Equal(t, float64(i), ev.DeviceTime)
	}
}

func TestIngressQueueDropsOldestWhenFull(t *testing.T) {
	q := newIngressQueue(4)
	for i := 0; i < 10; i++ {
		q.Enqueue(NativeEvent{DeviceTime: float64(i)})
	}
	out := q.Drain(10)
	require.Len(t, out, 4)
	assert.Equal(t, float64(6), out[0].DeviceTime)
	assert.Equal(t, float64(9), out[3].DeviceTime)
}

func TestIngressQueueConcurrentProducers(t *testing.T) {
	// The queue is the boundary OS hook callbacks cross; producers must
	// never block or corrupt it regardless of consumer progress.
	q := newIngressQueue(64)
	var wg sync.WaitGroup
	const producers = 8
	const perProducer = 500
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(NativeEvent{Type: eventapi.TypeKeyboardPress})
			}
		}()
	}
	wg.Wait()
	out := q.Drain(128)
	assert.LessOrEqual(t, len(out), 64)
	assert.NotEmpty(t, out)
}

func TestEventDequeBounding(t *testing.T) {
	d := newEventDeque(3)
	for i := 1; i <= 5; i++ {
		d.Append(eventapi.Event{ID: uint64(i)})
	}
	assert.Equal(t, 3, d.Len())
	out := d.DrainAll()
	require.Len(t, out, 3)
	assert.Equal(t, uint64(3), out[0].ID)
	assert.Equal(t, uint64(5), out[2].ID)
	assert.Equal(t, 0, d.Len())
}
