package datastore

import (
	"testing"

	"github.com/dgraph-io/badger"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

type recordingBackend struct {
	nopBackend
	batches [][]eventapi.Event
}

func (r *recordingBackend) writeEvents(events []eventapi.Event) error {
	batch := make([]eventapi.Event, len(events))
	copy(batch, events)
	r.batches = append(r.batches, batch)
	return nil
}

func testEvent(id uint64) eventapi.Event {
	return eventapi.Event{
		ID:        id,
		SessionID: 7,
		Type:      eventapi.TypeMessage,
		Time:      float64(id) * 0.01,
		Payload:   eventapi.MessagePayload{Text: "m"},
	}
}

func TestSinkFlushesEveryInterval(t *testing.T) {
	rec := &recordingBackend{}
	sink := &Sink{log: zap.NewNop(), backend: rec, flushInterval: 3}

	for i := 1; i <= 7; i++ {
		require.NoError(t, sink.WriteEvent(testEvent(uint64(i))))
	}
	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], 3)
	assert.Len(t, rec.batches[1], 3)

	require.NoError(t, sink.Flush())
	require.Len(t, rec.batches, 3)
	assert.Len(t, rec.batches[2], 1)
	assert.Equal(t, uint64(7), rec.batches[2][0].ID)

	// Nothing pending, flush is a no-op.
	require.NoError(t, sink.Flush())
	assert.Len(t, rec.batches, 3)
}

func TestSinkCloseFlushesPending(t *testing.T) {
	rec := &recordingBackend{}
	sink := &Sink{log: zap.NewNop(), backend: rec, flushInterval: 10}

	require.NoError(t, sink.WriteEvent(testEvent(1)))
	require.NoError(t, sink.WriteEvent(testEvent(2)))
	require.NoError(t, sink.Close())

	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 2)
}

func TestSinkAssignsSessionUUID(t *testing.T) {
	sink := &Sink{log: zap.NewNop(), backend: &nopBackend{}, flushInterval: 10}

	id, err := sink.WriteSession(SessionMeta{Code: "S1"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	_, err = sink.WriteSession(SessionMeta{})
	assert.Error(t, err)

	_, err = sink.WriteExperiment(ExperimentMeta{})
	assert.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	sink, err := Open(zap.NewNop(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &nopBackend{}, sink.backend)
	assert.Equal(t, DefaultFlushInterval, sink.flushInterval)

	_, err = Open(zap.NewNop(), Config{Enable: true, Backend: "papyrus"})
	assert.Error(t, err)

	_, err = Open(zap.NewNop(), Config{Enable: true, Backend: "badger"})
	assert.Error(t, err, "badger without a path must fail")
}

func TestBadgerBackendRoundTrip(t *testing.T) {
	log := zap.NewNop()
	b, err := openBadger(log, t.TempDir())
	require.NoError(t, err)
	defer func() { require.NoError(t, b.close()) }()

	expID, err := b.writeExperiment(ExperimentMeta{Code: "EXP", Title: "demo"})
	require.NoError(t, err)
	again, err := b.writeExperiment(ExperimentMeta{Code: "EXP", Title: "demo v2"})
	require.NoError(t, err)
	assert.Equal(t, expID, again, "re-registering the same code keeps the id")

	sesID, err := b.writeSession(SessionMeta{Code: "S1", UUID: "u-1", ExperimentID: expID})
	require.NoError(t, err)
	other, err := b.writeSession(SessionMeta{Code: "S1", UUID: "u-2", ExperimentID: expID})
	require.NoError(t, err)
	assert.NotEqual(t, sesID, other)

	require.NoError(t, b.writeEvents([]eventapi.Event{testEvent(1), testEvent(2)}))
	require.NoError(t, b.initConditionVariables(7, []string{"trial", "rt"}))
	require.NoError(t, b.extendConditionVariables(7, [][]any{{1, 0.31}, {2, 0.28}}))

	var stored eventapi.Event
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("evt/7/2"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &stored)
		})
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.ID)
	assert.Equal(t, eventapi.TypeMessage, stored.Type)

	err = b.db.View(func(txn *badger.Txn) error {
		for _, key := range []string{"cv/7/names", "cv/7/1", "cv/7/2"} {
			if _, err := txn.Get([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}
