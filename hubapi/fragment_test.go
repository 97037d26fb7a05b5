package hubapi

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtlab/iohub/eventapi"
)

func TestFragmentRoundTrip(t *testing.T) {
	// Enough events to push the encoded reply well past one datagram.
	events := make([]eventapi.Event, 0, 4096)
	for i := 0; i < 4096; i++ {
		events = append(events, eventapi.Event{
			ID:   uint64(i + 1),
			Type: eventapi.TypeAnalogInput,
			Time: float64(i) * 0.001,
			Payload: eventapi.AnalogInputPayload{
				Sequence: uint64(i),
				Channels: []float64{0.25, -0.5, 1.0, 2.5},
			},
		})
	}
	in := GetEventsResult{Events: events}
	pkt, err := Encode(TagGetEventsResult, in)
	require.NoError(t, err)
	require.True(t, NeedsFragmentation(pkt))

	frags, err := Fragment(TagMultipacketResponse, pkt)
	require.NoError(t, err)
	require.Greater(t, len(frags), 2)

	header, err := Decode(frags[0])
	require.NoError(t, err)
	require.Equal(t, TagMultipacketResponse, header.Tag)
	h, err := DecodeBody[MultipacketHeader](header)
	require.NoError(t, err)
	assert.Equal(t, len(frags)-1, h.Count)
	assert.Equal(t, len(pkt), h.Size)
	for _, frag := range frags[1:] {
		assert.LessOrEqual(t, len(frag), MaxDatagramPayload)
	}

	r, err := NewReassembler(h)
	require.NoError(t, err)
	for i, frag := range frags[1:] {
		done, err := r.Add(frag)
		require.NoError(t, err)
		assert.Equal(t, i == len(frags)-2, done)
	}
	require.True(t, bytes.Equal(pkt, r.Bytes()))

	m, err := Decode(r.Bytes())
	require.NoError(t, err)
	out, err := DecodeBody[GetEventsResult](m)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("fragmented round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSmallMessageNotFragmented(t *testing.T) {
	pkt, err := Encode(TagPingBack, nil)
	require.NoError(t, err)
	assert.False(t, NeedsFragmentation(pkt))
}

func TestReassemblerSizeMismatch(t *testing.T) {
	r, err := NewReassembler(MultipacketHeader{Count: 2, Size: 10})
	require.NoError(t, err)

	done, err := r.Add(make([]byte, 5))
	require.NoError(t, err)
	require.False(t, done)

	_, err = r.Add(make([]byte, 3))
	assert.ErrorIs(t, err, ErrReassembly)
}

func TestReassemblerRejectsBadHeader(t *testing.T) {
	_, err := NewReassembler(MultipacketHeader{Count: 0, Size: 10})
	assert.ErrorIs(t, err, ErrReassembly)
}
