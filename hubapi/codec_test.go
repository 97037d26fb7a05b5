package hubapi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtlab/iohub/eventapi"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	pkt, err := Encode(TagSyncReq, SyncRequest{ClientTime: 1.25})
	require.NoError(t, err)

	m, err := Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, TagSyncReq, m.Tag)

	body, err := DecodeBody[SyncRequest](m)
	require.NoError(t, err)
	assert.Equal(t, 1.25, body.ClientTime)
}

func TestEnvelopeNoBody(t *testing.T) {
	pkt, err := Encode(TagPing, nil)
	require.NoError(t, err)

	m, err := Decode(pkt)
	require.NoError(t, err)
	assert.Equal(t, TagPing, m.Tag)
	assert.Empty(t, m.Body)

	_, err = DecodeBody[SyncRequest](m)
	assert.Error(t, err)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = Decode([]byte{0x00, 0x00, 0x00, 0x09, 0xa0})
	assert.ErrorIs(t, err, ErrFrameLength)

	_, err = Decode([]byte{0x00, 0x00, 0x00, 0x02, 0xff, 0xff})
	assert.Error(t, err)
}

func TestEventsResultRoundTrip(t *testing.T) {
	in := GetEventsResult{Events: []eventapi.Event{
		{ID: 1, Type: eventapi.TypeKeyboardPress, Time: 0.5, Payload: eventapi.KeyboardPayload{Key: "space", Code: 44}},
		{ID: 2, Type: eventapi.TypeMouseMove, Time: 0.6, Payload: eventapi.MouseMotionPayload{X: 3, Y: 4}},
	}}
	pkt, err := Encode(TagGetEventsResult, in)
	require.NoError(t, err)

	m, err := Decode(pkt)
	require.NoError(t, err)
	out, err := DecodeBody[GetEventsResult](m)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestArgsRoundTrip(t *testing.T) {
	args, err := EncodeArgs("mouse", true, 3.5)
	require.NoError(t, err)
	require.Len(t, args, 3)

	name, err := Arg[string](args, 0)
	require.NoError(t, err)
	assert.Equal(t, "mouse", name)

	flag, err := Arg[bool](args, 1)
	require.NoError(t, err)
	assert.True(t, flag)

	_, err = Arg[float64](args, 3)
	assert.Error(t, err)

	_, err = Arg[int](args, 0)
	assert.Error(t, err)
}

func TestErrorTagDetection(t *testing.T) {
	assert.True(t, IsErrorTag(ErrTagRPCAttribute))
	assert.True(t, IsErrorTag(ErrTagDeviceNotFound))
	assert.False(t, IsErrorTag(TagRPCResult))
	assert.False(t, IsErrorTag(TagGetEventsResult))
}

func TestErrorMessageRoundTrip(t *testing.T) {
	pkt := ErrorMessage(ErrTagDeviceMethod, "no such method", "mouse.teleport")
	m, err := Decode(pkt)
	require.NoError(t, err)

	rpcErr := AsRPCError(m)
	assert.Equal(t, ErrTagDeviceMethod, rpcErr.Tag)
	assert.Contains(t, rpcErr.Error(), "no such method")
	assert.Contains(t, rpcErr.Error(), "mouse.teleport")
}
