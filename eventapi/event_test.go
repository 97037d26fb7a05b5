package eventapi

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventCBORRoundTrip(t *testing.T) {
	events := []Event{
		{
			ID:                 1,
			DeviceID:           2,
			ExperimentID:       7,
			SessionID:          9,
			Type:               TypeKeyboardRelease,
			DeviceTime:         1.25,
			LoggedTime:         1.5,
			Time:               1.5,
			ConfidenceInterval: 0,
			Delay:              0,
			Payload: KeyboardPayload{
				Key:       "a",
				Char:      "a",
				Code:      30,
				Modifiers: ModShift,
				Duration:  0.125,
				PressID:   1,
			},
		},
		{
			ID:         2,
			DeviceID:   3,
			Type:       TypeBinocularEyeSample,
			DeviceTime: 0.001,
			LoggedTime: 0.002,
			Time:       0.002,
			Payload: BinocularEyeSamplePayload{
				LeftGazeX:  0.1,
				LeftGazeY:  -0.2,
				RightGazeX: 0.11,
				RightGazeY: -0.19,
			},
		},
		{
			ID:       3,
			DeviceID: 4,
			Type:     TypeAnalogInput,
			Time:     0.004,
			FilterID: 2,
			Payload:  AnalogInputPayload{Sequence: 41, Channels: []float64{0.5, 1.5, -2.25}},
		},
		{
			ID:      4,
			Type:    TypeMessage,
			Payload: MessagePayload{Category: "trial", Text: "start", Offset: -0.01},
		},
	}

	for _, ev := range events {
		data, err := cbor.Marshal(ev)
		require.NoError(t, err)

		var got Event
		require.NoError(t, cbor.Unmarshal(data, &got))
		if diff := cmp.Diff(ev, got); diff != "" {
			t.Errorf("event %d round trip mismatch (-want +got):\n%s", ev.ID, diff)
		}
	}
}

func TestEventSliceRoundTrip(t *testing.T) {
	in := []Event{
		{ID: 1, Type: TypeMouseMove, Time: 0.1, Payload: MouseMotionPayload{X: 10, Y: 20, DX: 1, DY: 2}},
		{ID: 2, Type: TypeMouseButtonPress, Time: 0.2, Payload: MouseButtonPayload{Button: MouseButtonLeft, X: 10, Y: 20}},
	}
	data, err := cbor.Marshal(in)
	require.NoError(t, err)

	var out []Event
	require.NoError(t, cbor.Unmarshal(data, &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("slice round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownPayloadType(t *testing.T) {
	data, err := cbor.Marshal(wireEvent{ID: 1, Type: 9999, Payload: cbor.RawMessage{0xa0}})
	require.NoError(t, err)

	var got Event
	assert.Error(t, cbor.Unmarshal(data, &got))
}

func TestSortByTime(t *testing.T) {
	events := []Event{
		{ID: 3, Time: 0.30},
		{ID: 1, Time: 0.10},
		{ID: 4, Time: 0.10},
		{ID: 2, Time: 0.20},
	}
	SortByTime(events)

	ids := make([]uint64, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	assert.Equal(t, []uint64{1, 4, 2, 3}, ids)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Time, events[i].Time)
	}
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "KEYBOARD_PRESS", TypeKeyboardPress.String())
	assert.Equal(t, "MULTI_CHANNEL_ANALOG_INPUT", TypeAnalogInput.String())
	assert.Equal(t, "UNKNOWN", Type(9999).String())
	assert.Equal(t, "EYETRACKER", DeviceEyeTracker.String())
}
