package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec string
		name string
		cfg  map[string]any
	}{
		{spec: "passthrough", name: "passthrough", cfg: map[string]any{}},
		{spec: "passthrough()", name: "passthrough", cfg: map[string]any{}},
		{
			spec: "moving_window(length=3, knot=center)",
			name: "moving_window",
			cfg:  map[string]any{"length": 3.0, "knot": "center"},
		},
		{
			spec: `median(length=5, fields=[gazeX, gazeY], types=[MONOCULAR_EYE_SAMPLE])`,
			name: "median",
			cfg: map[string]any{
				"length": 5.0,
				"fields": []string{"gazeX", "gazeY"},
				"types":  []string{"MONOCULAR_EYE_SAMPLE"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			parsed, err := Parse(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.name, parsed.Name)
			assert.Equal(t, tt.cfg, parsed.Config())
		})
	}
}

func TestParseSpecErrors(t *testing.T) {
	for _, spec := range []string{"", "42", "moving_window(length)", "moving_window(length=,)"} {
		_, err := Parse(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func eyeSample(id uint64, x, y float64) eventapi.Event {
	return eventapi.Event{
		ID:      id,
		Type:    eventapi.TypeEyeSample,
		Time:    float64(id) * 0.01,
		Payload: eventapi.EyeSamplePayload{GazeX: x, GazeY: y, PupilSize: 3},
	}
}

func TestMovingWindowMean(t *testing.T) {
	f, err := NewFactory(zap.NewNop()).Build("moving_window(length=3, knot=center, fields=[gazeX])", 4)
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.ID())

	// The window suppresses output until full.
	assert.Empty(t, f.Apply(eyeSample(1, 1, 0)))
	assert.Empty(t, f.Apply(eyeSample(2, 2, 0)))

	out := f.Apply(eyeSample(3, 6, 0))
	require.Len(t, out, 1)
	assert.Equal(t, int32(4), out[0].FilterID)
	// Center knot: identity of the middle sample, mean of all three.
	assert.Equal(t, uint64(2), out[0].ID)
	assert.InDelta(t, 3.0, out[0].Payload.(eventapi.EyeSamplePayload).GazeX, 1e-9)

	// Sliding: each further input emits one aggregate.
	out = f.Apply(eyeSample(4, 10, 0))
	require.Len(t, out, 1)
	assert.InDelta(t, 6.0, out[0].Payload.(eventapi.EyeSamplePayload).GazeX, 1e-9)
}

func TestMovingWindowEdgeKnot(t *testing.T) {
	f, err := NewFactory(zap.NewNop()).Build("moving_window(length=2, knot=edge)", 1)
	require.NoError(t, err)

	assert.Empty(t, f.Apply(eyeSample(1, 1, 2)))
	out := f.Apply(eyeSample(2, 3, 4))
	require.Len(t, out, 1)
	assert.Equal(t, uint64(2), out[0].ID)
	p := out[0].Payload.(eventapi.EyeSamplePayload)
	// No explicit fields: every default gaze field is averaged.
	assert.InDelta(t, 2.0, p.GazeX, 1e-9)
	assert.InDelta(t, 3.0, p.GazeY, 1e-9)
}

func TestMedianFilter(t *testing.T) {
	f, err := NewFactory(zap.NewNop()).Build("median(length=3, knot=edge, fields=[gazeX])", 2)
	require.NoError(t, err)

	f.Apply(eyeSample(1, 1, 0))
	f.Apply(eyeSample(2, 100, 0)) // outlier
	out := f.Apply(eyeSample(3, 2, 0))
	require.Len(t, out, 1)
	assert.InDelta(t, 2.0, out[0].Payload.(eventapi.EyeSamplePayload).GazeX, 1e-9)
}

func TestWindowedAnalogChannels(t *testing.T) {
	f, err := NewFactory(zap.NewNop()).Build("moving_window(length=2, knot=edge)", 3)
	require.NoError(t, err)

	frame := func(id uint64, a, b float64) eventapi.Event {
		return eventapi.Event{
			ID:      id,
			Type:    eventapi.TypeAnalogInput,
			Payload: eventapi.AnalogInputPayload{Sequence: id, Channels: []float64{a, b}},
		}
	}
	assert.Empty(t, f.Apply(frame(1, 0, 10)))
	out := f.Apply(frame(2, 2, 20))
	require.Len(t, out, 1)
	p := out[0].Payload.(eventapi.AnalogInputPayload)
	assert.Equal(t, []float64{1, 15}, p.Channels)
}

func TestTypeSelectionPassesOthersThrough(t *testing.T) {
	f, err := NewFactory(zap.NewNop()).Build("moving_window(length=3, types=[MONOCULAR_EYE_SAMPLE])", 1)
	require.NoError(t, err)

	msg := eventapi.Event{ID: 9, Type: eventapi.TypeMessage, Payload: eventapi.MessagePayload{Text: "hi"}}
	out := f.Apply(msg)
	require.Len(t, out, 1)
	assert.Equal(t, msg, out[0])
}

func TestPassthrough(t *testing.T) {
	f, err := NewFactory(zap.NewNop()).Build("passthrough", 7)
	require.NoError(t, err)
	ev := eyeSample(1, 1, 2)
	out := f.Apply(ev)
	require.Len(t, out, 1)
	assert.Equal(t, ev, out[0])
}

func TestBuildErrors(t *testing.T) {
	factory := NewFactory(zap.NewNop())
	for _, spec := range []string{
		"warp_filter",
		"moving_window(length=1)",
		"moving_window(length=3, knot=corner)",
		"moving_window(length=3, fields=[velocity])",
		"moving_window(length=3, types=[UNHEARD_OF])",
	} {
		_, err := factory.Build(spec, 1)
		assert.Error(t, err, "spec %q", spec)
	}
}
