package devices

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/internal/devsvc"
	"github.com/evtlab/iohub/pkg/clock"
)

type capture struct {
	events []devsvc.NativeEvent
}

func (c *capture) emit(ev devsvc.NativeEvent) bool {
	c.events = append(c.events, ev)
	return true
}

func provider() devsvc.Provider {
	return devsvc.Provider{Log: zap.NewNop(), Clock: clock.New()}
}

func TestRegisterAllClasses(t *testing.T) {
	reg := devsvc.NewRegistry(zap.NewNop(), clock.New())
	Register(reg)
	assert.Equal(t, []string{"analog_input", "experiment", "eyetracker", "keyboard", "mouse"}, reg.IDs())
}

func TestKeyboardPressReleaseChar(t *testing.T) {
	class, err := newKeyboard(nil, provider())
	require.NoError(t, err)
	kb := class.Impl.(*Keyboard)

	var got capture
	require.NoError(t, kb.StartHook(got.emit))
	src := kb.Source().(*SyntheticKeyboard)

	src.Inject(KeyInput{Key: "lshift", Code: 225, Down: true})
	src.Inject(KeyInput{Key: "a", Char: "A", Code: 4, Down: true})
	src.Inject(KeyInput{Key: "a", Char: "A", Code: 4, Down: false})
	src.Inject(KeyInput{Key: "lshift", Code: 225, Down: false})

	types := make([]eventapi.Type, 0, len(got.events))
	for _, ev := range got.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []eventapi.Type{
		eventapi.TypeKeyboardPress,
		eventapi.TypeKeyboardPress,
		eventapi.TypeKeyboardChar,
		eventapi.TypeKeyboardRelease,
		eventapi.TypeKeyboardRelease,
	}, types)

	press := got.events[1].Payload.(eventapi.KeyboardPayload)
	assert.Equal(t, "A", press.Char)
	assert.Equal(t, eventapi.ModShift, press.Modifiers&eventapi.ModShift)
	assert.False(t, press.AutoRepeat)

	release := got.events[3].Payload.(eventapi.KeyboardPayload)
	assert.GreaterOrEqual(t, release.Duration, 0.0)

	require.NoError(t, kb.StopHook())
	src.Inject(KeyInput{Key: "b", Code: 5, Down: true})
	assert.Len(t, got.events, 5, "no events after detach")
}

func TestKeyboardAutoRepeat(t *testing.T) {
	class, err := newKeyboard(json.RawMessage(`{"char_events": false}`), provider())
	require.NoError(t, err)
	kb := class.Impl.(*Keyboard)

	var got capture
	require.NoError(t, kb.StartHook(got.emit))
	src := kb.Source().(*SyntheticKeyboard)

	src.Inject(KeyInput{Key: "a", Char: "a", Code: 4, Down: true})
	src.Inject(KeyInput{Key: "a", Char: "a", Code: 4, Down: true})

	require.Len(t, got.events, 2, "char events disabled")
	assert.False(t, got.events[0].Payload.(eventapi.KeyboardPayload).AutoRepeat)
	assert.True(t, got.events[1].Payload.(eventapi.KeyboardPayload).AutoRepeat)
}

func TestKeyboardRejectsUnknownSettings(t *testing.T) {
	_, err := newKeyboard(json.RawMessage(`{"sourc": "synthetic"}`), provider())
	var cfgErr *devsvc.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = newKeyboard(json.RawMessage(`{"source": "telepathy"}`), provider())
	assert.ErrorAs(t, err, &cfgErr)
}

func TestMouseMoveDragAndButtons(t *testing.T) {
	class, err := newMouse(nil, provider())
	require.NoError(t, err)
	m := class.Impl.(*Mouse)

	var got capture
	require.NoError(t, m.StartHook(got.emit))
	src := m.Source().(*SyntheticMouse)

	src.Inject(MouseInput{Kind: MouseInputMove, X: 10, Y: 20})
	src.Inject(MouseInput{Kind: MouseInputButton, Button: eventapi.MouseButtonLeft, Down: true, X: 10, Y: 20})
	src.Inject(MouseInput{Kind: MouseInputMove, X: 15, Y: 25})
	src.Inject(MouseInput{Kind: MouseInputButton, Button: eventapi.MouseButtonLeft, Down: false, X: 15, Y: 25})
	src.Inject(MouseInput{Kind: MouseInputScroll, ScrollY: -3})

	types := make([]eventapi.Type, 0, len(got.events))
	for _, ev := range got.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []eventapi.Type{
		eventapi.TypeMouseMove,
		eventapi.TypeMouseButtonPress,
		eventapi.TypeMouseDrag,
		eventapi.TypeMouseButtonRelease,
		eventapi.TypeMouseScroll,
	}, types)

	drag := got.events[2].Payload.(eventapi.MouseMotionPayload)
	assert.Equal(t, int32(5), drag.DX)
	assert.Equal(t, uint16(eventapi.MouseButtonLeft), drag.Buttons)
}

func TestMouseMultiClick(t *testing.T) {
	class, err := newMouse(nil, provider())
	require.NoError(t, err)
	m := class.Impl.(*Mouse)

	var got capture
	require.NoError(t, m.StartHook(got.emit))
	src := m.Source().(*SyntheticMouse)

	click := func() {
		src.Inject(MouseInput{Kind: MouseInputButton, Button: eventapi.MouseButtonLeft, Down: true, X: 5, Y: 5})
		src.Inject(MouseInput{Kind: MouseInputButton, Button: eventapi.MouseButtonLeft, Down: false, X: 5, Y: 5})
	}
	click()
	click()

	var multi []devsvc.NativeEvent
	for _, ev := range got.events {
		if ev.Type == eventapi.TypeMouseMultiClick {
			multi = append(multi, ev)
		}
	}
	require.Len(t, multi, 1)
	assert.Equal(t, uint8(2), multi[0].Payload.(eventapi.MouseButtonPayload).ClickCount)
}

func TestEyeTrackerPolling(t *testing.T) {
	clk := clock.New()
	class, err := newEyeTracker(
		json.RawMessage(`{"sampling_rate": 1000, "binocular": true}`),
		devsvc.Provider{Log: zap.NewNop(), Clock: clk},
	)
	require.NoError(t, err)
	et := class.Impl.(*EyeTracker)
	assert.Equal(t, eventapi.DeviceEyeTracker, class.TypeTag)
	assert.Greater(t, class.DefaultPollInterval, 0.0)

	// First poll arms the source; later polls return elapsed samples.
	_, err = et.Poll(0.0)
	require.NoError(t, err)
	events, err := et.Poll(0.01)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	ev := events[0]
	assert.Equal(t, eventapi.TypeBinocularEyeSample, ev.Type)
	assert.GreaterOrEqual(t, ev.Delay, 0.0)
	_, ok := ev.Payload.(eventapi.BinocularEyeSamplePayload)
	assert.True(t, ok)
}

func TestEyeTrackerRecordingGate(t *testing.T) {
	class, err := newEyeTracker(json.RawMessage(`{"sampling_rate": 1000}`), provider())
	require.NoError(t, err)
	et := class.Impl.(*EyeTracker)
	et.recording.Store(false)

	_, err = et.Poll(0.0)
	require.NoError(t, err)
	events, err := et.Poll(0.01)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAnalogInputSequence(t *testing.T) {
	class, err := newAnalogInput(json.RawMessage(`{"channel_count": 3, "sampling_rate": 1000}`), provider())
	require.NoError(t, err)
	ai := class.Impl.(*AnalogInput)

	_, err = ai.Poll(0.0)
	require.NoError(t, err)
	events, err := ai.Poll(0.005)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for i, ev := range events {
		frame := ev.Payload.(eventapi.AnalogInputPayload)
		assert.Equal(t, uint64(i+1), frame.Sequence)
		assert.Len(t, frame.Channels, 3)
	}
}

func TestAnalogInputValidation(t *testing.T) {
	var cfgErr *devsvc.ConfigError
	_, err := newAnalogInput(json.RawMessage(`{"channel_count": 0}`), provider())
	assert.ErrorAs(t, err, &cfgErr)
}
