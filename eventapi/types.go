package eventapi

// Type identifies an event class. The numeric values are part of the wire
// protocol and of stored data, so they are stable across releases.
type Type uint16

const (
	TypeKeyboardPress   Type = 22
	TypeKeyboardRelease Type = 23
	TypeKeyboardChar    Type = 24

	TypeMouseButtonPress   Type = 32
	TypeMouseButtonRelease Type = 33
	TypeMouseMultiClick    Type = 34
	TypeMouseScroll        Type = 35
	TypeMouseMove          Type = 36
	TypeMouseDrag          Type = 37

	TypeEyeSample          Type = 51
	TypeBinocularEyeSample Type = 52
	TypeFixationStart      Type = 53
	TypeFixationEnd        Type = 54
	TypeSaccadeStart       Type = 55
	TypeSaccadeEnd         Type = 56
	TypeBlinkStart         Type = 57
	TypeBlinkEnd           Type = 58

	TypeAnalogInput Type = 122

	TypeMessage Type = 151
	TypeLog     Type = 152
)

var typeNames = map[Type]string{
	TypeKeyboardPress:      "KEYBOARD_PRESS",
	TypeKeyboardRelease:    "KEYBOARD_RELEASE",
	TypeKeyboardChar:       "KEYBOARD_CHAR",
	TypeMouseButtonPress:   "MOUSE_BUTTON_PRESS",
	TypeMouseButtonRelease: "MOUSE_BUTTON_RELEASE",
	TypeMouseMultiClick:    "MOUSE_MULTI_CLICK",
	TypeMouseScroll:        "MOUSE_SCROLL",
	TypeMouseMove:          "MOUSE_MOVE",
	TypeMouseDrag:          "MOUSE_DRAG",
	TypeEyeSample:          "MONOCULAR_EYE_SAMPLE",
	TypeBinocularEyeSample: "BINOCULAR_EYE_SAMPLE",
	TypeFixationStart:      "FIXATION_START",
	TypeFixationEnd:        "FIXATION_END",
	TypeSaccadeStart:       "SACCADE_START",
	TypeSaccadeEnd:         "SACCADE_END",
	TypeBlinkStart:         "BLINK_START",
	TypeBlinkEnd:           "BLINK_END",
	TypeAnalogInput:        "MULTI_CHANNEL_ANALOG_INPUT",
	TypeMessage:            "MESSAGE",
	TypeLog:                "LOG",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// TypeByName resolves an event type from its stable wire name.
func TypeByName(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// DeviceType identifies a device class with a stable numeric tag.
type DeviceType uint8

const (
	DeviceKeyboard    DeviceType = 20
	DeviceMouse       DeviceType = 30
	DeviceEyeTracker  DeviceType = 50
	DeviceAnalogInput DeviceType = 120
	DeviceExperiment  DeviceType = 150
)

var deviceTypeNames = map[DeviceType]string{
	DeviceKeyboard:    "KEYBOARD",
	DeviceMouse:       "MOUSE",
	DeviceEyeTracker:  "EYETRACKER",
	DeviceAnalogInput: "ANALOGINPUT",
	DeviceExperiment:  "EXPERIMENT",
}

func (d DeviceType) String() string {
	if name, ok := deviceTypeNames[d]; ok {
		return name
	}
	return "UNKNOWN"
}
