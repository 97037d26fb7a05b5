package eventapi

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Payload carries the type-specific fields of an event. Concrete payload
// structs are plain values; the Event.Type tag selects which struct decodes
// a wire payload.
type Payload interface {
	isPayload()
}

// Modifier bits carried by keyboard and mouse payloads.
const (
	ModShift uint32 = 1 << iota
	ModCtrl
	ModAlt
	ModMeta
	ModCapsLock
	ModNumLock
)

// KeyboardPayload is shared by press, release and char events. Duration and
// PressID are only set on release events (time since, and id of, the
// matching press).
type KeyboardPayload struct {
	Key        string  `cbor:"1,keyasint" json:"key"`
	Char       string  `cbor:"2,keyasint,omitempty" json:"char,omitempty"`
	Code       uint32  `cbor:"3,keyasint" json:"code"`
	Modifiers  uint32  `cbor:"4,keyasint,omitempty" json:"modifiers,omitempty"`
	AutoRepeat bool    `cbor:"5,keyasint,omitempty" json:"autoRepeat,omitempty"`
	Duration   float64 `cbor:"6,keyasint,omitempty" json:"duration,omitempty"`
	PressID    uint64  `cbor:"7,keyasint,omitempty" json:"pressId,omitempty"`
}

func (KeyboardPayload) isPayload() {}

// Mouse button identifiers.
const (
	MouseButtonNone   uint8 = 0
	MouseButtonLeft   uint8 = 1
	MouseButtonRight  uint8 = 2
	MouseButtonMiddle uint8 = 4
)

type MouseButtonPayload struct {
	Button     uint8  `cbor:"1,keyasint" json:"button"`
	Buttons    uint16 `cbor:"2,keyasint,omitempty" json:"buttons,omitempty"`
	ClickCount uint8  `cbor:"3,keyasint,omitempty" json:"clickCount,omitempty"`
	X          int32  `cbor:"4,keyasint" json:"x"`
	Y          int32  `cbor:"5,keyasint" json:"y"`
	WindowID   uint32 `cbor:"6,keyasint,omitempty" json:"windowId,omitempty"`
}

func (MouseButtonPayload) isPayload() {}

type MouseMotionPayload struct {
	X        int32  `cbor:"1,keyasint" json:"x"`
	Y        int32  `cbor:"2,keyasint" json:"y"`
	DX       int32  `cbor:"3,keyasint,omitempty" json:"dx,omitempty"`
	DY       int32  `cbor:"4,keyasint,omitempty" json:"dy,omitempty"`
	Buttons  uint16 `cbor:"5,keyasint,omitempty" json:"buttons,omitempty"`
	WindowID uint32 `cbor:"6,keyasint,omitempty" json:"windowId,omitempty"`
}

func (MouseMotionPayload) isPayload() {}

type MouseScrollPayload struct {
	ScrollX  int32  `cbor:"1,keyasint,omitempty" json:"scrollX,omitempty"`
	ScrollY  int32  `cbor:"2,keyasint,omitempty" json:"scrollY,omitempty"`
	X        int32  `cbor:"3,keyasint" json:"x"`
	Y        int32  `cbor:"4,keyasint" json:"y"`
	WindowID uint32 `cbor:"5,keyasint,omitempty" json:"windowId,omitempty"`
}

func (MouseScrollPayload) isPayload() {}

// Eye selects which eye a gaze event refers to.
type Eye uint8

const (
	EyeUnknown Eye = iota
	EyeLeft
	EyeRight
	EyeBoth
)

type EyeSamplePayload struct {
	Eye       Eye     `cbor:"1,keyasint,omitempty" json:"eye,omitempty"`
	GazeX     float64 `cbor:"2,keyasint" json:"gazeX"`
	GazeY     float64 `cbor:"3,keyasint" json:"gazeY"`
	PupilSize float64 `cbor:"4,keyasint,omitempty" json:"pupilSize,omitempty"`
	Status    uint8   `cbor:"5,keyasint,omitempty" json:"status,omitempty"`
}

func (EyeSamplePayload) isPayload() {}

type BinocularEyeSamplePayload struct {
	LeftGazeX      float64 `cbor:"1,keyasint" json:"leftGazeX"`
	LeftGazeY      float64 `cbor:"2,keyasint" json:"leftGazeY"`
	LeftPupilSize  float64 `cbor:"3,keyasint,omitempty" json:"leftPupilSize,omitempty"`
	RightGazeX     float64 `cbor:"4,keyasint" json:"rightGazeX"`
	RightGazeY     float64 `cbor:"5,keyasint" json:"rightGazeY"`
	RightPupilSize float64 `cbor:"6,keyasint,omitempty" json:"rightPupilSize,omitempty"`
	Status         uint8   `cbor:"7,keyasint,omitempty" json:"status,omitempty"`
}

func (BinocularEyeSamplePayload) isPayload() {}

type FixationPayload struct {
	Eye      Eye     `cbor:"1,keyasint,omitempty" json:"eye,omitempty"`
	GazeX    float64 `cbor:"2,keyasint" json:"gazeX"`
	GazeY    float64 `cbor:"3,keyasint" json:"gazeY"`
	Duration float64 `cbor:"4,keyasint,omitempty" json:"duration,omitempty"`
}

func (FixationPayload) isPayload() {}

type SaccadePayload struct {
	Eye       Eye     `cbor:"1,keyasint,omitempty" json:"eye,omitempty"`
	StartX    float64 `cbor:"2,keyasint" json:"startX"`
	StartY    float64 `cbor:"3,keyasint" json:"startY"`
	EndX      float64 `cbor:"4,keyasint,omitempty" json:"endX,omitempty"`
	EndY      float64 `cbor:"5,keyasint,omitempty" json:"endY,omitempty"`
	Amplitude float64 `cbor:"6,keyasint,omitempty" json:"amplitude,omitempty"`
	Duration  float64 `cbor:"7,keyasint,omitempty" json:"duration,omitempty"`
}

func (SaccadePayload) isPayload() {}

type BlinkPayload struct {
	Eye      Eye     `cbor:"1,keyasint,omitempty" json:"eye,omitempty"`
	Duration float64 `cbor:"2,keyasint,omitempty" json:"duration,omitempty"`
}

func (BlinkPayload) isPayload() {}

type AnalogInputPayload struct {
	Sequence uint64    `cbor:"1,keyasint" json:"sequence"`
	Channels []float64 `cbor:"2,keyasint" json:"channels"`
}

func (AnalogInputPayload) isPayload() {}

type MessagePayload struct {
	Category string  `cbor:"1,keyasint,omitempty" json:"category,omitempty"`
	Text     string  `cbor:"2,keyasint" json:"text"`
	Offset   float64 `cbor:"3,keyasint,omitempty" json:"offset,omitempty"`
}

func (MessagePayload) isPayload() {}

type LogPayload struct {
	Level string `cbor:"1,keyasint,omitempty" json:"level,omitempty"`
	Text  string `cbor:"2,keyasint" json:"text"`
}

func (LogPayload) isPayload() {}

func decodePayload(t Type, raw cbor.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch t {
	case TypeKeyboardPress, TypeKeyboardRelease, TypeKeyboardChar:
		return decodeAs[KeyboardPayload](raw)
	case TypeMouseButtonPress, TypeMouseButtonRelease, TypeMouseMultiClick:
		return decodeAs[MouseButtonPayload](raw)
	case TypeMouseMove, TypeMouseDrag:
		return decodeAs[MouseMotionPayload](raw)
	case TypeMouseScroll:
		return decodeAs[MouseScrollPayload](raw)
	case TypeEyeSample:
		return decodeAs[EyeSamplePayload](raw)
	case TypeBinocularEyeSample:
		return decodeAs[BinocularEyeSamplePayload](raw)
	case TypeFixationStart, TypeFixationEnd:
		return decodeAs[FixationPayload](raw)
	case TypeSaccadeStart, TypeSaccadeEnd:
		return decodeAs[SaccadePayload](raw)
	case TypeBlinkStart, TypeBlinkEnd:
		return decodeAs[BlinkPayload](raw)
	case TypeAnalogInput:
		return decodeAs[AnalogInputPayload](raw)
	case TypeMessage:
		return decodeAs[MessagePayload](raw)
	case TypeLog:
		return decodeAs[LogPayload](raw)
	default:
		return nil, fmt.Errorf("no payload registered for event type %d", t)
	}
}

func decodeAs[P Payload](raw cbor.RawMessage) (Payload, error) {
	var p P
	if err := dm.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
