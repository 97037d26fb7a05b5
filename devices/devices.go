// Package devices implements the built-in device classes the hub can
// monitor: keyboard and mouse (hook-driven), eye tracker and analog input
// (polled), and the virtual experiment device that receives client-sent
// events. Vendor SDKs and OS hooks attach through the source interfaces;
// the synthetic sources double as demo signal generators and test
// fixtures.
package devices

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"

	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

// KeyInput is one raw key transition delivered by a keyboard hook source.
type KeyInput struct {
	Key        string
	Char       string
	Code       uint32
	Down       bool
	DeviceTime float64
}

// KeyboardSource is the boundary a keyboard hook or SDK attaches through.
// The callback may be invoked from any execution context.
type KeyboardSource interface {
	Attach(cb func(KeyInput)) error
	Detach() error
}

// MouseInputKind distinguishes raw mouse transitions.
type MouseInputKind uint8

const (
	MouseInputMove MouseInputKind = iota
	MouseInputButton
	MouseInputScroll
)

// MouseInput is one raw mouse transition delivered by a hook source.
type MouseInput struct {
	Kind       MouseInputKind
	X, Y       int32
	Button     uint8
	Down       bool
	ScrollX    int32
	ScrollY    int32
	WindowID   uint32
	DeviceTime float64
}

// MouseSource is the boundary a mouse hook attaches through.
type MouseSource interface {
	Attach(cb func(MouseInput)) error
	Detach() error
}

// GazeSample is one raw eye tracker sample.
type GazeSample struct {
	DeviceTime float64
	LeftX      float64
	LeftY      float64
	LeftPupil  float64
	RightX     float64
	RightY     float64
	RightPupil float64
	Status     uint8
}

// SampleSource is the boundary an eye tracker SDK attaches through: each
// poll returns the samples accumulated since the previous one.
type SampleSource interface {
	Read(now float64) ([]GazeSample, error)
	Close() error
}

// FrameSource is the boundary an analog acquisition board attaches
// through: each poll returns the multi-channel frames captured since the
// previous one.
type FrameSource interface {
	ReadFrames(now float64) ([][]float64, error)
	Close() error
}

// Register adds every built-in device class to a registry.
func Register(reg *devsvc.Registry) {
	reg.Register("keyboard", newKeyboard)
	reg.Register("mouse", newMouse)
	reg.Register("eyetracker", newEyeTracker)
	reg.Register("analog_input", newAnalogInput)
	reg.Register("experiment", newExperiment)
}

func decode[T any](name string, raw json.RawMessage, def T) (T, error) {
	return devsvc.DecodeSettings(name, raw, def)
}

func hubArg[T any](args []cbor.RawMessage) (T, error) {
	return hubapi.Arg[T](args, 0)
}
