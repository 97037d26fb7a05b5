// Package devsvc hosts the devices monitored by the hub process: the base
// device object with its ingress queue, egress buffers, listener fan-out and
// RPC dispatch table, the per-device poll monitors, and the service that
// builds devices from configuration through a class registry.
package devsvc

import (
	"errors"
	"fmt"

	"github.com/evtlab/iohub/eventapi"
)

// Clock is the time source devices and monitors stamp against.
type Clock interface {
	Now() float64
}

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device name already in use")
	ErrUnknownMethod  = errors.New("unknown device method")
	ErrNotPolled      = errors.New("device is not a polled device")
)

// ConfigError reports a structurally invalid device or hub configuration.
// It disables only the offending device unless nothing else can start.
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration at %s: %s", e.Path, e.Reason)
}

// DeviceRuntimeError wraps a failure inside a device's poll, hook or RPC
// method. It is contained by the monitor or dispatcher, never fatal.
type DeviceRuntimeError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceRuntimeError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceRuntimeError) Unwrap() error {
	return e.Err
}

// NativeEvent is the raw, device-specific record produced by a poll or an
// OS-level callback before conversion into a canonical event. DeviceTime is
// the hardware clock reading when known, zero otherwise. Delay is the
// device's estimate of capture-to-log latency, zero when unknown.
type NativeEvent struct {
	Type       eventapi.Type
	DeviceTime float64
	LoggedTime float64
	Delay      float64
	Confidence float64
	Payload    eventapi.Payload
}

// EmitFunc enqueues a native event into a device's ingress queue. It is
// safe to call from any goroutine, including OS hook callbacks. The return
// value reports whether the event was queued (false while reporting is
// disabled).
type EmitFunc func(ev NativeEvent) bool

// Impl is a device-type implementation: the part of a device that talks to
// the underlying hardware or SDK boundary. Implementations that poll also
// satisfy Poller; implementations driven by callbacks also satisfy Hooked.
type Impl interface {
	Close() error
}

// Poller is implemented by device types read on a monitor schedule. Poll
// must be bounded-time: it reads whatever state is currently available and
// returns it as native events stamped with now.
type Poller interface {
	Poll(now float64) ([]NativeEvent, error)
}

// Hooked is implemented by callback-driven device types. StartHook hands
// the implementation an emit function it may call from foreign execution
// contexts until StopHook returns.
type Hooked interface {
	StartHook(emit EmitFunc) error
	StopHook() error
}

// Commander is implemented by device types exposing extra RPC methods
// beyond the base device set.
type Commander interface {
	Commands() map[string]Handler
}
