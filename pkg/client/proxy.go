package client

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/hubapi"
)

// DeviceProxy is the client-side stand-in for one hub device. Its method
// set is closed at discovery time: calling a name the hub never declared
// fails locally with an attribute error, without a round trip.
type DeviceProxy struct {
	c       *Connection
	name    string
	class   string
	id      uint8
	methods map[string]struct{}
}

func newDeviceProxy(c *Connection, info hubapi.DeviceInfo, methods []string) *DeviceProxy {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return &DeviceProxy{
		c:       c,
		name:    info.Name,
		class:   info.Class,
		id:      info.DeviceID,
		methods: set,
	}
}

func (d *DeviceProxy) Name() string  { return d.name }
func (d *DeviceProxy) Class() string { return d.class }
func (d *DeviceProxy) ID() uint8     { return d.id }

// Methods lists the wire method names the hub declared for this device's
// class.
func (d *DeviceProxy) Methods() []string {
	out := make([]string, 0, len(d.methods))
	for m := range d.methods {
		out = append(out, m)
	}
	return out
}

// Call invokes a declared device method on the hub and returns the raw
// result value for the caller to decode.
func (d *DeviceProxy) Call(method string, args ...any) (cbor.RawMessage, error) {
	if _, ok := d.methods[method]; !ok {
		return nil, hubapi.NewRPCError(hubapi.ErrTagRPCAttribute,
			fmt.Sprintf("device %q has no method %q", d.name, method))
	}
	encoded, err := hubapi.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	reply, err := d.c.expDevice(hubapi.ExpDeviceRequest{
		SubTag:     hubapi.SubDevRPC,
		DeviceName: d.name,
		Method:     method,
		Args:       encoded,
	}, false)
	if err != nil {
		return nil, err
	}
	result, err := hubapi.DecodeBody[hubapi.DevRPCResult](reply)
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// CallAs decodes a device method result into a concrete type.
func CallAs[T any](d *DeviceProxy, method string, args ...any) (T, error) {
	raw, err := d.Call(method, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return hubapi.DecodeValue[T](raw)
}

// EnableEventReporting toggles the device's event production gate.
func (d *DeviceProxy) EnableEventReporting(enabled bool) error {
	_, err := d.Call("enableEventReporting", enabled)
	return err
}

// IsReportingEvents reads the device's reporting gate.
func (d *DeviceProxy) IsReportingEvents() (bool, error) {
	return CallAs[bool](d, "isReportingEvents")
}

// GetEvents drains the device's egress buffer on the hub.
func (d *DeviceProxy) GetEvents() ([]eventapi.Event, error) {
	reply, err := d.c.roundTrip(hubapi.TagGetEvents, hubapi.GetEventsRequest{DeviceName: d.name}, true)
	if err != nil {
		return nil, err
	}
	result, err := hubapi.DecodeBody[hubapi.GetEventsResult](reply)
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// ClearEvents empties the device's buffers on the hub.
func (d *DeviceProxy) ClearEvents() error {
	_, err := d.Call("clearEvents")
	return err
}
