package devsvc

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/iancoleman/strcase"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/hubapi"
)

// Handler executes one device RPC method. Arguments arrive as encoded
// positional values; the result is encoded by the caller.
type Handler func(args []cbor.RawMessage) (any, error)

// The dispatch table is the closed set of methods a device accepts over
// the wire. It is built once at construction from the base device methods
// plus whatever the class implementation exposes; a method name from the
// network is a validated lookup, never a reflective attribute access.
func buildDispatch(d *Device) map[string]Handler {
	table := map[string]Handler{
		"EnableEventReporting": func(args []cbor.RawMessage) (any, error) {
			enabled, err := hubapi.Arg[bool](args, 0)
			if err != nil {
				return nil, err
			}
			return d.EnableEventReporting(enabled), nil
		},
		"IsReportingEvents": func(args []cbor.RawMessage) (any, error) {
			return d.IsReportingEvents(), nil
		},
		"GetEvents": func(args []cbor.RawMessage) (any, error) {
			var t eventapi.Type
			if len(args) > 0 {
				v, err := hubapi.Arg[uint16](args, 0)
				if err != nil {
					return nil, err
				}
				t = eventapi.Type(v)
			}
			return d.GetEvents(t), nil
		},
		"ClearEvents": func(args []cbor.RawMessage) (any, error) {
			d.ClearEvents()
			return nil, nil
		},
		"GetPollInterval": func(args []cbor.RawMessage) (any, error) {
			return d.PollInterval(), nil
		},
		"IsConnected": func(args []cbor.RawMessage) (any, error) {
			return d.Connected(), nil
		},
	}
	if c, ok := d.impl.(Commander); ok {
		for name, h := range c.Commands() {
			table[name] = h
		}
	}
	wire := make(map[string]Handler, len(table))
	for name, h := range table {
		wire[strcase.ToLowerCamel(name)] = h
	}
	return wire
}

// Methods returns the sorted wire method names, the GET_DEV_INTERFACE
// reply for this device's class.
func (d *Device) Methods() []string {
	out := make([]string, 0, len(d.dispatch))
	for name := range d.dispatch {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch invokes a wire method by name. Unknown names fail the lookup;
// handler panics are contained as runtime errors.
func (d *Device) Dispatch(method string, args []cbor.RawMessage) (result any, err error) {
	h, ok := d.dispatch[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, d.name, method)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &DeviceRuntimeError{Device: d.name, Op: method, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	result, err = h(args)
	if err != nil {
		return nil, &DeviceRuntimeError{Device: d.name, Op: method, Err: err}
	}
	return result, nil
}
