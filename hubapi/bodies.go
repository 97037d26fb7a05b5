package hubapi

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/evtlab/iohub/eventapi"
)

// SyncRequest carries the client's clock reading at send time. The hub
// replies with SyncReply; the client estimates the clock offset from the
// minimum-RTT round trip.
type SyncRequest struct {
	ClientTime float64 `cbor:"1,keyasint"`
}

// SyncReply echoes the request time and adds the hub's clock readings at
// receive and send.
type SyncReply struct {
	ClientTime  float64 `cbor:"1,keyasint"`
	HubRecvTime float64 `cbor:"2,keyasint"`
	HubSendTime float64 `cbor:"3,keyasint"`
}

// GetEventsRequest optionally narrows retrieval to one device.
type GetEventsRequest struct {
	DeviceName string `cbor:"1,keyasint,omitempty"`
}

type GetEventsResult struct {
	Events []eventapi.Event `cbor:"1,keyasint,omitempty"`
}

// RPCRequest invokes a hub-level method by name with positional arguments.
type RPCRequest struct {
	Method string            `cbor:"1,keyasint"`
	Args   []cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

type RPCResult struct {
	Method string          `cbor:"1,keyasint"`
	Value  cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

// ExpDeviceRequest is the EXP_DEVICE envelope body: a sub-tag selecting the
// device-scoped operation plus that operation's fields.
type ExpDeviceRequest struct {
	SubTag string `cbor:"1,keyasint"`

	// DEV_RPC
	DeviceName string            `cbor:"2,keyasint,omitempty"`
	Method     string            `cbor:"3,keyasint,omitempty"`
	Args       []cbor.RawMessage `cbor:"4,keyasint,omitempty"`

	// GET_DEV_INTERFACE
	DeviceClass string `cbor:"5,keyasint,omitempty"`

	// ADD_DEVICE
	DeviceConfig cbor.RawMessage `cbor:"6,keyasint,omitempty"`

	// EVENT_TX
	Events []eventapi.Event `cbor:"7,keyasint,omitempty"`
}

type DevRPCResult struct {
	DeviceName string          `cbor:"1,keyasint"`
	Method     string          `cbor:"2,keyasint"`
	Value      cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// DevInterfaceResult lists the wire method names a device class accepts via
// DEV_RPC. The client builds its proxy's closed method set from this.
type DevInterfaceResult struct {
	DeviceClass string   `cbor:"1,keyasint"`
	Methods     []string `cbor:"2,keyasint,omitempty"`
}

// DeviceInfo describes one registered device in GET_DEVICE_LIST replies.
type DeviceInfo struct {
	Name      string `cbor:"1,keyasint"`
	Class     string `cbor:"2,keyasint"`
	DeviceID  uint8  `cbor:"3,keyasint"`
	Connected bool   `cbor:"4,keyasint,omitempty"`
	Reporting bool   `cbor:"5,keyasint,omitempty"`
}

type DeviceListResult struct {
	Devices []DeviceInfo `cbor:"1,keyasint,omitempty"`
}

type AddDeviceResult struct {
	Device DeviceInfo `cbor:"1,keyasint"`
}

type EventTxResult struct {
	Accepted int `cbor:"1,keyasint"`
}

// StatusResult reports the hub lifecycle phase and basic counters.
type StatusResult struct {
	Phase       string  `cbor:"1,keyasint"`
	HubTime     float64 `cbor:"2,keyasint"`
	DeviceCount int     `cbor:"3,keyasint"`
	EventCount  uint64  `cbor:"4,keyasint"`
}

// ErrorBody is the payload of every *_ERROR reply.
type ErrorBody struct {
	Message string `cbor:"1,keyasint,omitempty"`
	Detail  string `cbor:"2,keyasint,omitempty"`
}

// MultipacketHeader announces that the next Count datagrams are raw
// fragments of one encoded message, to be concatenated before decoding.
type MultipacketHeader struct {
	Count int `cbor:"1,keyasint"`
	Size  int `cbor:"2,keyasint"`
}
