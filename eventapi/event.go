// Package eventapi defines the canonical event record produced by monitored
// devices, the payload types carried by each event class, and the listener
// and filter contracts the processing pipeline fans events out through.
package eventapi

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// Event is the canonical record of something a device observed. All time
// fields are in seconds. LoggedTime is the hub clock reading at the moment
// the hub learned of the event; Time is LoggedTime corrected by the
// estimated capture-to-log Delay; ConfidenceInterval bounds the timestamp
// uncertainty (time since the previous poll for polled devices, zero for
// callback-driven ones).
type Event struct {
	ID                 uint64
	DeviceID           uint8
	ExperimentID       uint32
	SessionID          uint32
	Type               Type
	DeviceTime         float64
	LoggedTime         float64
	Time               float64
	ConfidenceInterval float64
	Delay              float64
	FilterID           int32
	Payload            Payload
}

// The serialized representation must be deterministic and compact: events
// cross the UDP wire in batches and are persisted verbatim. CTAP2 encoding
// options give canonical CBOR output.
var (
	em cbor.EncMode
	dm cbor.DecMode
)

func init() {
	var err error
	em, err = cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		TagsMd:      cbor.TagsForbidden,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type wireEvent struct {
	ID                 uint64          `cbor:"1,keyasint"`
	DeviceID           uint8           `cbor:"2,keyasint,omitempty"`
	ExperimentID       uint32          `cbor:"3,keyasint,omitempty"`
	SessionID          uint32          `cbor:"4,keyasint,omitempty"`
	Type               Type            `cbor:"5,keyasint"`
	DeviceTime         float64         `cbor:"6,keyasint,omitempty"`
	LoggedTime         float64         `cbor:"7,keyasint,omitempty"`
	Time               float64         `cbor:"8,keyasint,omitempty"`
	ConfidenceInterval float64         `cbor:"9,keyasint,omitempty"`
	Delay              float64         `cbor:"10,keyasint,omitempty"`
	FilterID           int32           `cbor:"11,keyasint,omitempty"`
	Payload            cbor.RawMessage `cbor:"12,keyasint,omitempty"`
}

func (e Event) MarshalCBOR() ([]byte, error) {
	var payload cbor.RawMessage
	if e.Payload != nil {
		b, err := em.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	return em.Marshal(wireEvent{
		ID:                 e.ID,
		DeviceID:           e.DeviceID,
		ExperimentID:       e.ExperimentID,
		SessionID:          e.SessionID,
		Type:               e.Type,
		DeviceTime:         e.DeviceTime,
		LoggedTime:         e.LoggedTime,
		Time:               e.Time,
		ConfidenceInterval: e.ConfidenceInterval,
		Delay:              e.Delay,
		FilterID:           e.FilterID,
		Payload:            payload,
	})
}

func (e *Event) UnmarshalCBOR(data []byte) error {
	var w wireEvent
	if err := dm.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:                 w.ID,
		DeviceID:           w.DeviceID,
		ExperimentID:       w.ExperimentID,
		SessionID:          w.SessionID,
		Type:               w.Type,
		DeviceTime:         w.DeviceTime,
		LoggedTime:         w.LoggedTime,
		Time:               w.Time,
		ConfidenceInterval: w.ConfidenceInterval,
		Delay:              w.Delay,
		FilterID:           w.FilterID,
		Payload:            payload,
	}
	return nil
}

// MarshalJSON renders the event for consumers outside the wire protocol
// (the MQTT mirror, log output). Decoding JSON back into an Event is not
// supported.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID                 uint64  `json:"id"`
		DeviceID           uint8   `json:"deviceId"`
		ExperimentID       uint32  `json:"experimentId,omitempty"`
		SessionID          uint32  `json:"sessionId,omitempty"`
		Type               uint16  `json:"type"`
		TypeName           string  `json:"typeName"`
		DeviceTime         float64 `json:"deviceTime"`
		LoggedTime         float64 `json:"loggedTime"`
		Time               float64 `json:"time"`
		ConfidenceInterval float64 `json:"confidenceInterval"`
		Delay              float64 `json:"delay"`
		FilterID           int32   `json:"filterId,omitempty"`
		Payload            Payload `json:"payload,omitempty"`
	}{
		ID:                 e.ID,
		DeviceID:           e.DeviceID,
		ExperimentID:       e.ExperimentID,
		SessionID:          e.SessionID,
		Type:               uint16(e.Type),
		TypeName:           e.Type.String(),
		DeviceTime:         e.DeviceTime,
		LoggedTime:         e.LoggedTime,
		Time:               e.Time,
		ConfidenceInterval: e.ConfidenceInterval,
		Delay:              e.Delay,
		FilterID:           e.FilterID,
		Payload:            e.Payload,
	})
}

// SortByTime orders events by hub time, breaking ties by id so the order
// stays stable for events stamped within the same clock quantum.
func SortByTime(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := cmp.Compare(a.Time, b.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
