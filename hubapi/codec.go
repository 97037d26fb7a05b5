package hubapi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// MaxPacketSize is the receive buffer size on both sides of the protocol.
const MaxPacketSize = 64 * 1024

// MaxDatagramPayload is the largest encoded message sent as a single
// datagram. Anything larger goes through the multipacket path. The margin
// below half the packet size leaves room for UDP and envelope overhead.
const MaxDatagramPayload = MaxPacketSize/2 - 20

// Message is the wire envelope: a tag selecting the handler and an opaque
// body the handler decodes. Encoded messages are length-prefixed with a
// 4-byte big-endian count of the CBOR bytes that follow.
type Message struct {
	Tag  string          `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

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

var (
	// ErrShortPacket reports a datagram too small to carry the length prefix.
	ErrShortPacket = errors.New("packet shorter than length prefix")
	// ErrFrameLength reports a length prefix that disagrees with the
	// datagram size. Both cases drop the packet; neither is fatal.
	ErrFrameLength = errors.New("length prefix does not match packet size")
)

// Encode serializes a tagged message. A nil body produces an envelope with
// no body bytes.
func Encode(tag string, body any) ([]byte, error) {
	var raw cbor.RawMessage
	if body != nil {
		b, err := em.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s body: %w", tag, err)
		}
		raw = b
	}
	pkt, err := em.Marshal(Message{Tag: tag, Body: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", tag, err)
	}
	out := make([]byte, 4+len(pkt))
	binary.BigEndian.PutUint32(out, uint32(len(pkt)))
	copy(out[4:], pkt)
	return out, nil
}

// Decode parses a length-prefixed envelope. Errors mean the packet is
// malformed and should be dropped.
func Decode(pkt []byte) (Message, error) {
	if len(pkt) < 4 {
		return Message{}, ErrShortPacket
	}
	n := binary.BigEndian.Uint32(pkt)
	if int(n) != len(pkt)-4 {
		return Message{}, fmt.Errorf("%w: prefix %d, payload %d", ErrFrameLength, n, len(pkt)-4)
	}
	var m Message
	if err := dm.Unmarshal(pkt[4:], &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return m, nil
}

// DecodeBody decodes a message body into a concrete request or reply type.
func DecodeBody[T any](m Message) (T, error) {
	var v T
	if len(m.Body) == 0 {
		return v, fmt.Errorf("%s message has no body", m.Tag)
	}
	if err := dm.Unmarshal(m.Body, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s body: %w", m.Tag, err)
	}
	return v, nil
}

// EncodeArgs serializes positional RPC arguments.
func EncodeArgs(args ...any) ([]cbor.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]cbor.RawMessage, len(args))
	for i, a := range args {
		b, err := em.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// Arg decodes the i-th positional argument of an RPC call.
func Arg[T any](args []cbor.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, fmt.Errorf("missing argument %d", i)
	}
	if err := dm.Unmarshal(args[i], &v); err != nil {
		return v, fmt.Errorf("invalid argument %d: %w", i, err)
	}
	return v, nil
}

// EncodeValue serializes an RPC result value.
func EncodeValue(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return b, nil
}

// DecodeValue decodes an RPC result value.
func DecodeValue[T any](raw cbor.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := dm.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}

// IsErrorTag reports whether a reply tag signals a failure.
func IsErrorTag(tag string) bool {
	return strings.HasSuffix(tag, "_ERROR")
}
