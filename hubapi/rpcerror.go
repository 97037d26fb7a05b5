package hubapi

import "fmt"

// RPCError is a failure reported by the hub as an *_ERROR reply, or raised
// locally by the client for conditions that map onto the same taxonomy
// (unknown proxy method). Tag is one of the ErrTag constants.
type RPCError struct {
	Tag     string
	Message string
	Detail  string
}

func (e *RPCError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Tag, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// NewRPCError builds a typed error for an error reply tag.
func NewRPCError(tag, message string) *RPCError {
	return &RPCError{Tag: tag, Message: message}
}

// ErrorMessage encodes an error reply envelope. Encoding an ErrorBody
// cannot realistically fail; a failure falls back to a bare tag.
func ErrorMessage(tag, message, detail string) []byte {
	pkt, err := Encode(tag, ErrorBody{Message: message, Detail: detail})
	if err != nil {
		pkt, _ = Encode(tag, nil)
	}
	return pkt
}

// AsRPCError converts a decoded *_ERROR reply into a typed error.
func AsRPCError(m Message) *RPCError {
	e := &RPCError{Tag: m.Tag}
	body, err := DecodeBody[ErrorBody](m)
	if err == nil {
		e.Message = body.Message
		e.Detail = body.Detail
	}
	return e
}
