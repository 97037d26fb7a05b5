package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/evtlab/iohub/hubapi"
)

// roundTrip performs one request/reply exchange. Idempotent reads are
// retried up to the configured budget on timeout; mutating requests get a
// single attempt so a slow hub cannot be asked to mutate twice.
func (c *Connection) roundTrip(tag string, body any, idempotent bool) (hubapi.Message, error) {
	if c.closed.Load() {
		return hubapi.Message{}, ErrClosed
	}
	pkt, err := hubapi.Encode(tag, body)
	if err != nil {
		return hubapi.Message{}, err
	}

	attempts := 1
	if idempotent {
		attempts += c.cfg.RequestRetries
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var lastErr error
	for i := 0; i < attempts; i++ {
		reply, err := c.exchange(pkt)
		if err == nil {
			if hubapi.IsErrorTag(reply.Tag) {
				return reply, hubapi.AsRPCError(reply)
			}
			return reply, nil
		}
		lastErr = err
		var nerr net.Error
		if !errors.As(err, &nerr) || !nerr.Timeout() {
			return hubapi.Message{}, err
		}
		c.log.Debug("Request timed out, retrying")
	}
	return hubapi.Message{}, fmt.Errorf("%s after %d attempts: %w (%v)", tag, attempts, ErrTimeout, lastErr)
}

// exchange sends one encoded request, fragmenting oversized ones, and
// reads the reply, reassembling a multipacket response when announced.
func (c *Connection) exchange(pkt []byte) (hubapi.Message, error) {
	if hubapi.NeedsFragmentation(pkt) {
		frags, err := hubapi.Fragment(hubapi.TagMultipacketRequest, pkt)
		if err != nil {
			return hubapi.Message{}, err
		}
		for _, frag := range frags {
			if _, err := c.conn.Write(frag); err != nil {
				return hubapi.Message{}, fmt.Errorf("failed to send fragment: %w", err)
			}
		}
	} else if _, err := c.conn.Write(pkt); err != nil {
		return hubapi.Message{}, fmt.Errorf("failed to send request: %w", err)
	}

	raw, err := c.readDatagram()
	if err != nil {
		return hubapi.Message{}, err
	}
	m, err := hubapi.Decode(raw)
	if err != nil {
		return hubapi.Message{}, fmt.Errorf("bad reply: %w", err)
	}
	if m.Tag != hubapi.TagMultipacketResponse {
		return m, nil
	}

	header, err := hubapi.DecodeBody[hubapi.MultipacketHeader](m)
	if err != nil {
		return hubapi.Message{}, fmt.Errorf("bad multipacket header: %w", err)
	}
	reasm, err := hubapi.NewReassembler(header)
	if err != nil {
		return hubapi.Message{}, err
	}
	for {
		frag, err := c.readDatagram()
		if err != nil {
			return hubapi.Message{}, err
		}
		done, err := reasm.Add(frag)
		if err != nil {
			return hubapi.Message{}, err
		}
		if done {
			break
		}
	}
	m, err = hubapi.Decode(reasm.Bytes())
	if err != nil {
		return hubapi.Message{}, fmt.Errorf("bad reassembled reply: %w", err)
	}
	return m, nil
}

func (c *Connection) readDatagram() ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.RequestTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, hubapi.MaxPacketSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// expDevice wraps the EXP_DEVICE envelope.
func (c *Connection) expDevice(req hubapi.ExpDeviceRequest, idempotent bool) (hubapi.Message, error) {
	return c.roundTrip(hubapi.TagExpDevice, req, idempotent)
}

// rpc invokes a hub-level method and returns its decoded result value.
// The idempotent flag opts reads into the retry budget.
func rpc[T any](c *Connection, idempotent bool, method string, args ...any) (T, error) {
	var zero T
	encoded, err := hubapi.EncodeArgs(args...)
	if err != nil {
		return zero, err
	}
	reply, err := c.roundTrip(hubapi.TagRPC, hubapi.RPCRequest{Method: method, Args: encoded}, idempotent)
	if err != nil {
		return zero, err
	}
	result, err := hubapi.DecodeBody[hubapi.RPCResult](reply)
	if err != nil {
		return zero, err
	}
	return hubapi.DecodeValue[T](result.Value)
}
