package hubapi

import (
	"errors"
	"fmt"
)

// Fragmentation. A message whose encoded form exceeds MaxDatagramPayload is
// sent as a multipacket sequence: one header envelope announcing the
// fragment count, then that many raw fragment datagrams in order. The
// receiver concatenates the fragments and decodes the result as a normal
// length-prefixed envelope.

// ErrReassembly reports a fragment sequence that cannot be reassembled.
var ErrReassembly = errors.New("multipacket reassembly failed")

// NeedsFragmentation reports whether an encoded message must go through the
// multipacket path.
func NeedsFragmentation(pkt []byte) bool {
	return len(pkt) > MaxDatagramPayload
}

// Fragment splits an encoded message into a multipacket header followed by
// the raw fragments. The headerTag selects the request or response variant.
func Fragment(headerTag string, pkt []byte) ([][]byte, error) {
	n := (len(pkt) + MaxDatagramPayload - 1) / MaxDatagramPayload
	header, err := Encode(headerTag, MultipacketHeader{Count: n, Size: len(pkt)})
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n+1)
	out = append(out, header)
	for off := 0; off < len(pkt); off += MaxDatagramPayload {
		end := off + MaxDatagramPayload
		if end > len(pkt) {
			end = len(pkt)
		}
		out = append(out, pkt[off:end])
	}
	return out, nil
}

// Reassembler collects the raw fragments announced by a multipacket header.
type Reassembler struct {
	remaining int
	size      int
	buf       []byte
}

// NewReassembler starts collecting the sequence a header announced.
func NewReassembler(h MultipacketHeader) (*Reassembler, error) {
	if h.Count < 1 || h.Size < 1 {
		return nil, fmt.Errorf("%w: header count %d size %d", ErrReassembly, h.Count, h.Size)
	}
	return &Reassembler{
		remaining: h.Count,
		size:      h.Size,
		buf:       make([]byte, 0, h.Size),
	}, nil
}

// Add appends one raw fragment. It returns true once all announced
// fragments have arrived.
func (r *Reassembler) Add(frag []byte) (bool, error) {
	if r.remaining == 0 {
		return false, fmt.Errorf("%w: fragment after sequence end", ErrReassembly)
	}
	r.buf = append(r.buf, frag...)
	r.remaining--
	if r.remaining > 0 {
		return false, nil
	}
	if len(r.buf) != r.size {
		return false, fmt.Errorf("%w: got %d bytes, header announced %d", ErrReassembly, len(r.buf), r.size)
	}
	return true, nil
}

// Bytes returns the reassembled encoded message.
func (r *Reassembler) Bytes() []byte {
	return r.buf
}
