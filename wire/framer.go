package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxMessageSize is the default cap on a single framed message,
// guarding against a corrupt or hostile length prefix demanding an
// unbounded allocation.
const DefaultMaxMessageSize = 16 << 20 // 16 MiB

// Frame prepends a varint-encoded length to b and returns the result.
// Mirrors the uvarint-size-then-payload convention the teacher's RPC
// codec uses for each protobuf message on the wire.
func Frame(b []byte) []byte {
	out := make([]byte, 0, 10+len(b))
	out = protowire.AppendVarint(out, uint64(len(b)))
	out = append(out, b...)
	return out
}

// Extract pulls one length-prefixed message off the front of buf. It
// returns ok == false, consuming nothing, if either the length prefix or
// the payload is not yet fully present — the caller should read more
// bytes and retry. maxSize bounds the accepted payload length; a
// declared length beyond it is a hard error, not an "incomplete".
func Extract(buf []byte, maxSize int) (msg []byte, rest []byte, ok bool, err error) {
	b := NewBuffer(buf)
	size, verr := b.DecodeVarint()
	if verr != nil {
		// Not enough bytes yet for the prefix itself; never an error
		// unless the prefix claims to overflow a varint.
		if verr == ErrOverflow {
			return nil, nil, false, verr
		}
		return nil, nil, false, nil
	}
	if maxSize > 0 && size > uint64(maxSize) {
		return nil, nil, false, fmt.Errorf("wire: message of %d bytes exceeds max size %d", size, maxSize)
	}
	need := int(size)
	if need < 0 || uint64(need) != size {
		return nil, nil, false, fmt.Errorf("wire: bad message length %d", size)
	}
	if b.Len() < need {
		// Payload not fully buffered yet; don't consume the prefix either,
		// so a subsequent retry sees the same starting state.
		return nil, nil, false, nil
	}
	msg = buf[b.index : b.index+need]
	rest = buf[b.index+need:]
	return msg, rest, true, nil
}
