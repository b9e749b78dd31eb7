// Package wire implements the length-prefixed message framing and the
// low-level protocol-buffer primitives (varints, fixed-width integers,
// length-delimited byte runs) that the rest of this module's codec and
// wire-message types are built on.
//
// The Buffer type here is a slimmed-down fork of the read/write helper
// the teacher's protobuf tooling carries (no group support — this
// protocol has none — and no deterministic-map-ordering knobs, which
// this module's Dictionary type handles itself).
package wire

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrOverflow is returned when a varint is too large to fit in 64 bits.
var ErrOverflow = errors.New("wire: varint overflow")

// WireType identifies how a field's value is encoded on the wire.
type WireType int8

const (
	WireVarint     WireType = 0
	WireFixed64    WireType = 1
	WireBytes      WireType = 2
	WireStartGroup WireType = 3
	WireEndGroup   WireType = 4
	WireFixed32    WireType = 5
)

// Buffer is a cursor over a byte slice with read and write helpers for
// the protobuf binary format. A zero Buffer is ready to write into; use
// NewBuffer to read from an existing slice.
type Buffer struct {
	buf   []byte
	index int
}

// NewBuffer returns a Buffer that reads from buf.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Bytes returns the unread (write path: accumulated) contents.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.index:]
}

// EOF reports whether there is nothing left to read.
func (b *Buffer) EOF() bool {
	return b.index >= len(b.buf)
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.index
}

// --- decode ---

// DecodeVarint reads a varint-encoded unsigned integer.
func (b *Buffer) DecodeVarint() (uint64, error) {
	v, n := protowire.ConsumeVarint(b.buf[b.index:])
	if n < 0 {
		if n == -1 {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, ErrOverflow
	}
	b.index += n
	return v, nil
}

// DecodeTagAndWireType reads a field tag and wire type, as encoded by a
// leading varint field key.
func (b *Buffer) DecodeTagAndWireType() (tag int32, wt WireType, err error) {
	v, err := b.DecodeVarint()
	if err != nil {
		return 0, 0, err
	}
	wtVal := int8(v & 7)
	v >>= 3
	if v > math.MaxInt32 {
		return 0, 0, fmt.Errorf("wire: tag number out of range: %d", v)
	}
	return int32(v), WireType(wtVal), nil
}

// DecodeFixed32 reads a little-endian 32-bit word.
func (b *Buffer) DecodeFixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(b.buf[b.index:])
	if n < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b.index += n
	return v, nil
}

// DecodeFixed64 reads a little-endian 64-bit word.
func (b *Buffer) DecodeFixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(b.buf[b.index:])
	if n < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b.index += n
	return v, nil
}

// DecodeRawBytes reads a varint-delimited byte run. If alloc is false the
// returned slice aliases the Buffer's backing array.
func (b *Buffer) DecodeRawBytes(alloc bool) ([]byte, error) {
	n, err := b.DecodeVarint()
	if err != nil {
		return nil, err
	}
	nb := int(n)
	if nb < 0 || uint64(nb) != n {
		return nil, fmt.Errorf("wire: bad byte length %d", n)
	}
	end := b.index + nb
	if end < b.index || end > len(b.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	if !alloc {
		out := b.buf[b.index:end]
		b.index = end
		return out, nil
	}
	out := make([]byte, nb)
	copy(out, b.buf[b.index:end])
	b.index = end
	return out, nil
}

// Skip advances past count bytes without interpreting them.
func (b *Buffer) Skip(count int) error {
	if count < 0 {
		return fmt.Errorf("wire: bad skip length %d", count)
	}
	end := b.index + count
	if end < b.index || end > len(b.buf) {
		return io.ErrUnexpectedEOF
	}
	b.index = end
	return nil
}

// SkipField skips a single value of the given wire type, for tolerating
// unrecognized fields in a forward-compatible message.
func (b *Buffer) SkipField(wt WireType) error {
	switch wt {
	case WireVarint:
		_, err := b.DecodeVarint()
		return err
	case WireFixed64:
		_, err := b.DecodeFixed64()
		return err
	case WireBytes:
		_, err := b.DecodeRawBytes(false)
		return err
	case WireFixed32:
		_, err := b.DecodeFixed32()
		return err
	default:
		return fmt.Errorf("wire: unsupported wire type %d", wt)
	}
}

// --- encode ---

// EncodeVarint appends v as a varint.
func (b *Buffer) EncodeVarint(v uint64) {
	b.buf = protowire.AppendVarint(b.buf, v)
}

// EncodeTagAndWireType appends a field key.
func (b *Buffer) EncodeTagAndWireType(tag int32, wt WireType) {
	b.EncodeVarint(uint64(tag)<<3 | uint64(wt))
}

// EncodeFixed32 appends v little-endian.
func (b *Buffer) EncodeFixed32(v uint32) {
	b.buf = protowire.AppendFixed32(b.buf, v)
}

// EncodeFixed64 appends v little-endian.
func (b *Buffer) EncodeFixed64(v uint64) {
	b.buf = protowire.AppendFixed64(b.buf, v)
}

// EncodeRawBytes appends a varint length prefix followed by data.
func (b *Buffer) EncodeRawBytes(data []byte) {
	b.EncodeVarint(uint64(len(data)))
	b.buf = append(b.buf, data...)
}

// DecodeZigZag32 undoes zig-zag encoding of a 32-bit signed integer.
func DecodeZigZag32(v uint64) int32 {
	return int32((uint32(v) >> 1) ^ uint32((int32(v&1)<<31)>>31))
}

// DecodeZigZag64 undoes zig-zag encoding of a 64-bit signed integer.
func DecodeZigZag64(v uint64) int64 {
	return int64((v >> 1) ^ uint64((int64(v&1)<<63)>>63))
}

// EncodeZigZag32 zig-zag encodes a 32-bit signed integer.
func EncodeZigZag32(v int32) uint64 {
	return uint64((uint32(v) << 1) ^ uint32((v >> 31)))
}

// EncodeZigZag64 zig-zag encodes a 64-bit signed integer.
func EncodeZigZag64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}
