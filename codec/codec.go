// Package codec encodes and decodes host Go values against the tagged
// type system in package schema. It is the layer above wireproto: an
// Argument.Value or ProcedureResult.Value is always the output of
// Encode and the input to Decode for some schema.Type.
//
// Scalars reuse a single-field-message trick the wire format leans on:
// a bare bool/int/float/string/bytes value is encoded exactly as it
// would be inside field 1 of a one-field message, then the leading tag
// byte is stripped (field 1's tag varint never exceeds one byte, since
// 1<<3|wiretype maxes out at 13). Decode re-prepends that byte before
// routing through the same field parser used by wireproto. This keeps
// scalar encoding consistent with message encoding without needing a
// second, bespoke scalar format — the approach the teacher's own
// codec.Buffer was built to support for descriptor options.
package codec

import (
	"fmt"

	greflect "github.com/goccy/go-reflect"

	"github.com/wisq/spaceex-go/schema"
	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

// Set is the host representation of a schema.Set: an order-preserving,
// deduplicated collection. Equality of elements is by reflect.DeepEqual,
// since set element types are themselves dynamic.
type Set struct {
	Values []any
}

// Add appends v if no equal element is already present.
func (s *Set) Add(v any) {
	for _, existing := range s.Values {
		if greflect.DeepEqual(existing, v) {
			return
		}
	}
	s.Values = append(s.Values, v)
}

// DictEntry is one key/value pair of a decoded Dictionary whose key type
// is not Go-comparable (e.g. a Tuple or List key) and so cannot live in
// a map[any]any.
type DictEntry struct {
	Key, Value any
}

// EnumValue is the host representation of a decoded Enumeration member.
type EnumValue struct {
	Name  string
	Value int32
}

const scalarFieldTag = 1

// Encode renders v as the wire bytes for t.
func Encode(v any, t *schema.Type) ([]byte, error) {
	if t == nil {
		return nil, &spaceexerr.ProtocolError{Reason: "encode: nil type"}
	}
	switch t.Kind {
	case schema.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		n := uint64(0)
		if b {
			n = 1
		}
		return encodeScalarVarint(n), nil
	case schema.SInt32:
		n, ok := asInt64(v)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return encodeScalarVarint(wire.EncodeZigZag64(n)), nil
	case schema.UInt32, schema.UInt64:
		n, ok := asUint64(v)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return encodeScalarVarint(n), nil
	case schema.Float:
		f, ok := asFloat64(v)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		var buf wire.Buffer
		buf.EncodeTagAndWireType(scalarFieldTag, wire.WireFixed32)
		buf.EncodeFixed32(float32bits(float32(f)))
		return stripTag(buf.Bytes()), nil
	case schema.Double:
		f, ok := asFloat64(v)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		var buf wire.Buffer
		buf.EncodeTagAndWireType(scalarFieldTag, wire.WireFixed64)
		buf.EncodeFixed64(float64bits(f))
		return stripTag(buf.Bytes()), nil
	case schema.Bytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return encodeScalarBytes(b), nil
	case schema.String:
		s, ok := v.(string)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return encodeScalarBytes([]byte(s)), nil
	case schema.List:
		return encodeList(v, t)
	case schema.Set:
		return encodeSet(v, t)
	case schema.Tuple:
		return encodeTuple(v, t)
	case schema.Dictionary:
		return encodeDictionary(v, t)
	case schema.Class:
		ref, ok := v.(schema.ObjectReference)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		// A class value is the opaque object id itself, with no length
		// prefix; the server sends the single byte 0x00 for null.
		out := make([]byte, len(ref.ID))
		copy(out, ref.ID)
		return out, nil
	case schema.Enumeration:
		ev, ok := v.(EnumValue)
		if !ok {
			n, isInt := asInt64(v)
			if !isInt {
				return nil, typeMismatch(t, v)
			}
			return encodeScalarVarint(wire.EncodeZigZag64(n)), nil
		}
		return encodeScalarVarint(wire.EncodeZigZag64(int64(ev.Value))), nil
	case schema.ProcedureCall:
		call, ok := v.(*wireproto.ProcedureCall)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return call.Marshal(), nil
	case schema.Protobuf:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeMismatch(t, v)
		}
		return b, nil
	default:
		return nil, &spaceexerr.ProtocolError{Reason: fmt.Sprintf("encode: unhandled kind %s", t.Kind)}
	}
}

// Decode parses b as a value of type t. conn is attached to any Class
// reference produced, so later comparisons can tell connections apart.
func Decode(b []byte, t *schema.Type, conn schema.ConnHandle) (any, error) {
	if t == nil {
		return nil, &spaceexerr.ProtocolError{Reason: "decode: nil type"}
	}
	switch t.Kind {
	case schema.Bool:
		n, err := decodeScalarVarint(b)
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case schema.SInt32:
		n, err := decodeScalarVarint(b)
		if err != nil {
			return nil, err
		}
		return int32(wire.DecodeZigZag64(n)), nil
	case schema.UInt32:
		n, err := decodeScalarVarint(b)
		if err != nil {
			return nil, err
		}
		return uint32(n), nil
	case schema.UInt64:
		n, err := decodeScalarVarint(b)
		if err != nil {
			return nil, err
		}
		return n, nil
	case schema.Float:
		buf := wire.NewBuffer(prependTag(b, wire.WireFixed32))
		if _, _, err := buf.DecodeTagAndWireType(); err != nil {
			return nil, protoErr(err)
		}
		v, err := buf.DecodeFixed32()
		if err != nil {
			return nil, protoErr(err)
		}
		return float32frombits(v), nil
	case schema.Double:
		buf := wire.NewBuffer(prependTag(b, wire.WireFixed64))
		if _, _, err := buf.DecodeTagAndWireType(); err != nil {
			return nil, protoErr(err)
		}
		v, err := buf.DecodeFixed64()
		if err != nil {
			return nil, protoErr(err)
		}
		return float64frombits(v), nil
	case schema.Bytes:
		return decodeScalarBytes(b)
	case schema.String:
		raw, err := decodeScalarBytes(b)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case schema.List:
		return decodeList(b, t, conn)
	case schema.Set:
		return decodeSet(b, t, conn)
	case schema.Tuple:
		return decodeTuple(b, t, conn)
	case schema.Dictionary:
		return decodeDictionary(b, t, conn)
	case schema.Class:
		id := make([]byte, len(b))
		copy(id, b)
		return schema.ObjectReference{Conn: conn, Class: t.Name, ID: id}, nil
	case schema.Enumeration:
		n, err := decodeScalarVarint(b)
		if err != nil {
			return nil, err
		}
		val := int32(wire.DecodeZigZag64(n))
		if t.EnumValues == nil {
			return EnumValue{Value: val}, nil
		}
		name, ok := t.EnumValues[val]
		if !ok {
			return nil, &spaceexerr.ProtocolError{
				Reason: fmt.Sprintf("decode: %s.%s: unknown enum value %d", t.Service, t.Name, val),
			}
		}
		return EnumValue{Name: name, Value: val}, nil
	case schema.ProcedureCall:
		return wireproto.UnmarshalProcedureCall(b)
	case schema.Protobuf:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	default:
		return nil, &spaceexerr.ProtocolError{Reason: fmt.Sprintf("decode: unhandled kind %s", t.Kind)}
	}
}

// --- scalar tag-strip/restore helpers ---

func encodeScalarVarint(v uint64) []byte {
	var buf wire.Buffer
	buf.EncodeTagAndWireType(scalarFieldTag, wire.WireVarint)
	buf.EncodeVarint(v)
	return stripTag(buf.Bytes())
}

func decodeScalarVarint(b []byte) (uint64, error) {
	buf := wire.NewBuffer(prependTag(b, wire.WireVarint))
	if _, _, err := buf.DecodeTagAndWireType(); err != nil {
		return 0, protoErr(err)
	}
	v, err := buf.DecodeVarint()
	if err != nil {
		return 0, protoErr(err)
	}
	return v, nil
}

func encodeScalarBytes(raw []byte) []byte {
	var buf wire.Buffer
	buf.EncodeTagAndWireType(scalarFieldTag, wire.WireBytes)
	buf.EncodeRawBytes(raw)
	return stripTag(buf.Bytes())
}

func decodeScalarBytes(b []byte) ([]byte, error) {
	buf := wire.NewBuffer(prependTag(b, wire.WireBytes))
	if _, _, err := buf.DecodeTagAndWireType(); err != nil {
		return nil, protoErr(err)
	}
	raw, err := buf.DecodeRawBytes(true)
	if err != nil {
		return nil, protoErr(err)
	}
	return raw, nil
}

// stripTag removes the single leading tag byte produced by encoding
// field 1 of a one-field message. Field 1's tag is always 1<<3|wt,
// which is at most 13 and so always a single varint byte.
func stripTag(withTag []byte) []byte {
	out := make([]byte, len(withTag)-1)
	copy(out, withTag[1:])
	return out
}

// prependTag restores the tag byte stripTag removed, so the result can
// be parsed with the ordinary field-tag decode path.
func prependTag(b []byte, wt wire.WireType) []byte {
	tagByte := byte(scalarFieldTag<<3 | int32(wt))
	out := make([]byte, 0, len(b)+1)
	out = append(out, tagByte)
	return append(out, b...)
}

func protoErr(err error) error {
	return &spaceexerr.ProtocolError{Reason: err.Error()}
}

func typeMismatch(t *schema.Type, v any) error {
	return &spaceexerr.ProtocolError{Reason: fmt.Sprintf("encode: value %T is not a valid %s", v, t)}
}

// --- numeric conversions, tolerant of the host's usual int/float types ---

func asInt64(v any) (int64, bool) {
	rv := greflect.ValueOf(v)
	switch rv.Kind() {
	case greflect.Int, greflect.Int8, greflect.Int16, greflect.Int32, greflect.Int64:
		return rv.Int(), true
	case greflect.Uint, greflect.Uint8, greflect.Uint16, greflect.Uint32, greflect.Uint64:
		return int64(rv.Uint()), true
	default:
		return 0, false
	}
}

func asUint64(v any) (uint64, bool) {
	rv := greflect.ValueOf(v)
	switch rv.Kind() {
	case greflect.Uint, greflect.Uint8, greflect.Uint16, greflect.Uint32, greflect.Uint64:
		return rv.Uint(), true
	case greflect.Int, greflect.Int8, greflect.Int16, greflect.Int32, greflect.Int64:
		n := rv.Int()
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	rv := greflect.ValueOf(v)
	switch rv.Kind() {
	case greflect.Float32, greflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}
