package codec

import (
	"fmt"

	greflect "github.com/goccy/go-reflect"

	"github.com/wisq/spaceex-go/schema"
	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wire"
)

// Composite values (List, Set, Tuple, Dictionary) are encoded the same
// way the wire-message layer encodes a repeated field: each element is
// appended as a length-delimited field 1. Dictionary entries are
// themselves two-field submessages (key=1, value=2). This mirrors
// wireproto's repeated-field convention so the whole wire format stays
// a single, consistent convention rather than one format for messages
// and another for containers.

func appendItem(buf *wire.Buffer, item []byte) {
	buf.EncodeTagAndWireType(1, wire.WireBytes)
	buf.EncodeRawBytes(item)
}

// decodeItems splits b into the payloads of each field-1 entry, erroring
// on any other tag (this wire format never mixes container entries with
// other fields).
func decodeItems(b []byte) ([][]byte, error) {
	var items [][]byte
	buf := wire.NewBuffer(b)
	for !buf.EOF() {
		tag, wt, err := buf.DecodeTagAndWireType()
		if err != nil {
			return nil, protoErr(err)
		}
		if tag != 1 || wt != wire.WireBytes {
			return nil, &spaceexerr.ProtocolError{Reason: fmt.Sprintf("decode: unexpected container field %d", tag)}
		}
		item, err := buf.DecodeRawBytes(false)
		if err != nil {
			return nil, protoErr(err)
		}
		cp := make([]byte, len(item))
		copy(cp, item)
		items = append(items, cp)
	}
	return items, nil
}

func encodeList(v any, t *schema.Type) ([]byte, error) {
	rv := greflect.ValueOf(v)
	if rv.Kind() != greflect.Slice && rv.Kind() != greflect.Array {
		return nil, typeMismatch(t, v)
	}
	var buf wire.Buffer
	for i := 0; i < rv.Len(); i++ {
		enc, err := Encode(rv.Index(i).Interface(), t.Elem)
		if err != nil {
			return nil, err
		}
		appendItem(&buf, enc)
	}
	return buf.Bytes(), nil
}

func decodeList(b []byte, t *schema.Type, conn schema.ConnHandle) (any, error) {
	items, err := decodeItems(b)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		val, err := Decode(item, t.Elem, conn)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func encodeSet(v any, t *schema.Type) ([]byte, error) {
	set, ok := v.(*Set)
	if !ok {
		if s, ok2 := v.(Set); ok2 {
			set = &s
		} else {
			return nil, typeMismatch(t, v)
		}
	}
	var buf wire.Buffer
	for _, item := range set.Values {
		enc, err := Encode(item, t.Elem)
		if err != nil {
			return nil, err
		}
		appendItem(&buf, enc)
	}
	return buf.Bytes(), nil
}

func decodeSet(b []byte, t *schema.Type, conn schema.ConnHandle) (any, error) {
	items, err := decodeItems(b)
	if err != nil {
		return nil, err
	}
	set := &Set{}
	for _, item := range items {
		val, err := Decode(item, t.Elem, conn)
		if err != nil {
			return nil, err
		}
		set.Add(val)
	}
	return set, nil
}

func encodeTuple(v any, t *schema.Type) ([]byte, error) {
	rv := greflect.ValueOf(v)
	if rv.Kind() != greflect.Slice && rv.Kind() != greflect.Array {
		return nil, typeMismatch(t, v)
	}
	if rv.Len() != len(t.Items) {
		return nil, &spaceexerr.ProtocolError{
			Reason: fmt.Sprintf("encode: tuple arity mismatch: got %d values, type wants %d", rv.Len(), len(t.Items)),
		}
	}
	var buf wire.Buffer
	for i := 0; i < rv.Len(); i++ {
		enc, err := Encode(rv.Index(i).Interface(), t.Items[i])
		if err != nil {
			return nil, err
		}
		appendItem(&buf, enc)
	}
	return buf.Bytes(), nil
}

func decodeTuple(b []byte, t *schema.Type, conn schema.ConnHandle) (any, error) {
	items, err := decodeItems(b)
	if err != nil {
		return nil, err
	}
	if len(items) != len(t.Items) {
		return nil, &spaceexerr.ProtocolError{
			Reason: fmt.Sprintf("decode: tuple arity mismatch: got %d items, type wants %d", len(items), len(t.Items)),
		}
	}
	out := make([]any, len(items))
	for i, item := range items {
		val, err := Decode(item, t.Items[i], conn)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func encodeDictionary(v any, t *schema.Type) ([]byte, error) {
	var buf wire.Buffer
	encodeEntry := func(k, val any) error {
		kb, err := Encode(k, t.Key)
		if err != nil {
			return err
		}
		vb, err := Encode(val, t.Value)
		if err != nil {
			return err
		}
		var entryBuf wire.Buffer
		entryBuf.EncodeTagAndWireType(1, wire.WireBytes)
		entryBuf.EncodeRawBytes(kb)
		entryBuf.EncodeTagAndWireType(2, wire.WireBytes)
		entryBuf.EncodeRawBytes(vb)
		appendItem(&buf, entryBuf.Bytes())
		return nil
	}

	switch m := v.(type) {
	case map[any]any:
		for k, val := range m {
			if err := encodeEntry(k, val); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	case []DictEntry:
		for _, e := range m {
			if err := encodeEntry(e.Key, e.Value); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}

	rv := greflect.ValueOf(v)
	if rv.Kind() == greflect.Map {
		for _, key := range rv.MapKeys() {
			if err := encodeEntry(key.Interface(), rv.MapIndex(key).Interface()); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}
	return nil, typeMismatch(t, v)
}

func decodeDictionaryEntry(b []byte, t *schema.Type, conn schema.ConnHandle) (key, value any, err error) {
	var keyBytes, valueBytes []byte
	buf := wire.NewBuffer(b)
	for !buf.EOF() {
		tag, wt, err := buf.DecodeTagAndWireType()
		if err != nil {
			return nil, nil, protoErr(err)
		}
		if wt != wire.WireBytes {
			return nil, nil, &spaceexerr.ProtocolError{Reason: "decode: malformed dictionary entry"}
		}
		raw, err := buf.DecodeRawBytes(false)
		if err != nil {
			return nil, nil, protoErr(err)
		}
		switch tag {
		case 1:
			keyBytes = raw
		case 2:
			valueBytes = raw
		}
	}
	key, err = Decode(keyBytes, t.Key, conn)
	if err != nil {
		return nil, nil, err
	}
	value, err = Decode(valueBytes, t.Value, conn)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

func decodeDictionary(b []byte, t *schema.Type, conn schema.ConnHandle) (any, error) {
	entries, err := decodeItems(b)
	if err != nil {
		return nil, err
	}
	result := make(map[any]any, len(entries))
	var overflow []DictEntry
	comparable := true
	for _, entry := range entries {
		k, v, err := decodeDictionaryEntry(entry, t, conn)
		if err != nil {
			return nil, err
		}
		if !comparable {
			overflow = append(overflow, DictEntry{Key: k, Value: v})
			continue
		}
		if !greflect.TypeOf(k).Comparable() {
			comparable = false
			for ek, ev := range result {
				overflow = append(overflow, DictEntry{Key: ek, Value: ev})
			}
			result = nil
			overflow = append(overflow, DictEntry{Key: k, Value: v})
			continue
		}
		result[k] = v
	}
	if !comparable {
		return overflow, nil
	}
	return result, nil
}
