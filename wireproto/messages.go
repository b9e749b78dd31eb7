// Package wireproto hand-maintains the small, fixed set of protocol
// messages the client and server exchange: connection handshakes,
// procedure calls and their results, and stream update notifications.
//
// These are not generated from a .proto file. Per spec §1 and §9, the
// large, ever-changing surface of *service* descriptors (and the Go
// bindings generated from them) is an external collaborator's concern.
// But the finite, protocol-level message shapes below are as load-
// bearing as the framer itself, so they are hand-written directly
// against google.golang.org/protobuf/encoding/protowire's field
// primitives (via this module's wire package) — the same low-level
// approach the teacher's own codec package takes internally.
package wireproto

import (
	"fmt"

	"github.com/wisq/spaceex-go/wire"
)

// ConnectionType distinguishes the two handshakes defined in spec §6.
type ConnectionType int32

const (
	ConnectionRPC ConnectionType = iota
	ConnectionStream
)

// Status is the server's verdict on a ConnectionRequest.
type Status int32

const (
	StatusOK Status = iota
	StatusMalformedMessage
	StatusWrongType
	StatusTimeout
)

// ConnectionRequest is the first frame sent on either socket.
type ConnectionRequest struct {
	Type             ConnectionType
	ClientName       string
	ClientIdentifier []byte
}

func (m *ConnectionRequest) Marshal() []byte {
	var buf wire.Buffer
	appendVarintField(&buf, 1, uint64(m.Type))
	appendStringField(&buf, 2, m.ClientName)
	appendBytesField(&buf, 3, m.ClientIdentifier)
	return buf.Bytes()
}

func UnmarshalConnectionRequest(b []byte) (*ConnectionRequest, error) {
	m := &ConnectionRequest{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			v, err := buf.DecodeVarint()
			if err != nil {
				return err
			}
			m.Type = ConnectionType(v)
		case 2:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.ClientName = s
		case 3:
			raw, err := buf.DecodeRawBytes(true)
			if err != nil {
				return err
			}
			m.ClientIdentifier = raw
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// ConnectionResponse is the server's reply to a ConnectionRequest.
type ConnectionResponse struct {
	Status           Status
	ClientIdentifier []byte
	Message          string
}

func (m *ConnectionResponse) Marshal() []byte {
	var buf wire.Buffer
	appendVarintField(&buf, 1, uint64(m.Status))
	appendBytesField(&buf, 2, m.ClientIdentifier)
	appendStringField(&buf, 3, m.Message)
	return buf.Bytes()
}

func UnmarshalConnectionResponse(b []byte) (*ConnectionResponse, error) {
	m := &ConnectionResponse{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			v, err := buf.DecodeVarint()
			if err != nil {
				return err
			}
			m.Status = Status(v)
		case 2:
			raw, err := buf.DecodeRawBytes(true)
			if err != nil {
				return err
			}
			m.ClientIdentifier = raw
		case 3:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.Message = s
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// Argument is one positional, pre-encoded call argument.
type Argument struct {
	Position uint32
	Value    []byte
}

func (m *Argument) Marshal() []byte {
	var buf wire.Buffer
	appendVarintField(&buf, 1, uint64(m.Position))
	appendBytesField(&buf, 2, m.Value)
	return buf.Bytes()
}

func unmarshalArgument(b []byte) (*Argument, error) {
	m := &Argument{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			v, err := buf.DecodeVarint()
			if err != nil {
				return err
			}
			m.Position = uint32(v)
		case 2:
			raw, err := buf.DecodeRawBytes(true)
			if err != nil {
				return err
			}
			m.Value = raw
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// ProcedureCall is a fully specified invocation of service.procedure.
type ProcedureCall struct {
	Service   string
	Procedure string
	Arguments []*Argument
}

func (m *ProcedureCall) Marshal() []byte {
	var buf wire.Buffer
	appendStringField(&buf, 1, m.Service)
	appendStringField(&buf, 2, m.Procedure)
	for _, a := range m.Arguments {
		appendMessageField(&buf, 3, a.Marshal())
	}
	return buf.Bytes()
}

func UnmarshalProcedureCall(b []byte) (*ProcedureCall, error) {
	m := &ProcedureCall{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.Service = s
		case 2:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.Procedure = s
		case 3:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			arg, err := unmarshalArgument(raw)
			if err != nil {
				return err
			}
			m.Arguments = append(m.Arguments, arg)
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// Request wraps exactly one ProcedureCall (spec §4.3: batching is not used).
type Request struct {
	Calls []*ProcedureCall
}

func (m *Request) Marshal() []byte {
	var buf wire.Buffer
	for _, c := range m.Calls {
		appendMessageField(&buf, 1, c.Marshal())
	}
	return buf.Bytes()
}

func UnmarshalRequest(b []byte) (*Request, error) {
	m := &Request{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			c, err := UnmarshalProcedureCall(raw)
			if err != nil {
				return err
			}
			m.Calls = append(m.Calls, c)
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// Error is the wire shape of a server-side exception.
type Error struct {
	Service     string
	Name        string
	Description string
	StackTrace  string
}

func (m *Error) Marshal() []byte {
	var buf wire.Buffer
	appendStringField(&buf, 1, m.Service)
	appendStringField(&buf, 2, m.Name)
	appendStringField(&buf, 3, m.Description)
	appendStringField(&buf, 4, m.StackTrace)
	return buf.Bytes()
}

func unmarshalError(b []byte) (*Error, error) {
	m := &Error{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.Service = s
		case 2:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.Name = s
		case 3:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.Description = s
		case 4:
			s, err := decodeString(buf)
			if err != nil {
				return err
			}
			m.StackTrace = s
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// ProcedureResult is one call's outcome: either a value or an error.
type ProcedureResult struct {
	Error *Error
	Value []byte
}

func (m *ProcedureResult) Marshal() []byte {
	var buf wire.Buffer
	if m.Error != nil {
		appendMessageField(&buf, 1, m.Error.Marshal())
	}
	appendBytesField(&buf, 2, m.Value)
	return buf.Bytes()
}

func unmarshalProcedureResult(b []byte) (*ProcedureResult, error) {
	m := &ProcedureResult{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			e, err := unmarshalError(raw)
			if err != nil {
				return err
			}
			m.Error = e
		case 2:
			raw, err := buf.DecodeRawBytes(true)
			if err != nil {
				return err
			}
			m.Value = raw
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// Response wraps exactly one ProcedureResult (spec §4.3), or a
// top-level error if the request itself could not be serviced.
type Response struct {
	Error   *Error
	Results []*ProcedureResult
}

func (m *Response) Marshal() []byte {
	var buf wire.Buffer
	if m.Error != nil {
		appendMessageField(&buf, 1, m.Error.Marshal())
	}
	for _, r := range m.Results {
		appendMessageField(&buf, 2, r.Marshal())
	}
	return buf.Bytes()
}

func UnmarshalResponse(b []byte) (*Response, error) {
	m := &Response{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			e, err := unmarshalError(raw)
			if err != nil {
				return err
			}
			m.Error = e
		case 2:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			r, err := unmarshalProcedureResult(raw)
			if err != nil {
				return err
			}
			m.Results = append(m.Results, r)
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// StreamResult is one stream's pushed update.
type StreamResult struct {
	ID     uint64
	Result *ProcedureResult
}

func (m *StreamResult) Marshal() []byte {
	var buf wire.Buffer
	appendVarintField(&buf, 1, m.ID)
	if m.Result != nil {
		appendMessageField(&buf, 2, m.Result.Marshal())
	}
	return buf.Bytes()
}

func unmarshalStreamResult(b []byte) (*StreamResult, error) {
	m := &StreamResult{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			v, err := buf.DecodeVarint()
			if err != nil {
				return err
			}
			m.ID = v
		case 2:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			r, err := unmarshalProcedureResult(raw)
			if err != nil {
				return err
			}
			m.Result = r
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// Event is AddEvent's return value: an embedded stream handle, per
// spec §6's `Event{stream: Stream{id}}`. The nested Stream message
// only ever carries the id field on this wire, so it's flattened here
// rather than given its own named type.
type Event struct {
	StreamID uint64
}

func (m *Event) Marshal() []byte {
	var buf wire.Buffer
	appendMessageField(&buf, 1, marshalStreamHandle(m.StreamID))
	return buf.Bytes()
}

func marshalStreamHandle(id uint64) []byte {
	var buf wire.Buffer
	appendVarintField(&buf, 1, id)
	return buf.Bytes()
}

func unmarshalEvent(b []byte) (*Event, error) {
	m := &Event{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			streamID, err := unmarshalStreamHandle(raw)
			if err != nil {
				return err
			}
			m.StreamID = streamID
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// UnmarshalEvent decodes an AddEvent ProcedureResult's value bytes.
func UnmarshalEvent(b []byte) (*Event, error) {
	return unmarshalEvent(b)
}

func unmarshalStreamHandle(b []byte) (uint64, error) {
	var id uint64
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			v, err := buf.DecodeVarint()
			if err != nil {
				return err
			}
			id = v
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return id, err
}

// StreamUpdate bundles every stream result delivered in one frame.
type StreamUpdate struct {
	Results []*StreamResult
}

func (m *StreamUpdate) Marshal() []byte {
	var buf wire.Buffer
	for _, r := range m.Results {
		appendMessageField(&buf, 1, r.Marshal())
	}
	return buf.Bytes()
}

func UnmarshalStreamUpdate(b []byte) (*StreamUpdate, error) {
	m := &StreamUpdate{}
	err := forEachField(b, func(tag int32, wt wire.WireType, buf *wire.Buffer) error {
		switch tag {
		case 1:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return err
			}
			r, err := unmarshalStreamResult(raw)
			if err != nil {
				return err
			}
			m.Results = append(m.Results, r)
		default:
			return buf.SkipField(wt)
		}
		return nil
	})
	return m, err
}

// --- shared field helpers ---

func appendVarintField(buf *wire.Buffer, tag int32, v uint64) {
	if v == 0 {
		return
	}
	buf.EncodeTagAndWireType(tag, wire.WireVarint)
	buf.EncodeVarint(v)
}

func appendStringField(buf *wire.Buffer, tag int32, s string) {
	if s == "" {
		return
	}
	buf.EncodeTagAndWireType(tag, wire.WireBytes)
	buf.EncodeRawBytes([]byte(s))
}

func appendBytesField(buf *wire.Buffer, tag int32, b []byte) {
	if len(b) == 0 {
		return
	}
	buf.EncodeTagAndWireType(tag, wire.WireBytes)
	buf.EncodeRawBytes(b)
}

func appendMessageField(buf *wire.Buffer, tag int32, sub []byte) {
	buf.EncodeTagAndWireType(tag, wire.WireBytes)
	buf.EncodeRawBytes(sub)
}

func decodeString(buf *wire.Buffer) (string, error) {
	raw, err := buf.DecodeRawBytes(false)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// forEachField walks the top-level fields of a message, dispatching to fn
// with a Buffer positioned to read exactly that field's value.
func forEachField(b []byte, fn func(tag int32, wt wire.WireType, buf *wire.Buffer) error) error {
	buf := wire.NewBuffer(b)
	for !buf.EOF() {
		tag, wt, err := buf.DecodeTagAndWireType()
		if err != nil {
			return fmt.Errorf("wireproto: reading field tag: %w", err)
		}
		if err := fn(tag, wt, buf); err != nil {
			return fmt.Errorf("wireproto: field %d: %w", tag, err)
		}
	}
	return nil
}
