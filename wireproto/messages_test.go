package wireproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionRequestRoundTrip(t *testing.T) {
	want := &ConnectionRequest{
		Type:             ConnectionStream,
		ClientName:       "test-client",
		ClientIdentifier: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	got, err := UnmarshalConnectionRequest(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestConnectionRequestZeroFieldsOmitted(t *testing.T) {
	// Type zero value (ConnectionRPC) and empty strings/bytes are all
	// proto3-style absent-on-the-wire; round trip still recovers zero values.
	want := &ConnectionRequest{Type: ConnectionRPC}
	b := want.Marshal()
	require.Empty(t, b)
	got, err := UnmarshalConnectionRequest(b)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestConnectionResponseRoundTrip(t *testing.T) {
	want := &ConnectionResponse{
		Status:           StatusWrongType,
		ClientIdentifier: []byte{0x01},
		Message:          "expected RPC socket",
	}
	got, err := UnmarshalConnectionResponse(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestProcedureCallRoundTrip(t *testing.T) {
	want := &ProcedureCall{
		Service:   "SpaceCenter",
		Procedure: "get_Vessel",
		Arguments: []*Argument{
			{Position: 0, Value: []byte{0x01, 0x02}},
			{Position: 1, Value: []byte("hi")},
		},
	}
	got, err := UnmarshalProcedureCall(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRequestRoundTrip(t *testing.T) {
	want := &Request{Calls: []*ProcedureCall{
		{Service: "S", Procedure: "P"},
	}}
	got, err := UnmarshalRequest(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResponseWithErrorRoundTrip(t *testing.T) {
	want := &Response{
		Error: &Error{
			Service:     "SpaceCenter",
			Name:        "InvalidOperationException",
			Description: "vessel has been destroyed",
			StackTrace:  "at ...",
		},
	}
	got, err := UnmarshalResponse(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResponseWithResultsRoundTrip(t *testing.T) {
	want := &Response{
		Results: []*ProcedureResult{
			{Value: []byte{0x2a}},
			{Error: &Error{Name: "ArgumentException", Description: "bad arg"}},
		},
	}
	got, err := UnmarshalResponse(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStreamUpdateRoundTrip(t *testing.T) {
	want := &StreamUpdate{Results: []*StreamResult{
		{ID: 1, Result: &ProcedureResult{Value: []byte{0x01}}},
		{ID: 2, Result: &ProcedureResult{Error: &Error{Name: "X"}}},
	}}
	got, err := UnmarshalStreamUpdate(want.Marshal())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	// A well-formed message with an extra unknown field (tag 99, varint)
	// appended should still parse, the unknown field silently dropped.
	want := &ConnectionRequest{ClientName: "known"}
	b := want.Marshal()
	b = append(b, 0x98, 0x06, 0x01) // key 99<<3|0 as a two-byte varint (tag 99, wire type varint), value 1

	got, err := UnmarshalConnectionRequest(b)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUnmarshalTruncatedMessageErrors(t *testing.T) {
	want := &ProcedureCall{Service: "S", Procedure: "P"}
	b := want.Marshal()
	_, err := UnmarshalProcedureCall(b[:len(b)-1])
	require.Error(t, err)
}
