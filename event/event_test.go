package event_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisq/spaceex-go/codec"
	"github.com/wisq/spaceex-go/event"
	"github.com/wisq/spaceex-go/exprbuilder"
	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/schema"
	"github.com/wisq/spaceex-go/stream"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

func harness(t *testing.T) (*rpcconn.Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })
	return rpcconn.New(client, 0, nil), server
}

func serveExpressionCall(t *testing.T, server net.Conn, wantProcedure string, id []byte) {
	t.Helper()
	r := wire.NewReader(server, 0)
	msg, err := r.Next()
	require.NoError(t, err)
	req, err := wireproto.UnmarshalRequest(msg)
	require.NoError(t, err)
	require.Equal(t, wantProcedure, req.Calls[0].Procedure)

	refBytes, err := codec.Encode(schema.ObjectReference{ID: id}, schema.NewClass("SpaceCenter", "Expression"))
	require.NoError(t, err)
	resp := &wireproto.Response{Results: []*wireproto.ProcedureResult{{Value: refBytes}}}
	_, err = server.Write(wire.Frame(resp.Marshal()))
	require.NoError(t, err)
}

// serveAddEvent asserts the next request is AddEvent — never AddStream
// — and replies with an Event{stream: Stream{id}} wrapping streamID.
func serveAddEvent(t *testing.T, server net.Conn, streamID uint64) {
	t.Helper()
	r := wire.NewReader(server, 0)
	msg, err := r.Next()
	require.NoError(t, err)
	req, err := wireproto.UnmarshalRequest(msg)
	require.NoError(t, err)
	require.Equal(t, "AddEvent", req.Calls[0].Procedure)

	ev := &wireproto.Event{StreamID: streamID}
	resp := &wireproto.Response{Results: []*wireproto.ProcedureResult{{Value: ev.Marshal()}}}
	_, err = server.Write(wire.Frame(resp.Marshal()))
	require.NoError(t, err)
}

func serveStartStream(t *testing.T, server net.Conn, streamID uint64) {
	t.Helper()
	r := wire.NewReader(server, 0)
	msg, err := r.Next()
	require.NoError(t, err)
	req, err := wireproto.UnmarshalRequest(msg)
	require.NoError(t, err)
	require.Equal(t, "StartStream", req.Calls[0].Procedure)
	id, err := codec.Decode(req.Calls[0].Arguments[0].Value, schema.NewUInt64(), nil)
	require.NoError(t, err)
	require.Equal(t, streamID, id)
	resp := &wireproto.Response{Results: []*wireproto.ProcedureResult{{Value: nil}}}
	_, err = server.Write(wire.Frame(resp.Marshal()))
	require.NoError(t, err)
}

func TestCreateCallsAddEventDirectlyNotAddStream(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	reg := stream.NewRegistry(rpc, nil)
	b := exprbuilder.New(rpc, nil)

	go func() {
		serveExpressionCall(t, server, "Expression_ConstantBool", []byte{0x07})
		serveExpressionCall(t, server, "Expression_ConstantBool", []byte{0x08})
		serveExpressionCall(t, server, "Expression_Equal", []byte{0x09})
		serveAddEvent(t, server, 66)
		serveStartStream(t, server, 66)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	x, err := b.Bool(ctx, true)
	require.NoError(t, err)
	y, err := b.Bool(ctx, true)
	require.NoError(t, err)
	expr, err := b.Equal(ctx, x, y)
	require.NoError(t, err)

	ev, err := event.Create(ctx, rpc, reg, expr, nil, event.Options{})
	require.NoError(t, err)
	require.NotNil(t, ev)

	_, ok := reg.Lookup(66)
	require.True(t, ok, "AddEvent's embedded stream id must be bound in the registry")
}

func TestWaitLatchesOnFirstTrue(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	reg := stream.NewRegistry(rpc, nil)
	b := exprbuilder.New(rpc, nil)

	go func() {
		serveExpressionCall(t, server, "Expression_ConstantBool", []byte{0x05})
		serveAddEvent(t, server, 77)
		serveStartStream(t, server, 77)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	expr, err := b.Bool(ctx, true)
	require.NoError(t, err)

	ev, err := event.Create(ctx, rpc, reg, expr, nil, event.Options{})
	require.NoError(t, err)

	trueBytes, err := codec.Encode(true, schema.NewBool())
	require.NoError(t, err)
	found := reg.Dispatch(77, &wireproto.ProcedureResult{Value: trueBytes})
	require.True(t, found)

	got, err := ev.Wait(ctx)
	require.NoError(t, err)
	require.True(t, got)

	// Every subsequent wait must return the latched value immediately.
	got2, err := ev.Wait(ctx)
	require.NoError(t, err)
	require.True(t, got2)
}

func TestCreateWithNoStartSkipsStartStream(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	reg := stream.NewRegistry(rpc, nil)
	b := exprbuilder.New(rpc, nil)

	calls := make(chan string, 2)
	go func() {
		serveExpressionCall(t, server, "Expression_ConstantBool", []byte{0x01})

		r := wire.NewReader(server, 0)
		msg, err := r.Next()
		require.NoError(t, err)
		req, err := wireproto.UnmarshalRequest(msg)
		require.NoError(t, err)
		calls <- req.Calls[0].Procedure

		ev := &wireproto.Event{StreamID: 88}
		resp := &wireproto.Response{Results: []*wireproto.ProcedureResult{{Value: ev.Marshal()}}}
		_, err = server.Write(wire.Frame(resp.Marshal()))
		require.NoError(t, err)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	expr, err := b.Bool(ctx, true)
	require.NoError(t, err)

	_, err = event.Create(ctx, rpc, reg, expr, nil, event.Options{NoStart: true})
	require.NoError(t, err)

	select {
	case proc := <-calls:
		require.Equal(t, "AddEvent", proc, "NoStart must not issue a StartStream call")
	case <-time.After(time.Second):
		t.Fatal("AddEvent was never issued")
	}
}

func TestRemoveReleasesEventBond(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	reg := stream.NewRegistry(rpc, nil)
	b := exprbuilder.New(rpc, nil)

	go func() {
		serveExpressionCall(t, server, "Expression_ConstantBool", []byte{0x01})
		serveAddEvent(t, server, 99)
		serveStartStream(t, server, 99)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	expr, err := b.Bool(ctx, true)
	require.NoError(t, err)

	ev, err := event.Create(ctx, rpc, reg, expr, nil, event.Options{})
	require.NoError(t, err)

	removeDone := make(chan struct{})
	go func() {
		r := wire.NewReader(server, 0)
		msg, err := r.Next()
		if err == nil {
			req, _ := wireproto.UnmarshalRequest(msg)
			if len(req.Calls) > 0 && req.Calls[0].Procedure == "RemoveStream" {
				close(removeDone)
			}
		}
	}()

	ev.Remove()

	select {
	case <-removeDone:
	case <-time.After(time.Second):
		t.Fatal("Event.Remove never released its bond")
	}
}
