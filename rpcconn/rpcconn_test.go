package rpcconn_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

func pipe(t *testing.T) (*rpcconn.Connection, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })
	return rpcconn.New(client, 0, nil), server
}

func readRequest(t *testing.T, server net.Conn) *wireproto.Request {
	t.Helper()
	r := wire.NewReader(server, 0)
	msg, err := r.Next()
	require.NoError(t, err)
	req, err := wireproto.UnmarshalRequest(msg)
	require.NoError(t, err)
	return req
}

func writeResponse(t *testing.T, server net.Conn, resp *wireproto.Response) {
	t.Helper()
	_, err := server.Write(wire.Frame(resp.Marshal()))
	require.NoError(t, err)
}

func TestCallRoundTrip(t *testing.T) {
	conn, server := pipe(t)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := readRequest(t, server)
		require.Equal(t, "SpaceCenter", req.Calls[0].Service)
		writeResponse(t, server, &wireproto.Response{
			Results: []*wireproto.ProcedureResult{{Value: []byte{0x2a}}},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := conn.Call(ctx, &wireproto.ProcedureCall{Service: "SpaceCenter", Procedure: "get_Vessel"})
	require.NoError(t, err)
	require.Equal(t, []byte{0x2a}, result.Value)
	<-done
}

func TestCallPropagatesRemoteError(t *testing.T) {
	conn, server := pipe(t)
	defer conn.Close()

	go func() {
		readRequest(t, server)
		writeResponse(t, server, &wireproto.Response{
			Results: []*wireproto.ProcedureResult{{
				Error: &wireproto.Error{Name: "ArgumentException", Description: "bad vessel"},
			}},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := conn.Call(ctx, &wireproto.ProcedureCall{Service: "S", Procedure: "P"})
	var remoteErr *spaceexerr.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, "ArgumentException", remoteErr.Name)
}

func TestPipelinedCallsMatchInOrder(t *testing.T) {
	conn, server := pipe(t)
	defer conn.Close()

	go func() {
		req1 := readRequest(t, server)
		req2 := readRequest(t, server)
		require.Equal(t, "first", req1.Calls[0].Procedure)
		require.Equal(t, "second", req2.Calls[0].Procedure)
		writeResponse(t, server, &wireproto.Response{Results: []*wireproto.ProcedureResult{{Value: []byte{0x01}}}})
		writeResponse(t, server, &wireproto.Response{Results: []*wireproto.ProcedureResult{{Value: []byte{0x02}}}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type result struct {
		value []byte
		err   error
	}
	ch1 := make(chan result, 1)
	ch2 := make(chan result, 1)
	go func() {
		r, err := conn.Call(ctx, &wireproto.ProcedureCall{Service: "S", Procedure: "first"})
		if err != nil {
			ch1 <- result{err: err}
			return
		}
		ch1 <- result{value: r.Value}
	}()
	// Ensure the first call's frame is sent before the second, since the
	// fake server above expects them in that order.
	time.Sleep(10 * time.Millisecond)
	go func() {
		r, err := conn.Call(ctx, &wireproto.ProcedureCall{Service: "S", Procedure: "second"})
		if err != nil {
			ch2 <- result{err: err}
			return
		}
		ch2 <- result{value: r.Value}
	}()

	r1 := <-ch1
	r2 := <-ch2
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	require.Equal(t, []byte{0x01}, r1.value)
	require.Equal(t, []byte{0x02}, r2.value)
}

func TestCloseWakesPendingCalls(t *testing.T) {
	conn, server := pipe(t)
	defer server.Close()

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Call(ctx, &wireproto.ProcedureCall{Service: "S", Procedure: "P"})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.Close())

	err := <-errCh
	var closedErr *spaceexerr.ConnectionClosed
	require.ErrorAs(t, err, &closedErr)
}
