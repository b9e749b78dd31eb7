package spaceex_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	spaceex "github.com/wisq/spaceex-go"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

// fakeServer accepts exactly one RPC connection and one stream
// connection, each on its own listener, and answers the handshake with
// StatusOK, to exercise Connect end-to-end without a real kRPC server.
func fakeServer(t *testing.T) (rpcAddr, streamAddr string, clientIDSeen chan []byte) {
	t.Helper()
	clientIDSeen = make(chan []byte, 1)

	rpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	streamLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rpcLn.Close(); _ = streamLn.Close() })

	go func() {
		conn, err := rpcLn.Accept()
		if err != nil {
			return
		}
		r := wire.NewReader(conn, 0)
		msg, err := r.Next()
		if err != nil {
			return
		}
		req, err := wireproto.UnmarshalConnectionRequest(msg)
		if err != nil {
			return
		}
		resp := &wireproto.ConnectionResponse{Status: wireproto.StatusOK, ClientIdentifier: []byte{0xAB, 0xCD}}
		_, _ = conn.Write(wire.Frame(resp.Marshal()))
		clientIDSeen <- req.ClientIdentifier
	}()

	go func() {
		conn, err := streamLn.Accept()
		if err != nil {
			return
		}
		r := wire.NewReader(conn, 0)
		_, err = r.Next()
		if err != nil {
			return
		}
		resp := &wireproto.ConnectionResponse{Status: wireproto.StatusOK}
		_, _ = conn.Write(wire.Frame(resp.Marshal()))
	}()

	return rpcLn.Addr().String(), streamLn.Addr().String(), clientIDSeen
}

func TestConnectHandshakesBothSockets(t *testing.T) {
	rpcAddr, streamAddr, _ := fakeServer(t)
	_, rpcPortStr, _ := net.SplitHostPort(rpcAddr)
	_, streamPortStr, _ := net.SplitHostPort(streamAddr)

	rpcPort, err := strconv.Atoi(rpcPortStr)
	require.NoError(t, err)
	streamPort, err := strconv.Atoi(streamPortStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := spaceex.Connect(ctx, "127.0.0.1", rpcPort, streamPort)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel never closed after Close")
	}
}
