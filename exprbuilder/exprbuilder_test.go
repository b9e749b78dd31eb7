package exprbuilder_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wisq/spaceex-go/codec"
	"github.com/wisq/spaceex-go/exprbuilder"
	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/schema"
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

func TestIntConstantMaterializesImmediately(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	b := exprbuilder.New(rpc, nil)

	go serveExpressionCall(t, server, "Expression_ConstantInt", []byte{0x01})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := b.Int32(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Equal(t, []byte{0x01}, e.ArgumentValue())
}

func TestComparisonComposesTwoHandles(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	b := exprbuilder.New(rpc, nil)

	go func() {
		serveExpressionCall(t, server, "Expression_ConstantDouble", []byte{0x01})
		serveExpressionCall(t, server, "Expression_ConstantDouble", []byte{0x02})
		serveExpressionCall(t, server, "Expression_GreaterThan", []byte{0x03})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	x, err := b.Double(ctx, 10.0)
	require.NoError(t, err)
	y, err := b.Double(ctx, 5.0)
	require.NoError(t, err)
	cmp, err := b.GreaterThan(ctx, x, y)
	require.NoError(t, err)
	require.Equal(t, []byte{0x03}, cmp.ArgumentValue())
}

func TestBuildAllWithBoundBuildsEveryThunk(t *testing.T) {
	rpc, server := harness(t)
	defer rpc.Close()
	b := exprbuilder.New(rpc, nil)

	go func() {
		for i := 0; i < 3; i++ {
			serveExpressionCall(t, server, "Expression_ConstantInt", []byte{byte(i)})
		}
	}()

	thunks := make([]func(context.Context) (*exprbuilder.Expression, error), 3)
	for i := range thunks {
		i := i
		thunks[i] = func(ctx context.Context) (*exprbuilder.Expression, error) {
			return b.Int32(ctx, int32(i))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := exprbuilder.BuildAll(ctx, 2, thunks)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NotNil(t, r)
	}
}
