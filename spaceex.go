// Package spaceex is the root package of the client: it dials and
// hand-shakes both sockets, then supervises the child resources (the
// RPC connection, the stream connection, and every live stream). Close,
// or a failure of the stream socket, tears the whole group down
// together. A failure of the RPC socket fails pending and later calls
// with ConnectionClosed, but does not by itself close the stream
// socket, fail the live streams, or close Done.
package spaceex

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wisq/spaceex-go/event"
	"github.com/wisq/spaceex-go/exprbuilder"
	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/stream"
	"github.com/wisq/spaceex-go/streamconn"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

const (
	DefaultRPCPort    = 50000
	DefaultStreamPort = 50001
)

// ConnectOptions backs the functional ConnectOption settings below.
type ConnectOptions struct {
	MaxMessageSize int
	DialTimeout    time.Duration
	ClientName     string
	Logger         *zap.Logger
}

func defaultOptions() ConnectOptions {
	return ConnectOptions{
		MaxMessageSize: wire.DefaultMaxMessageSize,
		DialTimeout:    10 * time.Second,
		ClientName:     "spaceex-go",
	}
}

// ConnectOption configures Connect.
type ConnectOption func(*ConnectOptions)

func WithMaxMessageSize(n int) ConnectOption {
	return func(o *ConnectOptions) { o.MaxMessageSize = n }
}

func WithDialTimeout(d time.Duration) ConnectOption {
	return func(o *ConnectOptions) { o.DialTimeout = d }
}

func WithClientName(name string) ConnectOption {
	return func(o *ConnectOptions) { o.ClientName = name }
}

func WithLogger(log *zap.Logger) ConnectOption {
	return func(o *ConnectOptions) { o.Logger = log }
}

// Connection is a live, connected session: both sockets handshaken,
// the stream demultiplexer running, ready to issue calls and create
// streams and events.
type Connection struct {
	rpc        *rpcconn.Connection
	streamConn *streamconn.Connection
	streams    *stream.Registry
	exprs      *exprbuilder.Builder
	log        *zap.Logger

	doneCh   chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

// Connect dials both sockets, performs both handshakes, and starts the
// stream demultiplexer. Dialing is done concurrently via errgroup so a
// slow or unreachable RPC port doesn't serialize with the stream dial.
func Connect(ctx context.Context, host string, rpcPort, streamPort int, opts ...ConnectOption) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if o.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, o.DialTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	var rawRPC, rawStream net.Conn
	g, gctx := errgroup.WithContext(dialCtx)
	g.Go(func() error {
		c, err := dialer.DialContext(gctx, "tcp", fmt.Sprintf("%s:%d", host, rpcPort))
		if err != nil {
			return &spaceexerr.ConnectError{Addr: fmt.Sprintf("%s:%d", host, rpcPort), Err: err}
		}
		rawRPC = c
		return nil
	})
	g.Go(func() error {
		c, err := dialer.DialContext(gctx, "tcp", fmt.Sprintf("%s:%d", host, streamPort))
		if err != nil {
			return &spaceexerr.ConnectError{Addr: fmt.Sprintf("%s:%d", host, streamPort), Err: err}
		}
		rawStream = c
		return nil
	})
	if err := g.Wait(); err != nil {
		if rawRPC != nil {
			_ = rawRPC.Close()
		}
		if rawStream != nil {
			_ = rawStream.Close()
		}
		return nil, err
	}

	clientID, err := handshakeRPC(rawRPC, o)
	if err != nil {
		_ = rawRPC.Close()
		_ = rawStream.Close()
		return nil, err
	}
	if err := handshakeStream(rawStream, o, clientID); err != nil {
		_ = rawRPC.Close()
		_ = rawStream.Close()
		return nil, err
	}

	rpc := rpcconn.New(rawRPC, o.MaxMessageSize, log)
	streams := stream.NewRegistry(rpc, log)
	sc := streamconn.New(rawStream, o.MaxMessageSize, streams, log)

	conn := &Connection{
		rpc:        rpc,
		streamConn: sc,
		streams:    streams,
		log:        log.Named("spaceex"),
		doneCh:     make(chan struct{}),
	}
	conn.exprs = exprbuilder.New(rpc, conn)
	conn.log.Info("connected", zap.String("host", host), zap.Int("rpc_port", rpcPort), zap.Int("stream_port", streamPort))

	go conn.superviseStreamSocketFailure()
	return conn, nil
}

// superviseStreamSocketFailure links the stream socket's failure into
// overall connection teardown: if the stream read loop exits (wire
// error, or Close shutting the stream socket), the streams are failed,
// the RPC connection is closed, and Done is closed.
func (c *Connection) superviseStreamSocketFailure() {
	<-c.streamConn.Done()
	cause := c.streamConn.Err()
	if cause != nil {
		c.log.Warn("stream socket failed, tearing down connection", zap.Error(cause))
	}
	c.streams.Fail(cause)
	_ = c.rpc.Close()
	c.closeDone()
}

func (c *Connection) closeDone() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.doneCh)
}

func handshakeRPC(conn net.Conn, o ConnectOptions) ([]byte, error) {
	req := &wireproto.ConnectionRequest{Type: wireproto.ConnectionRPC, ClientName: o.ClientName}
	if _, err := conn.Write(wire.Frame(req.Marshal())); err != nil {
		return nil, &spaceexerr.ConnectError{Err: err}
	}
	r := wire.NewReader(conn, o.MaxMessageSize)
	msg, err := r.Next()
	if err != nil {
		return nil, &spaceexerr.ConnectError{Err: err}
	}
	resp, err := wireproto.UnmarshalConnectionResponse(msg)
	if err != nil {
		return nil, &spaceexerr.ProtocolError{Reason: err.Error()}
	}
	if resp.Status != wireproto.StatusOK {
		return nil, &spaceexerr.HandshakeRejected{Message: resp.Message}
	}
	return resp.ClientIdentifier, nil
}

func handshakeStream(conn net.Conn, o ConnectOptions, clientID []byte) error {
	req := &wireproto.ConnectionRequest{
		Type:             wireproto.ConnectionStream,
		ClientIdentifier: clientID,
	}
	if _, err := conn.Write(wire.Frame(req.Marshal())); err != nil {
		return &spaceexerr.ConnectError{Err: err}
	}
	r := wire.NewReader(conn, o.MaxMessageSize)
	msg, err := r.Next()
	if err != nil {
		return &spaceexerr.ConnectError{Err: err}
	}
	resp, err := wireproto.UnmarshalConnectionResponse(msg)
	if err != nil {
		return &spaceexerr.ProtocolError{Reason: err.Error()}
	}
	if resp.Status != wireproto.StatusOK {
		return &spaceexerr.HandshakeRejected{Message: resp.Message}
	}
	return nil
}

// CallRPC invokes a remote procedure and blocks for its result.
func (c *Connection) CallRPC(ctx context.Context, service, procedure string, args ...*wireproto.Argument) (*wireproto.ProcedureResult, error) {
	return c.rpc.Call(ctx, &wireproto.ProcedureCall{Service: service, Procedure: procedure, Arguments: args})
}

// CastRPC invokes a remote procedure without waiting for its result.
func (c *Connection) CastRPC(service, procedure string, args ...*wireproto.Argument) error {
	return c.rpc.Cast(&wireproto.ProcedureCall{Service: service, Procedure: procedure, Arguments: args})
}

// Streams returns the stream registry for creating server-push streams.
func (c *Connection) Streams() *stream.Registry { return c.streams }

// Expressions returns the expression builder bound to this connection.
func (c *Connection) Expressions() *exprbuilder.Builder { return c.exprs }

// CreateEvent creates an event for expr on this connection's stream
// registry.
func (c *Connection) CreateEvent(ctx context.Context, expr *exprbuilder.Expression, opts event.Options) (*event.Event, error) {
	return event.Create(ctx, c.rpc, c.streams, expr, c, opts)
}

// Done is closed once the connection group has torn down, via Close or
// a failure of the stream socket. A failure of the RPC socket alone
// does not close it.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

// Close tears down both sockets, the RPC connection, the stream
// connection, and every live stream as one linked group.
func (c *Connection) Close() error {
	c.streams.Fail(nil)
	_ = c.streamConn.Close()
	err := c.rpc.Close()
	c.closeDone()
	return err
}
