// Package rpcconn implements the client side of the RPC socket: framed
// Request/Response exchange, pipelined so a caller never blocks the
// next caller's send, with responses matched to calls purely by
// arrival order (the wire carries no request ids).
//
// The teacher's grpcreflect.Client.doSend serializes sends and receives
// under a single mutex and says as much in its own TODO: "Streams are
// thread-safe, so we shouldn't need to lock. But without locking, we'll
// need more machinery (goroutines and channels) to ensure that
// responses are correctly correlated with requests." This package is
// that machinery: a single writer critical section followed by a FIFO
// of waiters, serviced by one dedicated reader goroutine, so sends
// pipeline instead of serializing end-to-end on a round trip.
package rpcconn

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

// pendingCall is one FIFO slot: the next frame the reader goroutine
// sees belongs to this call. resultCh is nil for a Cast (the caller
// does not want the result, but the slot must still exist so the
// reader can skip past it in order).
type pendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	resp *wireproto.Response
	err  error
}

// Connection is a single RPC socket's pipelined call multiplexer.
type Connection struct {
	conn   net.Conn
	reader *wire.Reader
	log    *zap.Logger

	writeMu sync.Mutex // serializes frame writes and FIFO pushes, together

	mu      sync.Mutex
	pending *list.List // of *pendingCall
	closed  bool
	closeErr error

	doneCh chan struct{}
}

// New wraps an already-connected, already-handshaken socket.
func New(conn net.Conn, maxMessageSize int, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Connection{
		conn:    conn,
		reader:  wire.NewReader(conn, maxMessageSize),
		log:     log.Named("rpcconn"),
		pending: list.New(),
		doneCh:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends a single procedure call and blocks for its result.
func (c *Connection) Call(ctx context.Context, call *wireproto.ProcedureCall) (*wireproto.ProcedureResult, error) {
	resultCh := make(chan callResult, 1)
	if err := c.send(call, resultCh); err != nil {
		return nil, err
	}
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return responseResult(res.resp)
	case <-ctx.Done():
		return nil, &spaceexerr.RpcTimeout{Service: call.Service, Procedure: call.Procedure}
	case <-c.doneCh:
		return nil, c.closedError()
	}
}

// Cast sends a single procedure call without waiting for its result.
// The response is still read off the wire (in order) and discarded, so
// later calls remain correctly correlated.
func (c *Connection) Cast(call *wireproto.ProcedureCall) error {
	return c.send(call, nil)
}

func (c *Connection) send(call *wireproto.ProcedureCall, resultCh chan callResult) error {
	req := &wireproto.Request{Calls: []*wireproto.ProcedureCall{call}}
	frame := wire.Frame(req.Marshal())

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// The slot is queued before the frame is written, so a response that
	// arrives the instant the write completes always finds it.
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return c.wrapClosed(err)
	}
	c.pending.PushBack(&pendingCall{resultCh: resultCh})
	c.mu.Unlock()

	if _, err := c.conn.Write(frame); err != nil {
		c.fail(err)
		return c.wrapClosed(err)
	}
	return nil
}

func (c *Connection) readLoop() {
	for {
		msg, err := c.reader.Next()
		if err != nil {
			c.fail(err)
			return
		}
		resp, err := wireproto.UnmarshalResponse(msg)
		if err != nil {
			c.fail(&spaceexerr.ProtocolError{Reason: err.Error()})
			return
		}
		c.deliver(callResult{resp: resp})
	}
}

func (c *Connection) deliver(res callResult) {
	c.mu.Lock()
	front := c.pending.Front()
	if front == nil {
		c.mu.Unlock()
		c.log.Error("response with no matching pending call")
		return
	}
	c.pending.Remove(front)
	c.mu.Unlock()

	pc := front.Value.(*pendingCall)
	if pc.resultCh != nil {
		pc.resultCh <- res
	}
}

// fail tears the connection down: every pending and future caller sees
// ConnectionClosed wrapping cause.
func (c *Connection) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	pending := c.pending
	c.pending = list.New()
	c.mu.Unlock()

	for e := pending.Front(); e != nil; e = e.Next() {
		pc := e.Value.(*pendingCall)
		if pc.resultCh != nil {
			pc.resultCh <- callResult{err: c.wrapClosed(cause)}
		}
	}
	close(c.doneCh)
	_ = c.conn.Close()
}

func (c *Connection) wrapClosed(cause error) error {
	if cause == nil || cause == io.EOF {
		return &spaceexerr.ConnectionClosed{}
	}
	return &spaceexerr.ConnectionClosed{Cause: cause}
}

func (c *Connection) closedError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapClosed(c.closeErr)
}

// Close shuts the connection down from the caller's side.
func (c *Connection) Close() error {
	c.fail(nil)
	return nil
}

func responseResult(resp *wireproto.Response) (*wireproto.ProcedureResult, error) {
	if resp.Error != nil {
		return nil, &spaceexerr.RemoteError{
			Service:     resp.Error.Service,
			Name:        resp.Error.Name,
			Description: resp.Error.Description,
			StackTrace:  resp.Error.StackTrace,
		}
	}
	if len(resp.Results) != 1 {
		return nil, &spaceexerr.ProtocolError{
			Reason: fmt.Sprintf("expected exactly one result, got %d", len(resp.Results)),
		}
	}
	r := resp.Results[0]
	if r.Error != nil {
		return nil, &spaceexerr.RemoteError{
			Service:     r.Error.Service,
			Name:        r.Error.Name,
			Description: r.Error.Description,
			StackTrace:  r.Error.StackTrace,
		}
	}
	return r, nil
}
