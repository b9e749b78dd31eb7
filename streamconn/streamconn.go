// Package streamconn implements the client side of the stream socket:
// a read-only loop that demultiplexes StreamUpdate frames to whichever
// consumer owns each numbered stream. Unlike the RPC socket, nothing
// here sends application frames after the handshake — server pushes
// are the only traffic, so there is no send-side FIFO to maintain.
package streamconn

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wire"
	"github.com/wisq/spaceex-go/wireproto"
)

// Dispatcher routes one stream id's pushed result to its owner. Unknown
// ids (a push that outraced the owning consumer's registration, or one
// that arrived after it unregistered) are simply dropped, logged at
// debug level by Connection.
type Dispatcher interface {
	Dispatch(id uint64, result *wireproto.ProcedureResult) (found bool)
}

// Connection owns the stream socket and feeds a Dispatcher.
type Connection struct {
	conn   net.Conn
	reader *wire.Reader
	log    *zap.Logger

	mu       sync.Mutex
	closed   bool
	closeErr error
	doneCh   chan struct{}
}

// New starts demultiplexing conn's StreamUpdate frames to dispatcher.
// conn must already be past the ConnectionRequest/ConnectionResponse
// handshake.
func New(conn net.Conn, maxMessageSize int, dispatcher Dispatcher, log *zap.Logger) *Connection {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Connection{
		conn:   conn,
		reader: wire.NewReader(conn, maxMessageSize),
		log:    log.Named("streamconn"),
		doneCh: make(chan struct{}),
	}
	go c.readLoop(dispatcher)
	return c
}

func (c *Connection) readLoop(dispatcher Dispatcher) {
	for {
		msg, err := c.reader.Next()
		if err != nil {
			c.fail(err)
			return
		}
		update, err := wireproto.UnmarshalStreamUpdate(msg)
		if err != nil {
			c.fail(&spaceexerr.ProtocolError{Reason: fmt.Sprintf("decoding stream update: %v", err)})
			return
		}
		for _, r := range update.Results {
			if !dispatcher.Dispatch(r.ID, r.Result) {
				c.log.Debug("dropping update for unknown stream", zap.Uint64("stream_id", r.ID))
			}
		}
	}
}

func (c *Connection) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = cause
	c.mu.Unlock()
	close(c.doneCh)
	_ = c.conn.Close()
}

// Done is closed once the read loop has exited, due to Close or a wire error.
func (c *Connection) Done() <-chan struct{} { return c.doneCh }

// Err returns the cause of the read loop's exit, or nil if it exited
// cleanly via Close.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close shuts the stream socket down.
func (c *Connection) Close() error {
	c.fail(nil)
	return nil
}
