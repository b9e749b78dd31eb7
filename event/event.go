// Package event wraps a boolean-valued stream with "first true, then
// latch" semantics: the server only ever pushes once an expression
// evaluates true, so the first push is definitionally the answer and
// every subsequent wait should return immediately from cache rather
// than block for a push that will never come.
package event

import (
	"context"

	"github.com/wisq/spaceex-go/exprbuilder"
	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/schema"
	"github.com/wisq/spaceex-go/stream"
	"github.com/wisq/spaceex-go/wireproto"
)

// Options configures event creation, mirroring stream.CreateOptions.
// The zero value is the spec's documented default: started.
type Options struct {
	NoStart bool
	Rate    float32
}

// Event is a latched boolean condition backed by a stream.
type Event struct {
	s     *stream.Stream
	owner any
}

// Create issues AddEvent(expression) directly — a distinct top-level
// RPC, per spec §6, not the inner polled procedure of an AddStream
// call — and binds the embedded stream handle it returns onto the
// registry, then starts/rates it exactly as Registry.Create would for
// a stream it created itself.
func Create(ctx context.Context, rpc *rpcconn.Connection, registry *stream.Registry, expr *exprbuilder.Expression, conn schema.ConnHandle, opts Options) (*Event, error) {
	result, err := rpc.Call(ctx, &wireproto.ProcedureCall{
		Service:   "KRPC",
		Procedure: "AddEvent",
		Arguments: []*wireproto.Argument{{Position: 0, Value: expr.ArgumentValue()}},
	})
	if err != nil {
		return nil, err
	}
	ev, err := wireproto.UnmarshalEvent(result.Value)
	if err != nil {
		return nil, err
	}

	owner := new(int) // a unique, comparable bond token for this Event
	s := registry.Bind(ev.StreamID, schema.NewBool(), conn, owner)

	if opts.Rate != 0 {
		if err := s.SetRate(ctx, opts.Rate); err != nil {
			return nil, err
		}
	}
	if !opts.NoStart {
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
	}
	return &Event{s: s, owner: owner}, nil
}

// Wait returns the first value the stream ever produces — always
// true, since the server withholds any push until the expression is
// satisfied — blocking if it hasn't arrived yet. Every subsequent call
// returns immediately from the cached value.
func (e *Event) Wait(ctx context.Context) (bool, error) {
	v, err := e.s.Get(ctx)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Remove releases this event's bond on the underlying stream.
func (e *Event) Remove() {
	e.s.Remove(e.owner)
}
