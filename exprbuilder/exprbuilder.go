// Package exprbuilder builds server-side expression trees used by
// event conditions and custom telemetry filters. Construction is
// strict and eager: unlike a typical AST builder that assembles an
// in-memory tree and defers "build" to the end, every node here is
// materialized the moment its constructor is called, via one
// Expression_* RPC that returns an opaque server-side object id. There
// is no client-side tree once a node exists — only Expression handles
// that further calls reference by id.
//
// Every Builder method returns (*Expression, error); there are no
// panicking variants and no separate Try* forms. "Build" here means
// "make the RPC now" instead of "assemble, then build later".
package exprbuilder

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/wisq/spaceex-go/codec"
	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/schema"
	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wireproto"
)

// Expression is a handle to a node materialized on the server. Bare
// host literals are never accepted where an Expression is expected —
// callers must go through Builder.Int32, Builder.Double, and so on —
// so a caller can never accidentally pass an un-evaluated Go value
// where the server expects an object reference.
type Expression struct {
	ref schema.ObjectReference
}

// ArgumentValue encodes this expression's reference for use as an
// argument to another procedure call (including another Expression_*
// constructor, for composing trees).
func (e *Expression) ArgumentValue() []byte {
	b, _ := codec.Encode(e.ref, schema.NewClass("SpaceCenter", "Expression"))
	return b
}

// Builder issues the Expression_* RPCs that materialize nodes.
type Builder struct {
	rpc  *rpcconn.Connection
	conn schema.ConnHandle
}

// New returns a Builder bound to an RPC connection.
func New(rpc *rpcconn.Connection, conn schema.ConnHandle) *Builder {
	return &Builder{rpc: rpc, conn: conn}
}

func (b *Builder) call(ctx context.Context, procedure string, args ...[]byte) (*Expression, error) {
	call := &wireproto.ProcedureCall{Service: "SpaceCenter", Procedure: procedure}
	for i, a := range args {
		call.Arguments = append(call.Arguments, &wireproto.Argument{Position: uint32(i), Value: a})
	}
	result, err := b.rpc.Call(ctx, call)
	if err != nil {
		return nil, err
	}
	v, err := codec.Decode(result.Value, schema.NewClass("SpaceCenter", "Expression"), b.conn)
	if err != nil {
		return nil, err
	}
	ref, ok := v.(schema.ObjectReference)
	if !ok {
		return nil, &spaceexerr.BuilderError{Reason: "Expression_* call did not return an object reference"}
	}
	return &Expression{ref: ref}, nil
}

func scalarArg(v any, t *schema.Type) ([]byte, error) {
	b, err := codec.Encode(v, t)
	if err != nil {
		return nil, &spaceexerr.BuilderError{Reason: err.Error()}
	}
	return b, nil
}

// --- constants ---

func (b *Builder) Int32(ctx context.Context, v int32) (*Expression, error) {
	arg, err := scalarArg(v, schema.NewSInt32())
	if err != nil {
		return nil, err
	}
	return b.call(ctx, "Expression_ConstantInt", arg)
}

func (b *Builder) Double(ctx context.Context, v float64) (*Expression, error) {
	arg, err := scalarArg(v, schema.NewDouble())
	if err != nil {
		return nil, err
	}
	return b.call(ctx, "Expression_ConstantDouble", arg)
}

func (b *Builder) Bool(ctx context.Context, v bool) (*Expression, error) {
	arg, err := scalarArg(v, schema.NewBool())
	if err != nil {
		return nil, err
	}
	return b.call(ctx, "Expression_ConstantBool", arg)
}

func (b *Builder) String(ctx context.Context, v string) (*Expression, error) {
	arg, err := scalarArg(v, schema.NewString())
	if err != nil {
		return nil, err
	}
	return b.call(ctx, "Expression_ConstantString", arg)
}

// Float is ConstantFloat, distinct from the wider Double constant:
// the two are separate wire scalar kinds (spec §3) and so separate
// server-side constructors.
func (b *Builder) Float(ctx context.Context, v float32) (*Expression, error) {
	arg, err := scalarArg(v, schema.NewFloat())
	if err != nil {
		return nil, err
	}
	return b.call(ctx, "Expression_ConstantFloat", arg)
}

// Call wraps a fully specified procedure invocation as a call node: the
// only sub-expression shape that carries dynamic, server-evaluated
// semantics rather than a value baked in at build time (spec §4.7).
func (b *Builder) Call(ctx context.Context, call *wireproto.ProcedureCall) (*Expression, error) {
	arg, err := codec.Encode(call, schema.NewProcedureCall())
	if err != nil {
		return nil, &spaceexerr.BuilderError{Reason: err.Error()}
	}
	return b.call(ctx, "Expression_Call", arg)
}

// --- arithmetic ---

func (b *Builder) Add(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Add", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Subtract(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Subtract", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Multiply(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Multiply", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Divide(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Divide", x.ArgumentValue(), y.ArgumentValue())
}

// Modulo is the remainder operator.
func (b *Builder) Modulo(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Modulo", x.ArgumentValue(), y.ArgumentValue())
}

// Power raises x to the y power.
func (b *Builder) Power(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Power", x.ArgumentValue(), y.ArgumentValue())
}

// LeftShift shifts x left by y bits.
func (b *Builder) LeftShift(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_LeftShift", x.ArgumentValue(), y.ArgumentValue())
}

// RightShift shifts x right by y bits.
func (b *Builder) RightShift(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_RightShift", x.ArgumentValue(), y.ArgumentValue())
}

// --- comparison ---

func (b *Builder) GreaterThan(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_GreaterThan", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) GreaterThanOrEqual(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_GreaterThanOrEqual", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) LessThan(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_LessThan", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) LessThanOrEqual(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_LessThanOrEqual", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Equal(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Equal", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) NotEqual(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_NotEqual", x.ArgumentValue(), y.ArgumentValue())
}

// --- boolean ---

func (b *Builder) And(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_And", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Or(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Or", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Xor(ctx context.Context, x, y *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Xor", x.ArgumentValue(), y.ArgumentValue())
}

func (b *Builder) Not(ctx context.Context, x *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_Not", x.ArgumentValue())
}

// --- conversion / cast ---

// ToInt converts a numeric expression to an int-valued expression.
func (b *Builder) ToInt(ctx context.Context, x *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_ToInt", x.ArgumentValue())
}

// ToFloat converts a numeric expression to a float-valued expression.
func (b *Builder) ToFloat(ctx context.Context, x *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_ToFloat", x.ArgumentValue())
}

// ToDouble converts a numeric expression to a double-valued expression.
func (b *Builder) ToDouble(ctx context.Context, x *Expression) (*Expression, error) {
	return b.call(ctx, "Expression_ToDouble", x.ArgumentValue())
}

// Cast reinterprets x's runtime value as the named class, for property
// expressions whose declared type is a base class.
func (b *Builder) Cast(ctx context.Context, x *Expression, class string) (*Expression, error) {
	classArg, err := scalarArg(class, schema.NewString())
	if err != nil {
		return nil, err
	}
	return b.call(ctx, "Expression_Cast", x.ArgumentValue(), classArg)
}

// BuildAll materializes independent node thunks concurrently, bounded
// by maxConcurrent simultaneous in-flight Expression_* RPCs — useful
// when a wide expression tree's leaves (e.g. a row of constants) don't
// depend on each other and needn't be built one at a time.
func BuildAll(ctx context.Context, maxConcurrent int64, thunks []func(context.Context) (*Expression, error)) ([]*Expression, error) {
	sem := semaphore.NewWeighted(maxConcurrent)
	out := make([]*Expression, len(thunks))
	errs := make([]error, len(thunks))

	done := make(chan struct{}, len(thunks))
	for i, thunk := range thunks {
		i, thunk := i, thunk
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func() {
			defer sem.Release(1)
			defer func() { done <- struct{}{} }()
			out[i], errs[i] = thunk(ctx)
		}()
	}
	for range thunks {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
