// Package stream implements the client-side half of server-push
// streams: a registry of consumers keyed by server-assigned stream id,
// each with a mutex-guarded cached latest value, a set of blocked
// waiters woken on distinct updates, and a multi-owner bond-set
// lifecycle that drives deferred removal.
//
// There is no per-stream goroutine. Concurrency here is the "actor"
// realized as a mutex plus a list of waiter channels rather than a
// dedicated goroutine with a message loop — both are legitimate per
// the connection design's own concurrency notes, and a goroutine per
// live stream would be wasteful for a vessel telemetry session with
// hundreds of subscriptions.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wisq/spaceex-go/codec"
	"github.com/wisq/spaceex-go/rpcconn"
	"github.com/wisq/spaceex-go/schema"
	"github.com/wisq/spaceex-go/spaceexerr"
	"github.com/wisq/spaceex-go/wireproto"
)

// removalDelay is how long a stream waits, once its bond set empties,
// before re-checking and issuing RemoveStream. This gives a caller that
// immediately re-creates the same stream a chance to re-bond instead of
// paying for a pointless remove/re-add round trip.
const removalDelay = 50 * time.Millisecond

// CreateOptions configures stream creation, per spec's create(opts{start,
// rate}). The zero value is the spec's documented default: started,
// server-default rate. NoStart inverts the sense of "start" so that the
// Go zero value matches "default start = true" instead of silently
// requesting an unstarted stream.
type CreateOptions struct {
	NoStart bool
	Rate    float32 // zero means "leave server default"
}

// Registry owns every live Stream for one connection and demultiplexes
// pushed updates to them by id. It also implements streamconn.Dispatcher.
type Registry struct {
	rpc *rpcconn.Connection
	log *zap.Logger

	sf singleflight.Group

	mu       sync.Mutex
	byID     map[uint64]*Stream
	closed   bool
	closeErr error
}

// NewRegistry returns a Registry that issues AddStream/RemoveStream/
// SetStreamRate/StartStream calls over rpc.
func NewRegistry(rpc *rpcconn.Connection, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		rpc:  rpc,
		log:  log.Named("stream"),
		byID: map[uint64]*Stream{},
	}
}

// Dispatch implements streamconn.Dispatcher.
func (r *Registry) Dispatch(id uint64, result *wireproto.ProcedureResult) bool {
	r.mu.Lock()
	s, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.deliver(result)
	return true
}

// Lookup returns the stream registered under id, if any.
func (r *Registry) Lookup(id uint64) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

// register stores s under its id unless a stream is already registered
// there, and returns whichever stream the id maps to afterwards.
func (r *Registry) register(s *Stream) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[s.id]; ok {
		return existing
	}
	r.byID[s.id] = s
	return s
}

func (r *Registry) unregister(id uint64) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// Fail tears every live stream down as part of connection-failure
// propagation: per the design's Open Question resolution, RemoveStream
// is never issued here — a dead socket means the server will reap the
// stream on its own.
func (r *Registry) Fail(cause error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.closeErr = cause
	streams := make([]*Stream, 0, len(r.byID))
	for _, s := range r.byID {
		streams = append(streams, s)
	}
	r.byID = map[uint64]*Stream{}
	r.mu.Unlock()

	for _, s := range streams {
		s.failLocal(cause)
	}
}

// Create issues AddStream(call, start) and returns the owning Stream,
// bonded to owner. Concurrent Create calls carrying the same call
// signature collapse into a single AddStream RPC. Per spec, the
// default (the CreateOptions zero value) starts the stream.
func (r *Registry) Create(ctx context.Context, call *wireproto.ProcedureCall, valueType *schema.Type, conn schema.ConnHandle, owner any, opts CreateOptions) (*Stream, error) {
	sig := callSignature(call)
	start := !opts.NoStart

	v, err, _ := r.sf.Do(sig, func() (any, error) {
		addCall := &wireproto.ProcedureCall{
			Service:   "KRPC",
			Procedure: "AddStream",
			Arguments: []*wireproto.Argument{
				{Position: 0, Value: call.Marshal()},
				{Position: 1, Value: encodeBool(start)},
			},
		}
		res, err := r.rpc.Call(ctx, addCall)
		if err != nil {
			return nil, err
		}
		idVal, err := codec.Decode(res.Value, schema.NewUInt64(), conn)
		if err != nil {
			return nil, err
		}
		id := idVal.(uint64)

		return r.register(newStream(r, id, valueType, conn)), nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Stream)
	s.bond(owner)

	// AddStream's own start argument already started the stream, if
	// requested. Setting a rate requires re-issuing StartStream
	// afterwards, per create's documented ordering.
	if opts.Rate != 0 {
		if err := s.SetRate(ctx, opts.Rate); err != nil {
			return s, err
		}
		if start {
			if err := r.startStream(ctx, s.id); err != nil {
				return s, err
			}
		}
	}
	return s, nil
}

// Bind registers owner's bond on the stream backing a server-assigned
// id that was returned by some other RPC, not by AddStream directly —
// e.g. AddEvent's embedded Event.stream.id. Unlike Create, Bind never
// issues AddStream itself; the caller's own RPC already registered the
// stream on the server side. Concurrent Binds for the same id, or a
// Bind racing a concurrent Create that resolves to the same id,
// dedup onto one Stream the same way Create's own dedup does.
func (r *Registry) Bind(id uint64, valueType *schema.Type, conn schema.ConnHandle, owner any) *Stream {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		s = newStream(r, id, valueType, conn)
		r.byID[id] = s
	}
	r.mu.Unlock()
	s.bond(owner)
	return s
}

func (r *Registry) startStream(ctx context.Context, id uint64) error {
	_, err := r.rpc.Call(ctx, &wireproto.ProcedureCall{
		Service:   "KRPC",
		Procedure: "StartStream",
		Arguments: []*wireproto.Argument{{Position: 0, Value: encodeUint64(id)}},
	})
	return err
}

func callSignature(call *wireproto.ProcedureCall) string {
	sig := call.Service + "." + call.Procedure
	for _, a := range call.Arguments {
		sig += fmt.Sprintf("|%d:%x", a.Position, a.Value)
	}
	return sig
}

func encodeBool(b bool) []byte {
	v, _ := codec.Encode(b, schema.NewBool())
	return v
}

func encodeUint64(n uint64) []byte {
	v, _ := codec.Encode(n, schema.NewUInt64())
	return v
}

func encodeFloat32(f float32) []byte {
	v, _ := codec.Encode(f, schema.NewFloat())
	return v
}

// SubscribeOptions configures Subscribe, per spec's
// subscribe(opts{immediate, remove}).
type SubscribeOptions struct {
	// Immediate delivers the current cached result (if any) to the
	// subscriber at registration time, in addition to future pushes.
	Immediate bool
	// Remove releases the subscriber's bond after its first delivery,
	// making the subscription single-shot.
	Remove bool
}

type rawSubscriber struct {
	ch     chan<- *wireproto.ProcedureResult
	remove bool
}

// Stream is one live server-push subscription.
type Stream struct {
	id        uint64
	valueType *schema.Type
	conn      schema.ConnHandle
	registry  *Registry

	mu          sync.Mutex
	generation  uint64
	latest      *wireproto.ProcedureResult // raw; decode is lazy, per spec §3
	hasValue    bool
	bonds       map[any]struct{}
	subscribers map[any]*rawSubscriber
	waiters     []chan struct{}
	removeTimer *time.Timer
	removed     bool
	removedErr  error
}

func newStream(r *Registry, id uint64, valueType *schema.Type, conn schema.ConnHandle) *Stream {
	return &Stream{
		id:          id,
		valueType:   valueType,
		conn:        conn,
		registry:    r,
		bonds:       map[any]struct{}{},
		subscribers: map[any]*rawSubscriber{},
	}
}

// ID returns the server-assigned stream id.
func (s *Stream) ID() uint64 { return s.id }

// decode lazily turns a cached raw result into a host value, per spec
// §3: "decoding is lazy and happens in the getter to avoid cost under
// high update rate." A malformed value only ever affects the caller
// that decodes it — other callers, and the stream itself, are
// unaffected.
func (s *Stream) decode(result *wireproto.ProcedureResult) (any, error) {
	if result.Error != nil {
		return nil, &spaceexerr.RemoteError{
			Service:     result.Error.Service,
			Name:        result.Error.Name,
			Description: result.Error.Description,
			StackTrace:  result.Error.StackTrace,
		}
	}
	return codec.Decode(result.Value, s.valueType, s.conn)
}

func (s *Stream) deliver(result *wireproto.ProcedureResult) {
	s.mu.Lock()
	s.latest = result
	s.hasValue = true
	s.generation++
	waiters := s.waiters
	s.waiters = nil
	subs := make(map[any]*rawSubscriber, len(s.subscribers))
	for owner, sub := range s.subscribers {
		subs[owner] = sub
	}
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for owner, sub := range subs {
		s.pushToSubscriber(owner, sub, result)
	}
}

// pushToSubscriber delivers one raw result to one subscriber. A
// remove-on-delivery (single-shot) subscriber blocks until its one
// delivery lands, then drops its bond. An ordinary subscriber's
// delivery is best-effort and never blocks the dispatch loop: a slow
// subscriber only misses intermediate values, per the mailbox-safe
// subscribe design note (spec §9).
func (s *Stream) pushToSubscriber(owner any, sub *rawSubscriber, result *wireproto.ProcedureResult) {
	if sub.remove {
		sub.ch <- result
		s.Unsubscribe(owner)
		s.Remove(owner)
		return
	}
	select {
	case sub.ch <- result:
	default:
		s.registry.log.Debug("dropping update for slow subscriber", zap.Uint64("stream_id", s.id))
	}
}

func (s *Stream) failLocal(cause error) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.removed = true
	s.removedErr = &spaceexerr.ConnectionClosed{Cause: cause}
	s.generation++
	waiters := s.waiters
	s.waiters = nil
	if s.removeTimer != nil {
		s.removeTimer.Stop()
	}
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Get returns the most recently pushed value, blocking for the first
// one if none has arrived yet.
func (s *Stream) Get(ctx context.Context) (any, error) {
	result, err := s.waitGeneration(ctx, 0)
	if err != nil {
		return nil, err
	}
	return s.decode(result)
}

// Wait blocks until a value distinct from the one last observed (by
// generation count) arrives.
func (s *Stream) Wait(ctx context.Context) (any, error) {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	result, err := s.waitGeneration(ctx, gen)
	if err != nil {
		return nil, err
	}
	return s.decode(result)
}

func (s *Stream) waitGeneration(ctx context.Context, afterGen uint64) (*wireproto.ProcedureResult, error) {
	for {
		s.mu.Lock()
		if s.removed {
			err := s.removedErr
			s.mu.Unlock()
			return nil, err
		}
		if s.hasValue && s.generation > afterGen {
			result := s.latest
			s.mu.Unlock()
			return result, nil
		}
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, &spaceexerr.StreamTimeout{StreamID: s.id}
		}
	}
}

// Subscribe registers owner for push delivery of raw, undecoded
// results on ch, per spec's subscribe(opts{immediate, remove}).
// Decoding is left to the caller (e.g. via Stream.DecodeResult) so a
// slow or uninterested subscriber never pays a decode cost it didn't
// ask for. The returned cancel func unsubscribes.
func (s *Stream) Subscribe(owner any, ch chan<- *wireproto.ProcedureResult, opts SubscribeOptions) (cancel func()) {
	s.mu.Lock()
	s.subscribers[owner] = &rawSubscriber{ch: ch, remove: opts.Remove}
	var immediate *wireproto.ProcedureResult
	if opts.Immediate && s.hasValue {
		immediate = s.latest
	}
	s.mu.Unlock()

	if immediate != nil {
		s.mu.Lock()
		sub, ok := s.subscribers[owner]
		s.mu.Unlock()
		if ok {
			s.pushToSubscriber(owner, sub, immediate)
		}
	}
	return func() { s.Unsubscribe(owner) }
}

// Unsubscribe removes owner from the push-delivery subscriber set.
func (s *Stream) Unsubscribe(owner any) {
	s.mu.Lock()
	delete(s.subscribers, owner)
	s.mu.Unlock()
}

// DecodeResult exposes the lazy decode step to callers that receive
// raw results via Subscribe.
func (s *Stream) DecodeResult(result *wireproto.ProcedureResult) (any, error) {
	return s.decode(result)
}

// TakeNext returns a channel that fires with exactly the next distinct
// update, decoded, then closes.
func (s *Stream) TakeNext() <-chan any {
	out := make(chan any, 1)
	go func() {
		defer close(out)
		val, err := s.Wait(context.Background())
		if err == nil {
			out <- val
		}
	}()
	return out
}

// TakeLatestDropOlder returns a channel that always holds only the
// most recently decoded update, overwriting any value a slow reader
// hasn't yet consumed. It is layered above the raw Subscribe mailbox,
// per the design note in spec §9.
func (s *Stream) TakeLatestDropOlder() (<-chan any, func()) {
	out := make(chan any, 1)
	raw := make(chan *wireproto.ProcedureResult, 1)
	owner := new(int)
	cancel := s.Subscribe(owner, raw, SubscribeOptions{})

	done := make(chan struct{})
	go func() {
		for {
			select {
			case result, ok := <-raw:
				if !ok {
					return
				}
				val, err := s.decode(result)
				if err != nil {
					continue
				}
				select {
				case out <- val:
				default:
					select {
					case <-out:
					default:
					}
					out <- val
				}
			case <-done:
				return
			}
		}
	}()
	return out, func() {
		cancel()
		close(done)
	}
}

// RequireYoungerThan returns the latest decoded value only if it was
// received within age; otherwise it blocks for the next update.
func (s *Stream) RequireYoungerThan(ctx context.Context, age time.Duration, receivedAt func() time.Time) (any, error) {
	s.mu.Lock()
	fresh := s.hasValue && time.Since(receivedAt()) <= age
	s.mu.Unlock()
	if fresh {
		return s.Get(ctx)
	}
	return s.Wait(ctx)
}

// SetRate issues SetStreamRate(id, rate).
func (s *Stream) SetRate(ctx context.Context, rate float32) error {
	_, err := s.registry.rpc.Call(ctx, &wireproto.ProcedureCall{
		Service:   "KRPC",
		Procedure: "SetStreamRate",
		Arguments: []*wireproto.Argument{
			{Position: 0, Value: encodeUint64(s.id)},
			{Position: 1, Value: encodeFloat32(rate)},
		},
	})
	return err
}

// Start issues StartStream(id).
func (s *Stream) Start(ctx context.Context) error {
	return s.registry.startStream(ctx, s.id)
}

// bond adds owner to the bond set, cancelling any pending deferred
// removal (a new bond appearing between scheduling and firing a
// self-check cancels the shutdown, per the lifecycle's race-prevention
// rule).
func (s *Stream) bond(owner any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[owner] = struct{}{}
	if s.removeTimer != nil {
		s.removeTimer.Stop()
		s.removeTimer = nil
	}
}

// Remove releases owner's bond. Once the bond set empties, removal is
// deferred: a self-check fires after removalDelay, re-verifies the
// bond set is still empty, and only then issues RemoveStream (as a
// cast) and unregisters.
func (s *Stream) Remove(owner any) {
	s.mu.Lock()
	delete(s.bonds, owner)
	empty := len(s.bonds) == 0
	if empty && s.removeTimer == nil && !s.removed {
		s.removeTimer = time.AfterFunc(removalDelay, s.selfCheck)
	}
	s.mu.Unlock()
}

func (s *Stream) selfCheck() {
	s.mu.Lock()
	if s.removed || len(s.bonds) != 0 {
		s.removeTimer = nil
		s.mu.Unlock()
		return
	}
	s.removed = true
	s.removeTimer = nil
	s.mu.Unlock()

	_ = s.registry.rpc.Cast(&wireproto.ProcedureCall{
		Service:   "KRPC",
		Procedure: "RemoveStream",
		Arguments: []*wireproto.Argument{{Position: 0, Value: encodeUint64(s.id)}},
	})
	s.registry.unregister(s.id)
}
