package apmz

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// Outcome is the final status of a span.
type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// String returns the exported name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Span lifecycle states. Activation is tracked by the stack pointer, not here.
const (
	stateRecycled uint32 = iota
	stateCreated
	stateEnded
)

// Span represents a single unit of work in a trace. A transaction is the
// root span of a trace and is created by Tracer.StartTransaction.
//
// Spans are pooled. A span is owned by the goroutine that created it until
// End, then by the reporting pipeline until Recycle. Spans are NOT thread-safe;
// all methods are safe to call on a nil *Span.
//
//nolint:govet // Field order follows the lifecycle, not alignment
type Span struct {
	tracer *Tracer
	stack  *Stack
	err    error

	traceID       TraceID
	id            SpanID
	parentID      SpanID
	transactionID SpanID

	name    string
	typ     string
	subtype string
	action  string
	result  string

	start    time.Time
	duration time.Duration

	ctx SpanContext

	outcome         Outcome
	explicitOutcome bool
	transaction     bool

	// refs counts the pipeline's ownership plus every live Snapshot.
	refs  atomic.Int32
	state atomic.Uint32
}

// CreateSpan returns a new child of s. The child is not activated.
// Returns nil when s is nil or no longer usable as a parent.
func (s *Span) CreateSpan() *Span {
	if s == nil {
		return nil
	}
	if s.refs.Load() <= 0 {
		s.tracer.protocolError(errors.Wrap(ErrNotEnded, "parent already recycled"), nil)
		return nil
	}

	t := s.tracer
	child := t.acquireSpan()
	child.traceID = s.traceID
	child.parentID = s.id
	child.transactionID = s.transactionID
	child.id = t.generateSpanID()
	child.start = t.clock.Now()
	t.metrics.spanStarted(false)
	return child
}

// WithName sets the span name.
func (s *Span) WithName(name string) *Span {
	if s.mutable() {
		s.name = name
	}
	return s
}

// WithType sets the span type, e.g. "db" or "lucee".
func (s *Span) WithType(typ string) *Span {
	if s.mutable() {
		s.typ = typ
	}
	return s
}

// WithSubtype sets the span subtype, e.g. "postgresql" or "lock".
func (s *Span) WithSubtype(subtype string) *Span {
	if s.mutable() {
		s.subtype = subtype
	}
	return s
}

// WithAction sets the span action, e.g. "query" or "exclusive".
func (s *Span) WithAction(action string) *Span {
	if s.mutable() {
		s.action = action
	}
	return s
}

// WithResult sets the result of a transaction, e.g. "HTTP 2xx".
func (s *Span) WithResult(result string) *Span {
	if s.mutable() {
		s.result = result
	}
	return s
}

// WithOutcome overrides the outcome End would derive from captured errors.
// Values other than the declared outcomes are ignored.
func (s *Span) WithOutcome(outcome Outcome) *Span {
	if outcome > OutcomeFailure {
		if s != nil {
			s.tracer.protocolError(errors.Wrapf(ErrInvalidOutcome, "outcome %d", outcome), s)
		}
		return s
	}
	if s.mutable() {
		s.outcome = outcome
		s.explicitOutcome = outcome != OutcomeUnknown
	}
	return s
}

// SetLabel adds a key/value label to the span.
func (s *Span) SetLabel(key Label, value string) *Span {
	if s.mutable() {
		s.ctx.SetLabel(key, value)
	}
	return s
}

// CaptureError records err and marks the span failed.
// A nil err is ignored. The first captured error wins.
func (s *Span) CaptureError(err error) *Span {
	if err == nil || !s.mutable() {
		return s
	}
	if s.err == nil {
		s.err = err
	}
	if !s.explicitOutcome {
		s.outcome = OutcomeFailure
	}
	return s
}

// CapturePanic records a value obtained from recover. A nil value is ignored.
func (s *Span) CapturePanic(r any) *Span {
	if r == nil {
		return s
	}
	return s.CaptureError(panicError(r))
}

// Context returns the span's metadata records. Returns nil for a nil span.
func (s *Span) Context() *SpanContext {
	if s == nil {
		return nil
	}
	return &s.ctx
}

// Activate pushes s onto the activation stack carried by ctx, making it the
// result of Tracer.Active for that context.
func (s *Span) Activate(ctx context.Context) *Span {
	if s == nil {
		return nil
	}

	switch {
	case s.state.Load() != stateCreated:
		s.tracer.protocolError(errors.Wrap(ErrAlreadyEnded, "activate"), s)
		return s
	case s.stack != nil:
		s.tracer.protocolError(ErrAlreadyActive, s)
		return s
	}

	st := StackFrom(ctx)
	if st == nil {
		s.tracer.protocolError(ErrNoStack, s)
		return s
	}
	st.push(s)
	s.stack = st
	return s
}

// Deactivate pops s from its activation stack. A span that is not on top is
// removed from wherever it sits so its siblings keep a consistent stack.
func (s *Span) Deactivate() *Span {
	if s == nil {
		return nil
	}

	st := s.stack
	if st == nil {
		s.tracer.protocolError(ErrNotOnStack, s)
		return s
	}
	if !st.pop(s) {
		s.tracer.protocolError(ErrNotTop, s)
	}
	s.stack = nil
	return s
}

// IsActive reports whether s is on an activation stack.
func (s *Span) IsActive() bool {
	return s != nil && s.stack != nil
}

// End finalizes s and hands it to the reporting pipeline. Only the first
// call has an effect; s must not be used by the caller afterwards.
func (s *Span) End() {
	if s == nil {
		return
	}
	if !s.state.CompareAndSwap(stateCreated, stateEnded) {
		s.tracer.protocolError(ErrAlreadyEnded, s)
		return
	}

	t := s.tracer
	if s.stack != nil {
		t.protocolError(ErrStillActive, s)
		s.stack.pop(s)
		s.stack = nil
	}

	s.duration = t.clock.Now().Sub(s.start)
	if s.outcome == OutcomeUnknown {
		if s.err != nil {
			s.outcome = OutcomeFailure
		} else {
			s.outcome = OutcomeSuccess
		}
	}
	t.metrics.spanEnded(s.transaction, s.outcome)
	t.report(s)
}

// Discard gives back a span that was created but will never be ended.
// Nothing is reported.
func (s *Span) Discard() {
	if s == nil {
		return
	}
	if !s.state.CompareAndSwap(stateCreated, stateRecycled) {
		s.tracer.protocolError(errors.Wrap(ErrAlreadyEnded, "discard"), s)
		return
	}
	if s.stack != nil {
		s.stack.pop(s)
		s.stack = nil
	}
	s.decRef()
}

// Recycle is the reporting pipeline's release path: it returns an ended span
// to the pool once no Snapshot refers to it. Calling it twice, or before End,
// is a protocol error and has no effect.
func (s *Span) Recycle() {
	if s == nil {
		return
	}
	if !s.state.CompareAndSwap(stateEnded, stateRecycled) {
		s.tracer.protocolError(ErrNotEnded, s)
		return
	}
	s.decRef()
}

// tryIncRef takes a reference unless the span already went back to the pool.
func (s *Span) tryIncRef() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Span) decRef() {
	if s.refs.Add(-1) == 0 {
		s.tracer.spans.Release(s)
	}
}

// mutable reports whether the owner may still change s.
func (s *Span) mutable() bool {
	return s != nil && s.state.Load() == stateCreated
}

// ResetState implements Recyclable.
func (s *Span) ResetState() {
	s.stack = nil
	s.err = nil
	s.traceID = TraceID{}
	s.id = SpanID{}
	s.parentID = SpanID{}
	s.transactionID = SpanID{}
	s.name = ""
	s.typ = ""
	s.subtype = ""
	s.action = ""
	s.result = ""
	s.start = time.Time{}
	s.duration = 0
	s.ctx.ResetState()
	s.outcome = OutcomeUnknown
	s.explicitOutcome = false
	s.transaction = false
	s.refs.Store(0)
	s.state.Store(stateRecycled)
}

// TraceID returns the trace ID.
func (s *Span) TraceID() TraceID {
	if s == nil {
		return TraceID{}
	}
	return s.traceID
}

// SpanID returns the span ID.
func (s *Span) SpanID() SpanID {
	if s == nil {
		return SpanID{}
	}
	return s.id
}

// ParentID returns the parent span ID, zero for a root transaction.
func (s *Span) ParentID() SpanID {
	if s == nil {
		return SpanID{}
	}
	return s.parentID
}

// TransactionID returns the ID of the transaction s belongs to.
func (s *Span) TransactionID() SpanID {
	if s == nil {
		return SpanID{}
	}
	return s.transactionID
}

// IsTransaction reports whether s is the root of its trace.
func (s *Span) IsTransaction() bool {
	return s != nil && s.transaction
}

// Name returns the span name.
func (s *Span) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Type returns the span type.
func (s *Span) Type() string {
	if s == nil {
		return ""
	}
	return s.typ
}

// Subtype returns the span subtype.
func (s *Span) Subtype() string {
	if s == nil {
		return ""
	}
	return s.subtype
}

// Action returns the span action.
func (s *Span) Action() string {
	if s == nil {
		return ""
	}
	return s.action
}

// Result returns the transaction result.
func (s *Span) Result() string {
	if s == nil {
		return ""
	}
	return s.result
}

// Start returns the start timestamp.
func (s *Span) Start() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.start
}

// Duration returns the duration computed by End, zero before.
func (s *Span) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// Outcome returns the current outcome.
func (s *Span) Outcome() Outcome {
	if s == nil {
		return OutcomeUnknown
	}
	return s.outcome
}

// Err returns the captured error.
func (s *Span) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// IsEnded reports whether End was called.
func (s *Span) IsEnded() bool {
	return s != nil && s.state.Load() != stateCreated
}
