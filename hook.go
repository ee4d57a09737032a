package apmz

import (
	"context"
)

// Advice describes how a call-site names the span of one intercepted
// operation. Implementations hold the operation's arguments.
type Advice interface {
	// Ready reports whether the operation carries the data the span name
	// depends on. Tracing is skipped when it returns false.
	Ready() bool
	// Decorate names and classifies a freshly created span.
	Decorate(span *Span)
}

// OnEnter runs the entry half of the hook protocol. It returns nil, and
// traces nothing, when ctx has no active span, advice is not ready, or the
// tracing code itself fails. Otherwise it returns an activated child of the
// active span that must be passed to OnExit.
func OnEnter(ctx context.Context, t *Tracer, advice Advice) (span *Span) {
	parent := t.Active(ctx)
	if parent == nil || advice == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			t.recoverPanic(r, span)
			span.Discard()
			span = nil
		}
	}()

	if !advice.Ready() {
		return nil
	}
	span = parent.CreateSpan()
	if span == nil {
		return nil
	}
	advice.Decorate(span)
	return span.Activate(ctx)
}

// OnExit runs the exit half of the hook protocol: it captures err on span,
// then deactivates and ends it. Deactivate and End run even when capturing
// fails. A nil span is ignored.
func OnExit(span *Span, err error) {
	if span == nil {
		return
	}
	t := span.tracer

	defer func() {
		defer t.recoverHook(span)
		span.Deactivate().End()
	}()

	func() {
		defer t.recoverHook(span)
		captureOnExit(span, err)
	}()
}

// captureOnExit records the operation's error; replaced in tests.
var captureOnExit = func(span *Span, err error) {
	span.CaptureError(err)
}

// Wrap runs op under the full hook protocol. The error returned by op is
// returned unchanged, and a panic in op propagates with its original value
// after being recorded on the span.
func Wrap(ctx context.Context, t *Tracer, advice Advice, op func(context.Context) error) (err error) {
	span := OnEnter(ctx, t, advice)
	if span == nil {
		return op(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			OnExit(span, panicError(r))
			panic(r)
		}
		OnExit(span, err)
	}()
	return op(ctx)
}

// WrapValue is Wrap for operations that return a value.
func WrapValue[T any](ctx context.Context, t *Tracer, advice Advice, op func(context.Context) (T, error)) (value T, err error) {
	span := OnEnter(ctx, t, advice)
	if span == nil {
		return op(ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			OnExit(span, panicError(r))
			panic(r)
		}
		OnExit(span, err)
	}()
	return op(ctx)
}

// recoverPanic records a panic already recovered by the caller.
func (t *Tracer) recoverPanic(r any, s *Span) {
	t.protocolError(wrapHookPanic(r), s)
}
