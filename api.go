// Package apmz provides the span and transaction lifecycle core of an
// in-process tracing agent.
//
// apmz tracks causally related units of work, links them into parent/child
// trees and hands finished spans to a reporting pipeline. It is built for
// instrumentation call-sites that must stay allocation-free on the hot path
// and must never let a tracing bug change the behavior of the code they wrap.
//
// Core Components:
//   - Tracer: owns the span pool, ID pools and the reporting pipeline.
//   - Span: a unit of work; a transaction is the root span of a trace.
//   - Stack: the activation stack of one logical thread of control.
//   - Pool: bounded free list of recyclable objects.
//   - Advice: the enter/exit hook contract for call-sites.
//
// Basic Usage:
//
//	tracer := apmz.New()
//	defer tracer.Close()
//
//	ctx = apmz.WithStack(ctx)
//	tx := tracer.StartTransaction("GET /users", "request").Activate(ctx)
//	defer tx.Deactivate().End()
//
//	// Anywhere below, without passing tx around.
//	if parent := tracer.Active(ctx); parent != nil {
//		span := parent.CreateSpan().
//			WithName("SELECT users").
//			WithType("db").
//			WithSubtype("postgresql").
//			WithAction("query").
//			Activate(ctx)
//		err := query()
//		span.CaptureError(err)
//		span.Deactivate().End()
//	}
//
// Ownership:
//
// A span is owned by the goroutine that created it until End. After End the
// reporting pipeline owns it and must call Span.Recycle once it is done; the
// default pipeline snapshots the span into a Record and recycles it at once.
//
// Activation stacks are carried by context.Context and are not safe for
// concurrent use. Use Fork, or Capture and Snapshot.Restore, when work moves
// to another goroutine.
//
// Failure Transparency:
//
// Protocol violations (double activation, deactivating a span that is not on
// top, ending twice) are logged and counted, never returned to or panicked into
// instrumented code. See Tracer.ProtocolErrors.
package apmz

// Label represents a span label key.
type Label = string
