package apmz

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zoobzio/clockz"
)

// recordingTracer returns a tracer whose ended spans land in the returned slice.
func recordingTracer(opts ...Option) (*Tracer, *[]Record) {
	tracer := New(opts...)
	records := &[]Record{}
	tracer.OnSpanComplete(func(r Record) {
		*records = append(*records, r)
	})
	return tracer, records
}

func TestTransactionFields(t *testing.T) {
	clock := clockz.NewFakeClock()
	tracer, records := recordingTracer(WithClock(clock))
	defer tracer.Close()

	tx := tracer.StartTransaction("GET /users", "request")
	if !tx.IsTransaction() {
		t.Error("Expected transaction flag")
	}
	if tx.TraceID().IsZero() {
		t.Error("Expected trace ID")
	}
	if tx.SpanID().IsZero() {
		t.Error("Expected span ID")
	}
	if !tx.ParentID().IsZero() {
		t.Errorf("Expected no parent, got %s", tx.ParentID())
	}
	if tx.TransactionID() != tx.SpanID() {
		t.Errorf("Expected transaction ID %s, got %s", tx.SpanID(), tx.TransactionID())
	}
	if !tx.Start().Equal(clock.Now()) {
		t.Errorf("Expected start %v, got %v", clock.Now(), tx.Start())
	}

	clock.Advance(250 * time.Millisecond)
	tx.WithResult("HTTP 2xx").End()

	if len(*records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(*records))
	}
	r := (*records)[0]
	if r.Kind != "transaction" {
		t.Errorf("Expected kind 'transaction', got %s", r.Kind)
	}
	if r.Duration != 250*time.Millisecond {
		t.Errorf("Expected duration 250ms, got %v", r.Duration)
	}
	if r.Result != "HTTP 2xx" {
		t.Errorf("Expected result 'HTTP 2xx', got %s", r.Result)
	}
	if r.Outcome != "success" {
		t.Errorf("Expected outcome 'success', got %s", r.Outcome)
	}
	if r.ParentID != "" {
		t.Errorf("Expected empty parent ID, got %s", r.ParentID)
	}
	if r.Context != nil {
		t.Errorf("Expected no context section, got %+v", r.Context)
	}
}

func TestTransactionWithRemoteParent(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	parent := RemoteParent{
		TraceID: TraceID{1, 2, 3},
		SpanID:  SpanID{4, 5, 6},
	}
	tx := tracer.StartTransactionWithParent("consume", "messaging", parent)
	defer tx.End()

	if tx.TraceID() != parent.TraceID {
		t.Errorf("Expected trace ID %s, got %s", parent.TraceID, tx.TraceID())
	}
	if tx.ParentID() != parent.SpanID {
		t.Errorf("Expected parent ID %s, got %s", parent.SpanID, tx.ParentID())
	}
	if tx.SpanID() == parent.SpanID {
		t.Error("Expected a fresh span ID")
	}
}

func TestChildSpanFields(t *testing.T) {
	clock := clockz.NewFakeClock()
	tracer, records := recordingTracer(WithClock(clock))
	defer tracer.Close()

	tx := tracer.StartTransaction("tx", "request")
	clock.Advance(time.Millisecond)
	child := tx.CreateSpan().
		WithName("SELECT users").
		WithType("db").
		WithSubtype("postgresql").
		WithAction("query")
	grandchild := child.CreateSpan().WithName("fetch")

	if child.TraceID() != tx.TraceID() {
		t.Error("Expected child to share the trace ID")
	}
	if child.ParentID() != tx.SpanID() {
		t.Errorf("Expected parent %s, got %s", tx.SpanID(), child.ParentID())
	}
	if grandchild.ParentID() != child.SpanID() {
		t.Errorf("Expected parent %s, got %s", child.SpanID(), grandchild.ParentID())
	}
	if grandchild.TransactionID() != tx.SpanID() {
		t.Errorf("Expected transaction %s, got %s", tx.SpanID(), grandchild.TransactionID())
	}
	if child.IsTransaction() {
		t.Error("Expected child not to be a transaction")
	}
	if child.Name() != "SELECT users" || child.Type() != "db" || child.Subtype() != "postgresql" || child.Action() != "query" {
		t.Errorf("Unexpected child metadata: %s %s %s %s", child.Name(), child.Type(), child.Subtype(), child.Action())
	}

	clock.Advance(10 * time.Millisecond)
	grandchild.End()
	child.End()
	tx.End()

	if len(*records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(*records))
	}
	if (*records)[0].Duration != 10*time.Millisecond {
		t.Errorf("Expected grandchild duration 10ms, got %v", (*records)[0].Duration)
	}
	if (*records)[2].Duration != 11*time.Millisecond {
		t.Errorf("Expected transaction duration 11ms, got %v", (*records)[2].Duration)
	}
	if (*records)[1].Kind != "span" {
		t.Errorf("Expected kind 'span', got %s", (*records)[1].Kind)
	}
}

func TestCaptureErrorFirstWins(t *testing.T) {
	tracer, records := recordingTracer()
	defer tracer.Close()

	first := errors.New("first")
	second := errors.New("second")

	span := tracer.StartTransaction("tx", "request")
	span.CaptureError(nil)
	if span.Outcome() != OutcomeUnknown {
		t.Errorf("Expected nil error to be ignored, outcome %s", span.Outcome())
	}

	span.CaptureError(first).CaptureError(second)
	if !errors.Is(span.Err(), first) {
		t.Errorf("Expected first error to win, got %v", span.Err())
	}
	if span.Outcome() != OutcomeFailure {
		t.Errorf("Expected failure outcome, got %s", span.Outcome())
	}
	span.End()

	r := (*records)[0]
	if r.Error != "first" {
		t.Errorf("Expected record error 'first', got %q", r.Error)
	}
	if r.Outcome != "failure" {
		t.Errorf("Expected outcome 'failure', got %s", r.Outcome)
	}
	if !errors.Is(r.Err, first) {
		t.Errorf("Expected record to keep the error value, got %v", r.Err)
	}
}

func TestExplicitOutcomeWins(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	span := tracer.StartTransaction("tx", "request").
		WithOutcome(OutcomeSuccess).
		CaptureError(errors.New("handled"))
	defer span.End()

	if span.Outcome() != OutcomeSuccess {
		t.Errorf("Expected explicit success to survive, got %s", span.Outcome())
	}
}

func TestInvalidOutcomeIgnored(t *testing.T) {
	tracer, records := recordingTracer()
	defer tracer.Close()

	ctx := WithStack(context.Background())
	tx := tracer.StartTransaction("tx", "request").Activate(ctx)
	tx.WithOutcome(Outcome(5))
	if tx.Outcome() != OutcomeUnknown {
		t.Errorf("Expected outcome to stay unknown, got %d", tx.Outcome())
	}
	if tracer.ProtocolErrors() != 1 {
		t.Errorf("Expected 1 protocol error, got %d", tracer.ProtocolErrors())
	}

	tx.CaptureError(errors.New("late")).WithOutcome(Outcome(255))
	tx.Deactivate().End()

	if len(*records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(*records))
	}
	if got := (*records)[0].Outcome; got != "failure" {
		t.Errorf("Expected outcome 'failure', got %s", got)
	}
	stats := tracer.PoolStats()
	if stats.Acquired != stats.Released {
		t.Errorf("Expected balanced pool, got %+v", stats)
	}
	if tracer.ProtocolErrors() != 2 {
		t.Errorf("Expected 2 protocol errors, got %d", tracer.ProtocolErrors())
	}
}

func TestCapturePanic(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	span := tracer.StartTransaction("tx", "request")
	defer span.End()

	span.CapturePanic(nil)
	if span.Err() != nil {
		t.Errorf("Expected nil panic value to be ignored, got %v", span.Err())
	}

	span.CapturePanic("boom")
	if span.Err() == nil || span.Err().Error() != "panic: boom" {
		t.Errorf("Expected 'panic: boom', got %v", span.Err())
	}

	sentinel := errors.New("sentinel")
	other := tracer.StartTransaction("tx", "request")
	defer other.End()
	other.CapturePanic(sentinel)
	if !errors.Is(other.Err(), sentinel) {
		t.Errorf("Expected panic error value to pass through, got %v", other.Err())
	}
}

func TestDoubleEnd(t *testing.T) {
	tracer, records := recordingTracer()
	defer tracer.Close()

	span := tracer.StartTransaction("tx", "request")
	span.End()
	before := tracer.ProtocolErrors()
	span.End()

	if len(*records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(*records))
	}
	if tracer.ProtocolErrors() != before+1 {
		t.Errorf("Expected double end to count as protocol error")
	}
}

func TestSettersIgnoredAfterEnd(t *testing.T) {
	var ended *Span
	tracer := New(WithReporter(ReporterFunc(func(s *Span) {
		ended = s
	})))
	defer tracer.Close()

	span := tracer.StartTransaction("tx", "request")
	span.End()

	ended.WithName("renamed").SetLabel("k", "v").CaptureError(errors.New("late"))
	if ended.Name() != "tx" {
		t.Errorf("Expected name 'tx', got %s", ended.Name())
	}
	if ended.Err() != nil {
		t.Errorf("Expected no error, got %v", ended.Err())
	}
	if !ended.IsEnded() {
		t.Error("Expected span to be ended")
	}
	ended.Recycle()
}

func TestRecycle(t *testing.T) {
	var ended *Span
	tracer := New(WithReporter(ReporterFunc(func(s *Span) {
		ended = s
	})))
	defer tracer.Close()

	span := tracer.StartTransaction("tx", "request")
	span.SetLabel("k", "v")
	span.Context().HTTP().WithMethod("GET")

	// Recycling before End is rejected.
	span.Recycle()
	if tracer.ProtocolErrors() != 1 {
		t.Errorf("Expected 1 protocol error, got %d", tracer.ProtocolErrors())
	}

	span.End()
	if ended != span {
		t.Fatal("Expected reporter to receive the span")
	}
	if tracer.PoolStats().Released != 0 {
		t.Error("Expected span to stay out of the pool until Recycle")
	}

	ended.Recycle()
	if tracer.PoolStats().Released != 1 {
		t.Errorf("Expected 1 release, got %d", tracer.PoolStats().Released)
	}
	if span.Name() != "" || span.Context().HasContent() {
		t.Error("Expected recycled span to be reset")
	}

	ended.Recycle()
	if tracer.PoolStats().Released != 1 {
		t.Error("Expected second recycle to be ignored")
	}
	if tracer.ProtocolErrors() != 2 {
		t.Errorf("Expected 2 protocol errors, got %d", tracer.ProtocolErrors())
	}

	// The next span reuses the pooled object in its default state.
	next := tracer.StartTransaction("next", "request")
	if next != span {
		t.Error("Expected pooled span to be reused")
	}
	if _, ok := next.Context().Label("k"); ok {
		t.Error("Expected labels to be cleared")
	}
	next.End()
	ended.Recycle()
}

func TestDiscard(t *testing.T) {
	tracer, records := recordingTracer()
	defer tracer.Close()

	ctx := WithStack(context.Background())
	tx := tracer.StartTransaction("tx", "request").Activate(ctx)
	span := tx.CreateSpan().Activate(ctx)

	span.Discard()
	if tracer.Active(ctx) != tx {
		t.Error("Expected discard to deactivate the span")
	}
	if len(*records) != 0 {
		t.Errorf("Expected nothing reported, got %d records", len(*records))
	}
	if tracer.PoolStats().Released != 1 {
		t.Errorf("Expected discarded span to be released, got %d", tracer.PoolStats().Released)
	}

	tx.Deactivate().End()
	before := tracer.ProtocolErrors()
	tx.Discard()
	if tracer.ProtocolErrors() != before+1 {
		t.Error("Expected discarding an ended span to be a protocol error")
	}
}

func TestCreateSpanFromRecycledParent(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	tx := tracer.StartTransaction("tx", "request")
	tx.End()

	if child := tx.CreateSpan(); child != nil {
		t.Error("Expected no child from a recycled parent")
	}
	if tracer.ProtocolErrors() != 1 {
		t.Errorf("Expected 1 protocol error, got %d", tracer.ProtocolErrors())
	}
}

func TestNilSpan(t *testing.T) {
	var span *Span

	// None of these may panic.
	span.WithName("x").WithType("x").SetLabel("k", "v").CaptureError(errors.New("x"))
	span.Activate(context.Background())
	span.Deactivate()
	span.End()
	span.Discard()
	span.Recycle()

	if span.CreateSpan() != nil {
		t.Error("Expected nil child")
	}
	if span.Context() != nil {
		t.Error("Expected nil context")
	}
	if span.IsActive() || span.IsEnded() || span.IsTransaction() {
		t.Error("Expected nil span to report false")
	}
	if !span.TraceID().IsZero() || span.Name() != "" {
		t.Error("Expected zero values")
	}
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeUnknown: "unknown",
		OutcomeSuccess: "success",
		OutcomeFailure: "failure",
		Outcome(42):    "unknown",
	}
	for outcome, want := range tests {
		if got := outcome.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
