// Package integration exercises the tracer through its public API the way
// instrumented applications use it.
package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/zoobzio/apmz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []apmz.Record
	*apmz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := apmz.NewCollector(name, bufferSize)
	collector.SetSyncMode(true) // Enable synchronous collection for testing.
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every record collected so far without losing earlier ones.
func (m *MockCollector) GetAll() []apmz.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	result := make([]apmz.Record, len(m.exported))
	copy(result, m.exported)
	return result
}

// FindByName returns the first record with the given name.
func (m *MockCollector) FindByName(name string) (apmz.Record, bool) {
	for _, r := range m.GetAll() {
		if r.Name == name {
			return r, true
		}
	}
	return apmz.Record{}, false
}

// MustFind is FindByName that fails the test when nothing matches.
func (m *MockCollector) MustFind(name string) apmz.Record {
	m.t.Helper()
	r, ok := m.FindByName(name)
	if !ok {
		m.t.Fatalf("Expected a record named %q", name)
	}
	return r
}

// TracedTest bundles a tracer, a collector and a context with an active
// transaction.
type TracedTest struct {
	Tracer    *apmz.Tracer
	Collector *MockCollector
	Ctx       context.Context
	Tx        *apmz.Span
}

// NewTracedTest starts a transaction named name and registers cleanup.
func NewTracedTest(t *testing.T, name string, opts ...apmz.Option) *TracedTest {
	t.Helper()
	tracer := apmz.New(opts...)
	t.Cleanup(tracer.Close)

	collector := NewMockCollector(t, name, 1024)
	tracer.OnSpanComplete(collector.Collect)

	ctx := apmz.WithStack(context.Background())
	tx := tracer.StartTransaction(name, "request").Activate(ctx)
	return &TracedTest{Tracer: tracer, Collector: collector, Ctx: ctx, Tx: tx}
}

// Finish ends the transaction and returns everything collected.
func (tt *TracedTest) Finish() []apmz.Record {
	tt.Tx.Deactivate().End()
	return tt.Collector.GetAll()
}

// Step is an Advice with a fixed name, for call-sites without an adapter.
type Step string

// Ready implements apmz.Advice.
func (s Step) Ready() bool { return s != "" }

// Decorate implements apmz.Advice.
func (s Step) Decorate(span *apmz.Span) {
	span.WithName(string(s)).WithType("app")
}

// ChildrenOf indexes records by parent span ID.
func ChildrenOf(records []apmz.Record) map[string][]apmz.Record {
	children := make(map[string][]apmz.Record)
	for _, r := range records {
		children[r.ParentID] = append(children[r.ParentID], r)
	}
	return children
}

// AssertPoolBalanced fails the test when spans are still out of the pool.
func AssertPoolBalanced(t *testing.T, tracer *apmz.Tracer) {
	t.Helper()
	stats := tracer.PoolStats()
	if stats.Acquired != stats.Released {
		t.Errorf("Expected every acquired span to be released, got %+v", stats)
	}
}
