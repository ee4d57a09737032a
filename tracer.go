package apmz

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
)

const defaultPoolCapacity = 1024

// Reporter receives every ended span. Report takes ownership of span and
// must call span.Recycle once it no longer reads it. The span must be
// treated as immutable.
type Reporter interface {
	Report(span *Span)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(span *Span)

// Report implements Reporter.
func (f ReporterFunc) Report(span *Span) { f(span) }

// SpanHandler is called with a snapshot of every ended span.
type SpanHandler func(record Record)

type handlerEntry struct {
	handler SpanHandler
	id      uint64
	async   bool
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for span timestamps.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		t.clock = clock
	}
}

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(t *Tracer) {
		t.log = log
	}
}

// WithReporter replaces the default snapshot-and-handlers pipeline.
func WithReporter(reporter Reporter) Option {
	return func(t *Tracer) {
		t.reporter = reporter
	}
}

// WithPoolCapacity bounds the number of idle spans kept for reuse.
func WithPoolCapacity(capacity int) Option {
	return func(t *Tracer) {
		t.poolCapacity = capacity
	}
}

// WithRegisterer registers the tracer's metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tracer) {
		t.registerer = reg
	}
}

// Tracer creates spans, owns their pool and routes ended spans to the
// reporting pipeline. Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers       []handlerEntry
	panicHook      func(handlerID uint64, r interface{})
	workers        *workerPool
	reporter       Reporter
	spans          *Pool[*Span]
	traceIDPool    *IDPool[TraceID]
	spanIDPool     *IDPool[SpanID]
	metrics        *metrics
	registerer     prometheus.Registerer
	clock          clockz.Clock
	log            logr.Logger
	poolCapacity   int
	handlersLock   sync.RWMutex
	idPoolOnce     sync.Once
	nextID         atomic.Uint64
	droppedSpans   atomic.Uint64
	protocolErrors atomic.Uint64
}

// New creates a new tracer.
// Uses the real clock and discards diagnostics unless configured otherwise.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		handlers:     make([]handlerEntry, 0),
		clock:        clockz.RealClock,
		log:          logr.Discard(),
		poolCapacity: defaultPoolCapacity,
	}
	for i := range opts {
		opts[i](t)
	}

	t.spans = NewPool(t.poolCapacity, func() *Span {
		return &Span{tracer: t}
	})
	t.metrics = newMetrics(t)
	if t.registerer != nil {
		if err := t.metrics.register(t.registerer); err != nil {
			t.log.Error(err, "Failed to register tracer metrics")
		}
	}
	return t
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = NewIDPool(poolSize, newTraceID)
		t.spanIDPool = NewIDPool(poolSize, newSpanID)
	})
}

// Active returns the active span of ctx, or nil when nothing is active.
func (t *Tracer) Active(ctx context.Context) *Span {
	if t == nil {
		return nil
	}
	return StackFrom(ctx).Top()
}

// StartTransaction creates the root span of a new trace. The transaction is
// not activated.
func (t *Tracer) StartTransaction(name, typ string) *Span {
	return t.StartTransactionWithParent(name, typ, RemoteParent{})
}

// RemoteParent identifies the caller of this process in a distributed trace.
// Decoding it from a wire header is left to the propagation layer.
type RemoteParent struct {
	TraceID TraceID
	SpanID  SpanID
}

// StartTransactionWithParent creates a transaction that continues a trace
// started elsewhere. A zero parent starts a new trace.
func (t *Tracer) StartTransactionWithParent(name, typ string, parent RemoteParent) *Span {
	if t == nil {
		return nil
	}

	tx := t.acquireSpan()
	tx.transaction = true
	if parent.TraceID.IsZero() {
		tx.traceID = t.generateTraceID()
	} else {
		tx.traceID = parent.TraceID
		tx.parentID = parent.SpanID
	}
	tx.id = t.generateSpanID()
	tx.transactionID = tx.id
	tx.name = name
	tx.typ = typ
	tx.start = t.clock.Now()
	t.metrics.spanStarted(true)
	return tx
}

// acquireSpan claims a pooled span and marks it owned.
func (t *Tracer) acquireSpan() *Span {
	s := t.spans.Acquire()
	s.refs.Store(1)
	s.state.Store(stateCreated)
	return s
}

// report hands an ended span to the reporting pipeline.
func (t *Tracer) report(s *Span) {
	if t.reporter != nil {
		defer func() {
			if r := recover(); r != nil {
				// Ownership is unclear after a panic; leave the span to the GC.
				t.log.Error(panicError(r), "Reporter panicked", "span", s.name)
			}
		}()
		t.reporter.Report(s)
		return
	}

	if !t.HasHandlers() {
		s.Recycle()
		return
	}
	record := s.Record()
	s.Recycle()
	t.executeHandlers(record)
}

// protocolError records a tolerated caller-protocol violation.
func (t *Tracer) protocolError(err error, s *Span) {
	if t == nil {
		return
	}
	kind := protocolKind(err)
	t.protocolErrors.Add(1)
	t.metrics.protocolErrors.WithLabelValues(kind).Inc()
	if s != nil {
		t.log.Error(err, "Tracing protocol violation", "kind", kind, "span", s.name, "spanID", s.id.String())
		return
	}
	t.log.Error(err, "Tracing protocol violation", "kind", kind)
}

// recoverHook swallows a panic raised inside tracing code on behalf of a
// call-site. Must be deferred directly.
func (t *Tracer) recoverHook(s *Span) {
	if r := recover(); r != nil {
		t.protocolError(wrapHookPanic(r), s)
	}
}

// ProtocolErrors returns the number of tolerated protocol violations.
func (t *Tracer) ProtocolErrors() uint64 {
	return t.protocolErrors.Load()
}

// PoolStats returns the span pool counters.
func (t *Tracer) PoolStats() PoolStats {
	return t.spans.Stats()
}

// OnSpanComplete registers a synchronous handler called when spans complete.
func (t *Tracer) OnSpanComplete(handler SpanHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnSpanCompleteAsync registers an asynchronous handler called when spans complete.
func (t *Tracer) OnSpanCompleteAsync(handler SpanHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler SpanHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// HasHandlers reports whether any span handler is registered.
func (t *Tracer) HasHandlers() bool {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers) > 0
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

// executeHandlers calls all registered handlers with the completed span.
func (t *Tracer) executeHandlers(record Record) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if h.async {
			entry := h
			if workers != nil {
				workers.submit(func() {
					t.safeCall(entry, record)
				})
			} else {
				go t.safeCall(entry, record)
			}
		} else {
			t.safeCall(h, record)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, record Record) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.handlerPanics.Inc()
			t.log.Error(panicError(r), "Span handler panicked", "handler", entry.id)

			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(record)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedSpans,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedSpans returns the number of span records dropped due to full worker queue.
func (t *Tracer) DroppedSpans() uint64 {
	return t.droppedSpans.Load()
}

// Close shuts down the tracer gracefully and cleans up resources.
// Spans still in flight may be ended afterwards; their records are not
// delivered to handlers.
func (t *Tracer) Close() {
	// Stop new handler executions
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Wait for in-flight async tasks
	if workers != nil {
		workers.shutdown()
	}

	// Close ID pools
	if t.traceIDPool != nil {
		t.traceIDPool.Close()
	}
	if t.spanIDPool != nil {
		t.spanIDPool.Close()
	}
}

func (t *Tracer) generateTraceID() TraceID {
	t.ensureIDPools()
	return t.traceIDPool.Get()
}

func (t *Tracer) generateSpanID() SpanID {
	t.ensureIDPools()
	return t.spanIDPool.Get()
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
