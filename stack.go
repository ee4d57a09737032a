package apmz

import (
	"context"
	"sync/atomic"
)

// stackKeyType is a private type for context keys to avoid collisions.
type stackKeyType string

const (
	stackKey stackKeyType = "apmz"
)

// Stack is the activation stack of one logical thread of control.
// Push and pop are strictly nested; the top is the active span.
//
// A Stack is NOT safe for concurrent use. Hand work to another goroutine
// with Fork, or with Capture and Snapshot.Restore.
type Stack struct {
	entries []*Span
	// base is the Snapshot a restored stack starts from. Its span is active
	// while entries is empty and the snapshot is not released.
	base *Snapshot
}

// WithStack returns a context carrying an activation stack.
// A context that already carries one is returned unchanged.
func WithStack(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if StackFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, stackKey, &Stack{entries: make([]*Span, 0, 8)})
}

// StackFrom extracts the activation stack from a context.
// Returns nil if no stack is present.
func StackFrom(ctx context.Context) *Stack {
	if ctx == nil {
		return nil
	}
	if st, ok := ctx.Value(stackKey).(*Stack); ok {
		return st
	}
	return nil
}

// Top returns the active span, or nil.
func (st *Stack) Top() *Span {
	if st == nil {
		return nil
	}
	if n := len(st.entries); n > 0 {
		return st.entries[n-1]
	}
	if st.base == nil || st.base.released.Load() {
		return nil
	}
	return st.base.span
}

// Depth returns the number of spans activated on this stack.
func (st *Stack) Depth() int {
	if st == nil {
		return 0
	}
	return len(st.entries)
}

func (st *Stack) push(s *Span) {
	st.entries = append(st.entries, s)
}

// pop removes s and reports whether it was on top. A span found deeper in
// the stack is unlinked in place so the spans above it stay active.
func (st *Stack) pop(s *Span) bool {
	n := len(st.entries)
	if n > 0 && st.entries[n-1] == s {
		st.entries[n-1] = nil
		st.entries = st.entries[:n-1]
		return true
	}

	for i := n - 2; i >= 0; i-- {
		if st.entries[i] != s {
			continue
		}
		copy(st.entries[i:], st.entries[i+1:])
		st.entries[n-1] = nil
		st.entries = st.entries[:n-1]
		break
	}
	return false
}

// Snapshot carries the active span of one context across a suspension point
// or goroutine boundary. It holds a reference that keeps the span out of the
// pool until Release.
type Snapshot struct {
	span     *Span
	released atomic.Bool
}

// Capture records the active span of ctx. Returns nil when nothing is active
// or the active span is already back in the pool; all Snapshot methods accept
// a nil receiver.
func Capture(ctx context.Context) *Snapshot {
	s := StackFrom(ctx).Top()
	if s == nil || !s.tryIncRef() {
		return nil
	}
	return &Snapshot{span: s}
}

// Span returns the captured span.
func (sn *Snapshot) Span() *Span {
	if sn == nil {
		return nil
	}
	return sn.span
}

// Restore returns a context with a fresh activation stack whose active span
// is the captured one. The stack of ctx, if any, is shadowed. Once the
// snapshot is released the restored stack no longer reports its span.
func (sn *Snapshot) Restore(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stackKey, &Stack{entries: make([]*Span, 0, 8), base: sn})
}

// Release drops the snapshot's reference. Safe to call more than once.
func (sn *Snapshot) Release() {
	if sn == nil || !sn.released.CompareAndSwap(false, true) {
		return
	}
	sn.span.decRef()
}

// Fork prepares ctx for work on another goroutine: the returned context has
// its own activation stack rooted at the currently active span. Call release
// when that work is done.
func Fork(ctx context.Context) (forked context.Context, release func()) {
	sn := Capture(ctx)
	return sn.Restore(ctx), sn.Release
}
