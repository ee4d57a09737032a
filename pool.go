package apmz

import (
	"sync/atomic"
)

// Recyclable is implemented by every pooled object.
// ResetState must restore all fields, including nested owned records,
// so the object is indistinguishable from a freshly constructed one.
type Recyclable interface {
	ResetState()
}

// PoolStats is a point-in-time view of a pool's counters.
type PoolStats struct {
	Acquired  uint64 `json:"acquired"`
	Released  uint64 `json:"released"`
	Allocated uint64 `json:"allocated"`
	Discarded uint64 `json:"discarded"`
}

// Pool is a bounded free list of recyclable objects.
// Safe for concurrent use by multiple goroutines.
//
// Acquire never blocks: an empty pool falls back to the factory. Release
// never blocks either: a full pool leaves the object to the garbage collector.
// Capacity is a soft memory target, not a hard limit.
type Pool[T Recyclable] struct {
	factory   func() T
	free      chan T
	acquired  atomic.Uint64
	released  atomic.Uint64
	allocated atomic.Uint64
	discarded atomic.Uint64
}

// NewPool creates a pool holding at most capacity idle objects.
func NewPool[T Recyclable](capacity int, factory func() T) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool[T]{
		factory: factory,
		free:    make(chan T, capacity),
	}
}

// Acquire returns an object in its default state.
func (p *Pool[T]) Acquire() T {
	p.acquired.Add(1)
	select {
	case obj := <-p.free:
		return obj
	default:
		p.allocated.Add(1)
		return p.factory()
	}
}

// Release resets obj and returns it to the free list.
// The caller guarantees no other reference to obj survives.
func (p *Pool[T]) Release(obj T) {
	obj.ResetState()
	p.released.Add(1)
	select {
	case p.free <- obj:
	default:
		p.discarded.Add(1)
	}
}

// Idle returns the number of objects waiting on the free list.
func (p *Pool[T]) Idle() int {
	return len(p.free)
}

// Stats returns the pool counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Allocated: p.allocated.Load(),
		Discarded: p.discarded.Load(),
	}
}
