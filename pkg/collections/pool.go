// Package collections provides generic data structures shared by the profiler.
package collections

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Object Pool - recycled records with live accounting
// ============================================================================

// PoolStats is a point-in-time view of a Pool's counters.
type PoolStats struct {
	// Allocated is the number of Get calls served since creation.
	Allocated int64
	// Recycled is the number of Put calls since creation.
	Recycled int64
	// Live is Allocated minus Recycled.
	Live int64
}

// Pool is a concurrency-safe object pool with unbounded growth.
// Objects are created by newFn when the pool is empty and passed through
// resetFn before they are handed out again.
type Pool[T any] struct {
	pool      sync.Pool
	resetFn   func(T)
	allocated atomic.Int64
	recycled  atomic.Int64
}

// NewPool creates a pool. resetFn may be nil.
func NewPool[T any](newFn func() T, resetFn func(T)) *Pool[T] {
	p := &Pool[T]{resetFn: resetFn}
	p.pool.New = func() interface{} {
		return newFn()
	}
	return p
}

// Get returns a reset object, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	v := p.pool.Get().(T)
	p.allocated.Add(1)
	return v
}

// Put resets v and returns it to the pool.
func (p *Pool[T]) Put(v T) {
	if p.resetFn != nil {
		p.resetFn(v)
	}
	p.recycled.Add(1)
	p.pool.Put(v)
}

// Stats returns the pool counters.
func (p *Pool[T]) Stats() PoolStats {
	allocated := p.allocated.Load()
	recycled := p.recycled.Load()
	return PoolStats{
		Allocated: allocated,
		Recycled:  recycled,
		Live:      allocated - recycled,
	}
}
