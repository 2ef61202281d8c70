package profiler

import (
	"github.com/scope-profiler/pkg/collections"
)

// nodePool hands out tree nodes. It grows without bound: there is no
// allocation failure path, so Push never has to report exhaustion.
//
// The pool is safe for concurrent use. Recorders allocate from it on the hot
// path without taking the service lock, while release and eviction recycle
// into it under the lock.
type nodePool struct {
	pool *collections.Pool[*Node]
}

func newNodePool() *nodePool {
	return &nodePool{
		pool: collections.NewPool(
			func() *Node { return &Node{} },
			(*Node).reset,
		),
	}
}

// allocate returns a zeroed node holding one reference.
func (p *nodePool) allocate() *Node {
	n := p.pool.Get()
	n.refs = 1
	return n
}

// recycle returns a single node to the pool. It does not touch children.
func (p *nodePool) recycle(n *Node) {
	p.pool.Put(n)
}

// freeSubtree recycles an unsealed tree, children first. Only the owning
// Recorder may call it.
func (p *nodePool) freeSubtree(n *Node) {
	for _, c := range n.children {
		p.freeSubtree(c)
	}
	p.recycle(n)
}

func (p *nodePool) stats() collections.PoolStats {
	return p.pool.Stats()
}
