package profiler

import (
	"unicode/utf8"

	"github.com/scope-profiler/pkg/utils"
)

// MaxLabelLen is the size of a node's inline label buffer. Longer labels are
// truncated on a rune boundary.
const MaxLabelLen = 32

// ThreadID identifies the Recorder that built a tree. IDs are unique per
// Service and never reused.
type ThreadID uint64

// Node is one recorded scope instance.
//
// A node's structure is written only by the Recorder that owns it and only
// until its root is sealed into history; afterwards it is immutable and may
// be read from any goroutine holding a Handle. Children are kept in creation
// order (oldest first).
type Node struct {
	label    [MaxLabelLen]byte
	labelLen uint8

	thread ThreadID
	start  utils.Tick
	end    utils.Tick

	allocCount   uint64
	freeCount    uint64
	bytesAlloced uint64
	bytesFreed   uint64

	parent   *Node
	children []*Node

	// guarded by Service.mu once sealed
	refs int32
	// bumped every time the node goes back to the pool
	gen uint32
	// seal order, roots only
	seq uint64
}

func (n *Node) setLabel(label string) {
	if len(label) > MaxLabelLen {
		cut := MaxLabelLen
		for cut > 0 && !utf8.RuneStart(label[cut]) {
			cut--
		}
		label = label[:cut]
	}
	n.labelLen = uint8(copy(n.label[:], label))
}

func (n *Node) addChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
}

// reset clears the node for reuse, keeping the children backing array.
func (n *Node) reset() {
	children := n.children
	clear(children)
	gen := n.gen + 1
	*n = Node{}
	n.children = children[:0]
	n.gen = gen
}

// Label returns the (possibly truncated) scope label.
func (n *Node) Label() string {
	return string(n.label[:n.labelLen])
}

// Thread returns the ID of the Recorder that created the node.
func (n *Node) Thread() ThreadID { return n.thread }

// Start returns the tick at which the scope was pushed.
func (n *Node) Start() utils.Tick { return n.start }

// End returns the tick at which the scope was popped.
func (n *Node) End() utils.Tick { return n.end }

// LifeTime returns End - Start, the scope duration including children.
func (n *Node) LifeTime() utils.Tick { return n.end - n.start }

// AllocCount returns the number of allocations attributed to the scope.
func (n *Node) AllocCount() uint64 { return n.allocCount }

// FreeCount returns the number of frees attributed to the scope.
func (n *Node) FreeCount() uint64 { return n.freeCount }

// BytesAlloced returns the bytes allocated while the scope was active.
func (n *Node) BytesAlloced() uint64 { return n.bytesAlloced }

// BytesFreed returns the bytes freed while the scope was active.
func (n *Node) BytesFreed() uint64 { return n.bytesFreed }

// MemoryRemaining returns BytesAlloced - BytesFreed.
func (n *Node) MemoryRemaining() int64 {
	return int64(n.bytesAlloced) - int64(n.bytesFreed)
}

// Parent returns the enclosing scope, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the direct child scopes in creation order. The slice must
// not be modified.
func (n *Node) Children() []*Node { return n.children }

// EachChildNewestFirst calls fn for every direct child, most recently opened
// first.
func (n *Node) EachChildNewestFirst(fn func(*Node)) {
	for i := len(n.children) - 1; i >= 0; i-- {
		fn(n.children[i])
	}
}

// Depth returns the number of levels in the subtree rooted at n (1 for a leaf).
func (n *Node) Depth() int {
	max := 0
	for _, c := range n.children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// Walk visits the subtree in pre-order. depth is 0 for n itself.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, c := range n.children {
		c.walk(fn, depth+1)
	}
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	count := 1
	for _, c := range n.children {
		count += c.Count()
	}
	return count
}
