// Package snapshot exports recorded scope trees as JSON documents, optionally
// gzip or zstd compressed, for offline inspection.
package snapshot

import (
	"time"

	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/utils"
)

// FormatVersion is bumped on incompatible document changes.
const FormatVersion = 1

// Snapshot is a self-contained copy of one recorded tree.
type Snapshot struct {
	Version        int       `json:"version"`
	Thread         uint64    `json:"thread"`
	ThreadName     string    `json:"thread_name,omitempty"`
	TakenAt        time.Time `json:"taken_at"`
	TicksPerSecond int64     `json:"ticks_per_second"`
	Nodes          int       `json:"nodes"`
	Root           *Node     `json:"root"`
}

// Node is one scope in a snapshot. Times are in ticks relative to the root's
// start.
type Node struct {
	Label        string  `json:"label"`
	Start        int64   `json:"start"`
	Duration     int64   `json:"duration"`
	Allocs       uint64  `json:"allocs,omitempty"`
	Frees        uint64  `json:"frees,omitempty"`
	BytesAlloced uint64  `json:"bytes_alloced,omitempty"`
	BytesFreed   uint64  `json:"bytes_freed,omitempty"`
	Children     []*Node `json:"children,omitempty"`
}

// FromHandle copies the tree pinned by h. The copy stays valid after h is
// released.
func FromHandle(svc *profiler.Service, h *profiler.Handle) *Snapshot {
	name, _ := svc.ThreadName(h.Thread())
	return FromNode(h.Root(), svc.Clock(), name)
}

// FromNode copies the subtree rooted at root.
func FromNode(root *profiler.Node, clock utils.TickClock, threadName string) *Snapshot {
	s := &Snapshot{
		Version:        FormatVersion,
		Thread:         uint64(root.Thread()),
		ThreadName:     threadName,
		TakenAt:        time.Now().UTC(),
		TicksPerSecond: clock.TicksPerSecond(),
	}
	s.Root = s.copyNode(root, root.Start())
	return s
}

func (s *Snapshot) copyNode(n *profiler.Node, base utils.Tick) *Node {
	s.Nodes++
	out := &Node{
		Label:        n.Label(),
		Start:        int64(n.Start() - base),
		Duration:     int64(n.LifeTime()),
		Allocs:       n.AllocCount(),
		Frees:        n.FreeCount(),
		BytesAlloced: n.BytesAlloced(),
		BytesFreed:   n.BytesFreed(),
	}
	if children := n.Children(); len(children) > 0 {
		out.Children = make([]*Node, len(children))
		for i, c := range children {
			out.Children[i] = s.copyNode(c, base)
		}
	}
	return out
}

// DurationOf converts a tick count from this snapshot to a time.Duration.
func (s *Snapshot) DurationOf(ticks int64) time.Duration {
	if s.TicksPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(ticks) / float64(s.TicksPerSecond) * float64(time.Second))
}

// Walk visits every node in pre-order.
func (s *Snapshot) Walk(fn func(n *Node, depth int)) {
	if s.Root != nil {
		walk(s.Root, 0, fn)
	}
}

func walk(n *Node, depth int, fn func(*Node, int)) {
	fn(n, depth)
	for _, c := range n.Children {
		walk(c, depth+1, fn)
	}
}
