// Package report aggregates recorded scope trees into deduplicated reports.
//
// A Report is built from one or more acquired roots, either as a tree view
// (same-named siblings merge, nesting is kept) or as a flat view (every scope
// merges into a single level by label). Reports are plain values owned by the
// caller; building one never touches the profiler lock beyond the Acquire
// and Release that bracket it.
package report

import (
	"fmt"
	"strings"

	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/utils"
)

// RootName is the name of every report's synthetic root node.
const RootName = "ProfilerReportRoot"

// Mode selects how source trees are merged.
type Mode int

const (
	// ModeTree keeps parent/child structure.
	ModeTree Mode = iota
	// ModeFlat merges every scope into the root's children by label.
	ModeFlat
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeTree:
		return "tree"
	case ModeFlat:
		return "flat"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "tree" or "flat".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tree":
		return ModeTree, nil
	case "flat":
		return ModeFlat, nil
	default:
		return ModeTree, perrors.Newf(perrors.CodeInvalidInput, "unknown report mode %q", s)
	}
}

// Node is one aggregated report row.
type Node struct {
	Name      string
	CallCount uint64
	// Total is the summed lifetime of every merged scope, in ticks.
	Total utils.Tick

	AllocCount   uint64
	FreeCount    uint64
	BytesAlloced uint64
	BytesFreed   uint64

	Parent   *Node
	Children []*Node

	index map[string]*Node
}

func newNode(name string, parent *Node) *Node {
	return &Node{Name: name, Parent: parent}
}

// Self returns Total minus the children's totals. In flat view children are
// not nested scopes, so self time approximates the total per label.
func (n *Node) Self() utils.Tick {
	self := n.Total
	for _, c := range n.Children {
		self -= c.Total
	}
	if self < 0 {
		return 0
	}
	return self
}

// Child returns the direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	return n.index[name]
}

// Walk visits the subtree in pre-order; depth is 0 for n.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// merge folds src into the child of n with the same label, creating it if
// needed, and returns that child.
func (n *Node) merge(src *profiler.Node) *Node {
	name := src.Label()
	child, ok := n.index[name]
	if !ok {
		if n.index == nil {
			n.index = make(map[string]*Node)
		}
		child = newNode(name, n)
		n.index[name] = child
		n.Children = append(n.Children, child)
	}

	child.CallCount++
	child.Total += src.LifeTime()
	child.AllocCount += src.AllocCount()
	child.FreeCount += src.FreeCount()
	child.BytesAlloced += src.BytesAlloced()
	child.BytesFreed += src.BytesFreed()
	return child
}

// Report is an aggregation of one or more recorded trees.
type Report struct {
	mode  Mode
	root  *Node
	total utils.Tick
	roots int
}

// New creates an empty tree-view report.
func New() *Report {
	return &Report{
		mode: ModeTree,
		root: newNode(RootName, nil),
	}
}

// Mode returns the current aggregation mode.
func (r *Report) Mode() Mode {
	return r.mode
}

// Root returns the synthetic root. Its children are the report's top-level
// rows.
func (r *Report) Root() *Node {
	return r.root
}

// Total returns the summed lifetime of every appended root.
func (r *Report) Total() utils.Tick {
	return r.total
}

// Roots returns the number of trees appended.
func (r *Report) Roots() int {
	return r.roots
}

// AppendTreeView merges root into the report keeping its nesting. Appending
// after a flat view discards what was aggregated so far.
func (r *Report) AppendTreeView(root *profiler.Node) {
	r.Append(ModeTree, root)
}

// AppendFlatView merges every scope of root into the report's top level.
// Appending after a tree view discards what was aggregated so far.
func (r *Report) AppendFlatView(root *profiler.Node) {
	r.Append(ModeFlat, root)
}

// Append merges root using mode.
func (r *Report) Append(mode Mode, root *profiler.Node) {
	if root == nil {
		return
	}
	if mode != r.mode {
		r.mode = mode
		r.reset()
	}

	r.total += root.LifeTime()
	r.roots++
	r.root.CallCount = uint64(r.roots)
	r.root.Total = r.total

	if mode == ModeFlat {
		flatAppend(r.root, root)
	} else {
		treeAppend(r.root, root)
	}
}

func (r *Report) reset() {
	r.root = newNode(RootName, nil)
	r.total = 0
	r.roots = 0
}

func treeAppend(to *Node, src *profiler.Node) {
	merged := to.merge(src)
	for _, c := range src.Children() {
		treeAppend(merged, c)
	}
}

func flatAppend(to *Node, src *profiler.Node) {
	to.merge(src)
	for _, c := range src.Children() {
		flatAppend(to, c)
	}
}

// Build aggregates the tree pinned by h and sorts it with less (nil leaves
// creation order). The handle is not released.
func Build(h *profiler.Handle, mode Mode, less Less) (*Report, error) {
	if h == nil || h.Root() == nil {
		return nil, perrors.New(perrors.CodeInvalidInput, "build report from nil handle")
	}
	if h.Released() {
		return nil, perrors.ErrStaleHandle
	}

	r := New()
	r.Append(mode, h.Root())
	if less != nil {
		r.Sort(less)
	}
	return r, nil
}

// Row is one rendered report line.
type Row struct {
	// Depth is 0 for top-level rows.
	Depth        int
	Label        string
	Calls        uint64
	TotalPct     float64
	TotalSeconds float64
	SelfPct      float64
	SelfSeconds  float64
	Allocs       uint64
	Frees        uint64
	BytesAlloced uint64
	BytesFreed   uint64
}

// Rows flattens the report below its root in pre-order. Percentages are of
// Total, seconds use clock's frequency.
func (r *Report) Rows(clock utils.TickClock) []Row {
	var rows []Row
	totalSec := utils.TicksToSeconds(clock, r.total)

	pct := func(sec float64) float64 {
		if totalSec <= 0 {
			return 0
		}
		return sec / totalSec * 100
	}

	for _, top := range r.root.Children {
		top.Walk(func(n *Node, depth int) {
			totSec := utils.TicksToSeconds(clock, n.Total)
			selfSec := utils.TicksToSeconds(clock, n.Self())
			rows = append(rows, Row{
				Depth:        depth,
				Label:        n.Name,
				Calls:        n.CallCount,
				TotalPct:     pct(totSec),
				TotalSeconds: totSec,
				SelfPct:      pct(selfSec),
				SelfSeconds:  selfSec,
				Allocs:       n.AllocCount,
				Frees:        n.FreeCount,
				BytesAlloced: n.BytesAlloced,
				BytesFreed:   n.BytesFreed,
			})
		})
	}
	return rows
}
