package report

import (
	"slices"
	"strings"

	perrors "github.com/scope-profiler/pkg/errors"
)

// Less reports whether a sorts before b.
type Less func(a, b *Node) bool

// Comparators for Sort.
var (
	ByTotalDesc Less = func(a, b *Node) bool { return a.Total > b.Total }
	BySelfDesc  Less = func(a, b *Node) bool { return a.Self() > b.Self() }
	ByCallsDesc Less = func(a, b *Node) bool { return a.CallCount > b.CallCount }
	ByNameAsc   Less = func(a, b *Node) bool { return a.Name < b.Name }

	ByBytesAllocedDesc Less = func(a, b *Node) bool { return a.BytesAlloced > b.BytesAlloced }
)

var sortKeys = map[string]Less{
	"total": ByTotalDesc,
	"self":  BySelfDesc,
	"calls": ByCallsDesc,
	"name":  ByNameAsc,
	"bytes": ByBytesAllocedDesc,
}

// ParseSort maps a sort key (total, self, calls, name, bytes) to its
// comparator.
func ParseSort(key string) (Less, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return ByTotalDesc, nil
	}
	less, ok := sortKeys[k]
	if !ok {
		return nil, perrors.Newf(perrors.CodeInvalidInput, "unknown sort key %q", key)
	}
	return less, nil
}

// Sort orders every level of the report with less. Ties are not kept in any
// particular order.
func (r *Report) Sort(less Less) {
	r.root.Sort(less)
}

// Sort orders n's subtree with less, children first.
func (n *Node) Sort(less Less) {
	for _, c := range n.Children {
		c.Sort(less)
	}
	slices.SortFunc(n.Children, func(a, b *Node) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		default:
			return 0
		}
	})
}
