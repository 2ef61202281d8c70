package profiler

import (
	"sort"

	"github.com/scope-profiler/pkg/utils"
)

// DefaultHistoryCapacity is the number of history slots allocated up front.
const DefaultHistoryCapacity = 60 * 500

// history holds the sealed roots of every Recorder. A sealed root goes into
// the lowest empty slot, or is appended when none is free, so slot order is
// not chronological once anything has been evicted. Callers that need
// recency order use the seal sequence instead, which byThread indexes.
//
// All methods require Service.mu.
type history struct {
	slots []*Node
	used  int
	// no empty slot exists below this index
	firstFree int
	// 0 means unbounded
	maxRoots int
	// occupied slots per thread, oldest seal first
	byThread map[ThreadID][]int
}

func newHistory(capacity, maxRoots int) *history {
	if capacity < 0 {
		capacity = 0
	}
	return &history{
		slots:    make([]*Node, capacity),
		maxRoots: maxRoots,
		byThread: make(map[ThreadID][]int),
	}
}

// insert stores root and returns the slot index.
func (h *history) insert(root *Node) int {
	i := h.firstFree
	for i < len(h.slots) && h.slots[i] != nil {
		i++
	}
	if i == len(h.slots) {
		h.slots = append(h.slots, nil)
	}
	h.slots[i] = root
	h.used++
	h.firstFree = i + 1
	h.index(i)
	return i
}

// index records slot i in its thread's seal order. Roots are normally
// sealed in seq order, so this is an append.
func (h *history) index(i int) {
	root := h.slots[i]
	ids := h.byThread[root.thread]
	pos := sort.Search(len(ids), func(k int) bool {
		return h.slots[ids[k]].seq > root.seq
	})
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = i
	h.byThread[root.thread] = ids
}

func (h *history) unindex(i int, thread ThreadID) {
	ids := h.byThread[thread]
	for k, id := range ids {
		if id == i {
			ids = append(ids[:k], ids[k+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(h.byThread, thread)
		return
	}
	h.byThread[thread] = ids
}

// clear empties slot i and returns the root it held.
func (h *history) clear(i int) *Node {
	root := h.slots[i]
	if root == nil {
		return nil
	}
	h.slots[i] = nil
	h.used--
	h.unindex(i, root.thread)
	if i < h.firstFree {
		h.firstFree = i
	}
	return root
}

// full reports whether inserting one more root would exceed maxRoots.
func (h *history) full() bool {
	return h.maxRoots > 0 && h.used >= h.maxRoots
}

// oldest returns the slot holding the earliest sealed root, or -1.
func (h *history) oldest() int {
	idx := -1
	for _, ids := range h.byThread {
		if idx < 0 || h.slots[ids[0]].seq < h.slots[idx].seq {
			idx = ids[0]
		}
	}
	return idx
}

// expired returns the slots whose root ended more than maxAge ticks before now.
func (h *history) expired(now, maxAge utils.Tick) []int {
	var out []int
	for i, root := range h.slots {
		if root != nil && now-root.end > maxAge {
			out = append(out, i)
		}
	}
	return out
}

// count returns the number of roots retained for thread.
func (h *history) count(thread ThreadID) int {
	return len(h.byThread[thread])
}

// nth returns the root of thread that is offset seals before its newest.
func (h *history) nth(thread ThreadID, offset int) *Node {
	ids := h.byThread[thread]
	if offset < 0 || offset >= len(ids) {
		return nil
	}
	return h.slots[ids[len(ids)-1-offset]]
}

// threads returns the distinct thread IDs present, ascending.
func (h *history) threads() []ThreadID {
	ids := make([]ThreadID, 0, len(h.byThread))
	for id := range h.byThread {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
