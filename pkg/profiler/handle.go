package profiler

import (
	"sync/atomic"

	perrors "github.com/scope-profiler/pkg/errors"
)

// Handle pins a historical tree for reading. While a Handle is held the tree
// is neither recycled nor mutated, even if history evicts it. Every Handle
// must be released exactly once.
type Handle struct {
	svc      *Service
	root     *Node
	gen      uint32
	released atomic.Bool
}

// Acquire pins the tree recorded by thread that is offset roots before the
// most recent one (0 = most recent). Recency follows seal order, not history
// slot order. ErrNotFound is returned when fewer than offset+1 roots of that
// thread are retained.
//
// Acquire works while the service is paused.
func (s *Service) Acquire(thread ThreadID, offset int) (*Handle, error) {
	if offset < 0 {
		return nil, perrors.Newf(perrors.CodeInvalidInput, "negative history offset %d", offset)
	}

	s.mu.Lock()
	root := s.history.nth(thread, offset)
	if root == nil {
		n := s.history.count(thread)
		s.mu.Unlock()
		s.logger.Debug("acquire thread=%d offset=%d: %d roots retained", thread, offset, n)
		return nil, perrors.Newf(perrors.CodeNotFound,
			"thread %d has %d retained roots, offset %d requested", thread, n, offset)
	}
	s.retainLocked(root)
	s.mu.Unlock()

	return &Handle{svc: s, root: root, gen: root.gen}, nil
}

// AcquireRange pins up to limit of the most recent trees recorded by thread
// (0 = all retained), newest first. The set is taken under a single lock, so
// concurrent seals and evictions cannot shift it. ErrNotFound is returned
// when thread has no retained roots. Every returned Handle must be released;
// ReleaseAll does that.
func (s *Service) AcquireRange(thread ThreadID, limit int) ([]*Handle, error) {
	if limit < 0 {
		return nil, perrors.Newf(perrors.CodeInvalidInput, "negative history limit %d", limit)
	}

	s.mu.Lock()
	n := s.history.count(thread)
	if n == 0 {
		s.mu.Unlock()
		return nil, perrors.Newf(perrors.CodeNotFound, "thread %d has no retained roots", thread)
	}
	if limit == 0 || limit > n {
		limit = n
	}
	handles := make([]*Handle, limit)
	for offset := range handles {
		root := s.history.nth(thread, offset)
		s.retainLocked(root)
		handles[offset] = &Handle{svc: s, root: root, gen: root.gen}
	}
	s.mu.Unlock()

	return handles, nil
}

// ReleaseAll releases every handle and returns the first error.
func ReleaseAll(handles []*Handle) error {
	var first error
	for _, h := range handles {
		if err := h.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// AcquireLatest is Acquire for the tree history of r.
func (s *Service) AcquireLatest(r *Recorder, offset int) (*Handle, error) {
	return s.Acquire(r.ThreadID(), offset)
}

// Root returns the pinned root. It must not be used after Release.
func (h *Handle) Root() *Node {
	if h == nil {
		return nil
	}
	return h.root
}

// Thread returns the thread the pinned tree belongs to.
func (h *Handle) Thread() ThreadID {
	if h == nil || h.root == nil {
		return 0
	}
	return h.root.thread
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h != nil && h.released.Load()
}

// Release unpins the tree. Nodes whose last reference this was go back to the
// pool. Releasing twice returns ErrStaleHandle.
func (h *Handle) Release() error {
	if h == nil || h.root == nil {
		return perrors.Newf(perrors.CodeInvalidInput, "release of nil handle")
	}
	if !h.released.CompareAndSwap(false, true) {
		h.svc.logger.Warn("%v", perrors.ErrStaleHandle)
		return perrors.ErrStaleHandle
	}

	s := h.svc
	s.mu.Lock()
	if h.root.gen != h.gen || h.root.refs <= 0 {
		s.mu.Unlock()
		s.logger.Error("handle for thread %d outlived its tree", h.root.thread)
		return perrors.ErrStaleHandle
	}
	s.releaseLocked(h.root)
	s.mu.Unlock()
	return nil
}
