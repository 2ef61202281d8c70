package profiler

import (
	perrors "github.com/scope-profiler/pkg/errors"
)

// DefaultFrameLabel is the label BeginFrame uses when given an empty one.
const DefaultFrameLabel = "frame"

// Recorder builds the call tree of a single goroutine. It is the per-thread
// state of the profiler: its methods must only be called from the goroutine
// that owns it, and they never block on other goroutines except for the brief
// lock taken when a root scope is sealed.
//
// All methods are safe on a nil Recorder and do nothing.
type Recorder struct {
	svc  *Service
	id   ThreadID
	name string

	active *Node
	depth  int
	// pause epoch the current tree was started in
	epoch uint64
	// pops still owed by pushes dropped while paused and by scopes whose
	// tree was abandoned after a pause
	orphans int
}

// ThreadID returns the identifier stamped on every node this Recorder builds.
func (r *Recorder) ThreadID() ThreadID {
	if r == nil {
		return 0
	}
	return r.id
}

// Name returns the name given to NewRecorder.
func (r *Recorder) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

// Active returns the innermost open scope, or nil.
func (r *Recorder) Active() *Node {
	if r == nil {
		return nil
	}
	return r.active
}

// Depth returns the number of open scopes.
func (r *Recorder) Depth() int {
	if r == nil {
		return 0
	}
	return r.depth
}

// Service returns the owning service.
func (r *Recorder) Service() *Service {
	if r == nil {
		return nil
	}
	return r.svc
}

// Push opens a scope named label as the newest child of the active scope, or
// as a new root when nothing is open.
func (r *Recorder) Push(label string) {
	if !r.push(label) {
		r.owePop()
	}
}

// owePop records that a push was dropped because the service is paused, so
// the matching pop is absorbed.
func (r *Recorder) owePop() {
	if Enabled && r != nil && r.svc.paused.Load() {
		r.orphans++
	}
}

func (r *Recorder) push(label string) bool {
	if !Enabled || r == nil {
		return false
	}
	s := r.svc
	epoch := s.epoch.Load()
	if s.paused.Load() {
		return false
	}
	r.dropStaleTree(epoch)

	n := s.pool.allocate()
	n.thread = r.id
	n.setLabel(label)
	if r.active != nil {
		r.active.addChild(n)
	} else {
		r.epoch = epoch
	}
	r.active = n
	r.depth++
	n.start = s.clock.Now()
	return true
}

// Pop closes the active scope. Closing a root seals the tree into history.
// Popping with nothing open is a usage error: it is logged and returned, and
// the Recorder stays usable.
func (r *Recorder) Pop() error {
	if !Enabled || r == nil {
		return nil
	}
	s := r.svc
	end := s.clock.Now()
	epoch := s.epoch.Load()
	if s.paused.Load() {
		r.unwindPaused()
		return nil
	}
	r.dropStaleTree(epoch)

	n := r.active
	if n == nil {
		if r.orphans > 0 {
			r.orphans--
			return nil
		}
		s.usageError(r, perrors.ErrUnbalancedPop)
		return perrors.ErrUnbalancedPop
	}

	n.end = end
	r.active = n.parent
	r.depth--
	if r.active == nil {
		s.seal(n)
	}
	return nil
}

// unwindPaused handles a pop made while paused. The innermost owed pop is
// absorbed first; otherwise the stale tree is unwound without stamping end
// times, and recycled once its root closes. Only scopes still open at resume
// are owed afterwards.
func (r *Recorder) unwindPaused() {
	if r.orphans > 0 {
		r.orphans--
		return
	}
	n := r.active
	if n == nil {
		return
	}
	r.active = n.parent
	r.depth--
	if r.active == nil {
		r.svc.logger.WithField("thread", r.id).Debug(
			"abandoning %q closed while paused", n.Label())
		r.svc.pool.freeSubtree(n)
	}
}

// dropStaleTree abandons a tree that was in progress when the service was
// paused. Its nodes go back to the pool and the pops still owed for its open
// scopes are absorbed silently.
func (r *Recorder) dropStaleTree(epoch uint64) {
	if r.active == nil || r.epoch == epoch {
		return
	}
	root := r.active
	for root.parent != nil {
		root = root.parent
	}
	r.orphans += r.depth
	r.svc.logger.WithField("thread", r.id).Debug(
		"abandoning %q (%d open scopes) recorded before pause", root.Label(), r.depth)

	r.svc.pool.freeSubtree(root)
	r.active = nil
	r.depth = 0
}

// RecordAllocation attributes an allocation of size bytes to the active scope.
func (r *Recorder) RecordAllocation(size uint64) {
	if !Enabled || r == nil || r.active == nil || r.svc.paused.Load() {
		return
	}
	r.active.allocCount++
	r.active.bytesAlloced += size
	r.svc.memAllocs.Add(1)
	r.svc.memBytes.Add(int64(size))
}

// RecordFree attributes a free of size bytes to the active scope.
func (r *Recorder) RecordFree(size uint64) {
	if !Enabled || r == nil || r.active == nil || r.svc.paused.Load() {
		return
	}
	r.active.freeCount++
	r.active.bytesFreed += size
	r.svc.memFrees.Add(1)
	r.svc.memBytes.Add(-int64(size))
}

// BeginFrame opens a top-level frame scope. label defaults to "frame". If a
// scope is still open the frame is pushed anyway and ErrFrameNotBalanced is
// returned.
func (r *Recorder) BeginFrame(label string) error {
	if !Enabled || r == nil {
		return nil
	}
	if r.svc.paused.Load() {
		r.owePop()
		return nil
	}
	if label == "" {
		label = DefaultFrameLabel
	}
	r.dropStaleTree(r.svc.epoch.Load())

	if r.active != nil {
		err := perrors.Newf(perrors.CodeFrameNotBalanced,
			"begin frame %q with %d open scopes", label, r.depth)
		r.svc.usageError(r, err)
		r.push(label)
		return err
	}
	r.push(label)
	return nil
}

// EndFrame closes the frame scope and checks that the Recorder is back at the
// top level.
func (r *Recorder) EndFrame() error {
	if !Enabled || r == nil {
		return nil
	}
	if r.svc.paused.Load() {
		return r.Pop()
	}
	if err := r.Pop(); err != nil {
		return err
	}
	if r.active != nil {
		err := perrors.Newf(perrors.CodeFrameNotBalanced,
			"end frame with %d open scopes under %q", r.depth, r.active.Label())
		r.svc.usageError(r, err)
		return err
	}
	return nil
}
