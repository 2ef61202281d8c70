// Package profiler records explicitly instrumented scopes as per-thread call
// trees, keeps a bounded history of completed trees, and lets other
// goroutines pin a historical tree for reading while its producer keeps
// recording.
//
// Each goroutine that records obtains its own Recorder from a Service. Push
// and Pop only touch the Recorder's private tree and the node pool; the
// service lock is taken when a root scope closes (sealing it into history),
// during the EndFrame eviction sweep, and for Acquire/Release bookkeeping.
//
//	svc := profiler.New(profiler.WithMaxHistoryAge(2 * time.Second))
//	rec := svc.NewRecorder("render")
//
//	rec.BeginFrame("frame")
//	func() {
//	    defer rec.Scope("draw").End()
//	    draw()
//	}()
//	rec.EndFrame()
//	svc.EndFrame()
//
//	h, err := svc.Acquire(rec.ThreadID(), 0)
//	if err == nil {
//	    defer h.Release()
//	    inspect(h.Root())
//	}
package profiler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/utils"
)

// Service owns the node pool, the shared history, and the pause flag.
type Service struct {
	clock  utils.TickClock
	logger utils.Logger
	pool   *nodePool

	paused atomic.Bool
	// bumped on every pause; trees started in an older epoch are abandoned
	epoch  atomic.Uint64
	closed atomic.Bool
	maxAge atomic.Int64

	nextThread atomic.Uint64

	memBytes  atomic.Int64
	memAllocs atomic.Uint64
	memFrees  atomic.Uint64

	historyCapacity int
	maxRoots        int
	observers       []Observer

	mu        sync.Mutex
	history   *history
	seq       uint64
	recorders map[ThreadID]string
}

// New creates and initializes a Service.
func New(opts ...Option) *Service {
	s := &Service{
		clock:           utils.NewMonotonicClock(),
		logger:          &utils.NullLogger{},
		pool:            newNodePool(),
		historyCapacity: DefaultHistoryCapacity,
		recorders:       make(map[ThreadID]string),
	}
	s.maxAge.Store(int64(DefaultMaxHistoryAge))

	for _, opt := range opts {
		opt(s)
	}

	s.history = newHistory(s.historyCapacity, s.maxRoots)
	return s
}

var (
	defaultService *Service
	defaultOnce    sync.Once
)

// Default returns a process-wide Service, created on first use and logging
// through utils.GetGlobalLogger.
func Default() *Service {
	defaultOnce.Do(func() {
		defaultService = New(WithLogger(utils.GetGlobalLogger()))
	})
	return defaultService
}

// Clock returns the service tick source.
func (s *Service) Clock() utils.TickClock {
	return s.clock
}

// Logger returns the service logger.
func (s *Service) Logger() utils.Logger {
	return s.logger
}

// NewRecorder creates the Recorder for one goroutine. name is informational.
func (s *Service) NewRecorder(name string) *Recorder {
	id := ThreadID(s.nextThread.Add(1))

	s.mu.Lock()
	s.recorders[id] = name
	s.mu.Unlock()

	return &Recorder{
		svc:  s,
		id:   id,
		name: name,
	}
}

// ThreadName returns the name a Recorder was created with.
func (s *Service) ThreadName(id ThreadID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.recorders[id]
	return name, ok
}

// Pause turns every instrumentation call into a no-op. Idempotent.
func (s *Service) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		s.epoch.Add(1)
		s.logger.Debug("profiler paused")
	}
}

// Resume re-enables recording. Idempotent.
func (s *Service) Resume() {
	if s.closed.Load() {
		return
	}
	if s.paused.CompareAndSwap(true, false) {
		s.logger.Debug("profiler resumed")
	}
}

// Paused reports whether recording is paused.
func (s *Service) Paused() bool {
	return s.paused.Load()
}

// SetMaxHistoryAge sets how long a sealed root stays in history after it
// ended. Negative values are treated as zero.
func (s *Service) SetMaxHistoryAge(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.maxAge.Store(int64(d))
}

// MaxHistoryAge returns the retention age.
func (s *Service) MaxHistoryAge() time.Duration {
	return time.Duration(s.maxAge.Load())
}

// EndFrame is the service-wide end of frame step: every root that ended more
// than MaxHistoryAge ago loses its history reference, and is returned to the
// pool unless a reader still holds it. Returns the number of roots evicted.
func (s *Service) EndFrame() int {
	now := s.clock.Now()
	maxAge := utils.DurationToTicks(s.clock, s.MaxHistoryAge())

	s.mu.Lock()
	expired := s.history.expired(now, maxAge)
	for _, i := range expired {
		s.releaseLocked(s.history.clear(i))
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Debug("evicted %d expired roots", len(expired))
		s.notifyEvicted(len(expired))
	}
	return len(expired)
}

// Shutdown pauses the service permanently and drops every history
// reference. Handles acquired before Shutdown stay valid until released.
func (s *Service) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.Pause()

	s.mu.Lock()
	dropped := 0
	for i := range s.history.slots {
		if root := s.history.clear(i); root != nil {
			s.releaseLocked(root)
			dropped++
		}
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.notifyEvicted(dropped)
	}
	s.logger.Debug("profiler shut down, dropped %d roots", dropped)
}

// seal moves a finished root into history.
func (s *Service) seal(root *Node) {
	nodes := 0
	if len(s.observers) > 0 {
		nodes = root.Count()
	}

	s.mu.Lock()
	evicted := 0
	if s.history.full() {
		if i := s.history.oldest(); i >= 0 {
			s.releaseLocked(s.history.clear(i))
			evicted++
		}
	}
	s.seq++
	root.seq = s.seq
	s.history.insert(root)
	s.mu.Unlock()

	if evicted > 0 {
		s.notifyEvicted(evicted)
	}
	for _, o := range s.observers {
		o.RootSealed(root.thread, nodes)
	}
}

// retainLocked adds one reference to every node of the subtree.
func (s *Service) retainLocked(n *Node) {
	n.refs++
	for _, c := range n.children {
		s.retainLocked(c)
	}
}

// releaseLocked drops one reference from every node of the subtree,
// recycling children before their parent once a count reaches zero.
func (s *Service) releaseLocked(n *Node) {
	for _, c := range n.children {
		s.releaseLocked(c)
	}
	n.refs--
	if n.refs <= 0 {
		s.pool.recycle(n)
	}
}

func (s *Service) usageError(r *Recorder, err *perrors.AppError) {
	s.logger.WithFields(map[string]interface{}{
		"thread":   r.id,
		"recorder": r.name,
	}).Warn("%v", err)
	for _, o := range s.observers {
		o.UsageError(err.Code)
	}
}

func (s *Service) notifyEvicted(n int) {
	for _, o := range s.observers {
		o.RootsEvicted(n)
	}
}

// HistoryLen returns the number of roots currently retained.
func (s *Service) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.used
}

// Threads returns the IDs of threads with at least one retained root.
func (s *Service) Threads() []ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.threads()
}

// ThreadInfo describes a Recorder known to the service.
type ThreadInfo struct {
	ID    ThreadID
	Name  string
	Roots int
}

// ThreadInfos lists every Recorder with its retained root count, by ID.
func (s *Service) ThreadInfos() []ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ThreadInfo, 0, len(s.recorders))
	for id, name := range s.recorders {
		infos = append(infos, ThreadInfo{ID: id, Name: name, Roots: s.history.count(id)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// MemoryStats are the allocation totals attributed through every Recorder.
type MemoryStats struct {
	// Bytes is bytes allocated minus bytes freed.
	Bytes  int64
	Allocs uint64
	Frees  uint64
}

// MemoryStats returns the service-wide allocation totals.
func (s *Service) MemoryStats() MemoryStats {
	return MemoryStats{
		Bytes:  s.memBytes.Load(),
		Allocs: s.memAllocs.Load(),
		Frees:  s.memFrees.Load(),
	}
}

// Stats is a snapshot of service state.
type Stats struct {
	LiveNodes      int64
	AllocatedNodes int64
	HistoryRoots   int
	HistorySlots   int
	Recorders      int
	Paused         bool
	MaxHistoryAge  time.Duration
	Memory         MemoryStats
}

// Stats returns a snapshot of service state.
func (s *Service) Stats() Stats {
	ps := s.pool.stats()

	s.mu.Lock()
	roots := s.history.used
	slots := len(s.history.slots)
	recorders := len(s.recorders)
	s.mu.Unlock()

	return Stats{
		LiveNodes:      ps.Live,
		AllocatedNodes: ps.Allocated,
		HistoryRoots:   roots,
		HistorySlots:   slots,
		Recorders:      recorders,
		Paused:         s.Paused(),
		MaxHistoryAge:  s.MaxHistoryAge(),
		Memory:         s.MemoryStats(),
	}
}
