//go:build !noprofile

package profiler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/scope-profiler/pkg/errors"
)

type recordingObserver struct {
	mu      sync.Mutex
	sealed  int
	nodes   int
	evicted int
	codes   []string
}

func (o *recordingObserver) RootSealed(_ ThreadID, nodes int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sealed++
	o.nodes += nodes
}

func (o *recordingObserver) RootsEvicted(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evicted += count
}

func (o *recordingObserver) UsageError(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = append(o.codes, code)
}

func recordRoot(rec *Recorder, label string, children ...string) {
	rec.Push(label)
	for _, c := range children {
		rec.Push(c)
		_ = rec.Pop()
	}
	_ = rec.Pop()
}

func TestService_Defaults(t *testing.T) {
	svc := New()
	assert.Equal(t, DefaultMaxHistoryAge, svc.MaxHistoryAge())
	assert.False(t, svc.Paused())

	stats := svc.Stats()
	assert.Equal(t, DefaultHistoryCapacity, stats.HistorySlots)
	assert.Equal(t, 0, stats.HistoryRoots)

	assert.Same(t, Default(), Default())
}

func TestService_ThreadIDsUnique(t *testing.T) {
	svc, _ := newTestService(t)
	a := svc.NewRecorder("a")
	b := svc.NewRecorder("b")
	assert.NotEqual(t, a.ThreadID(), b.ThreadID())

	name, ok := svc.ThreadName(b.ThreadID())
	assert.True(t, ok)
	assert.Equal(t, "b", name)

	_, ok = svc.ThreadName(ThreadID(999))
	assert.False(t, ok)
}

func TestService_AcquireOffsets(t *testing.T) {
	svc, _ := newTestService(t)
	rec := svc.NewRecorder("main")
	other := svc.NewRecorder("other")

	recordRoot(rec, "r0")
	recordRoot(other, "o0")
	recordRoot(rec, "r1")
	recordRoot(rec, "r2")

	tests := []struct {
		offset   int
		expected string
	}{
		{0, "r2"},
		{1, "r1"},
		{2, "r0"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("offset %d", tt.offset), func(t *testing.T) {
			h, err := svc.Acquire(rec.ThreadID(), tt.offset)
			require.NoError(t, err)
			defer h.Release()
			assert.Equal(t, tt.expected, h.Root().Label())
			assert.Equal(t, rec.ThreadID(), h.Thread())
		})
	}

	_, err := svc.Acquire(rec.ThreadID(), 3)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
	assert.True(t, perrors.IsNotFound(err))

	_, err = svc.Acquire(rec.ThreadID(), -1)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)

	_, err = svc.Acquire(ThreadID(12345), 0)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestService_AcquireRecencyAfterSlotReuse(t *testing.T) {
	svc, clock := newTestService(t, WithMaxHistoryAge(10*time.Millisecond))
	rec := svc.NewRecorder("main")

	recordRoot(rec, "old")
	clock.Advance(5 * time.Millisecond)
	recordRoot(rec, "middle")
	clock.Advance(6 * time.Millisecond)
	// "old" expires, freeing slot 0
	assert.Equal(t, 1, svc.EndFrame())

	// lands in slot 0, ahead of "middle" in slot order
	recordRoot(rec, "new")

	h, err := svc.Acquire(rec.ThreadID(), 0)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, "new", h.Root().Label())

	h1, err := svc.Acquire(rec.ThreadID(), 1)
	require.NoError(t, err)
	defer h1.Release()
	assert.Equal(t, "middle", h1.Root().Label())
}

func TestService_AcquireRange(t *testing.T) {
	svc, _ := newTestService(t)
	rec := svc.NewRecorder("main")
	other := svc.NewRecorder("other")
	for _, label := range []string{"r0", "r1", "r2"} {
		recordRoot(rec, label)
	}
	recordRoot(other, "x")

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"all", 0, []string{"r2", "r1", "r0"}},
		{"limited", 2, []string{"r2", "r1"}},
		{"more than retained", 10, []string{"r2", "r1", "r0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handles, err := svc.AcquireRange(rec.ThreadID(), tt.limit)
			require.NoError(t, err)
			var got []string
			for _, h := range handles {
				got = append(got, h.Root().Label())
				assert.Equal(t, rec.ThreadID(), h.Thread())
			}
			assert.Equal(t, tt.want, got)
			require.NoError(t, ReleaseAll(handles))
		})
	}

	_, err := svc.AcquireRange(rec.ThreadID(), -1)
	assert.Equal(t, perrors.CodeInvalidInput, perrors.GetErrorCode(err))
	_, err = svc.AcquireRange(ThreadID(99), 0)
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestService_AcquireRangeOutlivesEviction(t *testing.T) {
	svc, clock := newTestService(t, WithMaxHistoryAge(time.Millisecond))
	rec := svc.NewRecorder("main")
	recordRoot(rec, "r0", "a")
	recordRoot(rec, "r1", "b")

	handles, err := svc.AcquireRange(rec.ThreadID(), 0)
	require.NoError(t, err)
	require.Len(t, handles, 2)

	clock.Advance(2 * time.Millisecond)
	assert.Equal(t, 2, svc.EndFrame())
	assert.Equal(t, "b", handles[0].Root().Children()[0].Label())
	assert.Equal(t, "a", handles[1].Root().Children()[0].Label())

	require.NoError(t, ReleaseAll(handles))
	assert.Equal(t, int64(0), svc.Stats().LiveNodes)
	assert.ErrorIs(t, ReleaseAll(handles), perrors.ErrStaleHandle)
}

func TestService_AcquireRangeWhileSealing(t *testing.T) {
	svc, _ := newTestService(t, WithMaxRoots(64))
	rec := svc.NewRecorder("producer")
	recordRoot(rec, "f0")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			recordRoot(rec, fmt.Sprintf("f%d", i))
		}
	}()

	for iter := 0; iter < 200; iter++ {
		handles, err := svc.AcquireRange(rec.ThreadID(), 32)
		require.NoError(t, err)
		seen := make(map[string]bool, len(handles))
		for _, h := range handles {
			label := h.Root().Label()
			assert.False(t, seen[label], "root %q pinned twice", label)
			seen[label] = true
		}
		require.NoError(t, ReleaseAll(handles))
	}
	close(done)
	wg.Wait()
}

func TestService_HistoryAgeBoundary(t *testing.T) {
	svc, clock := newTestService(t, WithMaxHistoryAge(time.Second))
	rec := svc.NewRecorder("main")

	recordRoot(rec, "root")
	require.Equal(t, 1, svc.HistoryLen())

	clock.Advance(time.Second)
	assert.Equal(t, 0, svc.EndFrame(), "age equal to the limit is retained")
	assert.Equal(t, 1, svc.HistoryLen())

	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, svc.EndFrame())
	assert.Equal(t, 0, svc.HistoryLen())
	assert.Equal(t, int64(0), svc.Stats().LiveNodes)
}

func TestService_SetMaxHistoryAge(t *testing.T) {
	svc, clock := newTestService(t)
	rec := svc.NewRecorder("main")
	recordRoot(rec, "root")

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 0, svc.EndFrame())

	svc.SetMaxHistoryAge(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, svc.MaxHistoryAge())
	assert.Equal(t, 1, svc.EndFrame())

	svc.SetMaxHistoryAge(-time.Second)
	assert.Equal(t, time.Duration(0), svc.MaxHistoryAge())
}

func TestService_HandleOutlivesEviction(t *testing.T) {
	svc, clock := newTestService(t, WithMaxHistoryAge(time.Millisecond))
	rec := svc.NewRecorder("main")

	recordRoot(rec, "root", "a", "b")
	h, err := svc.Acquire(rec.ThreadID(), 0)
	require.NoError(t, err)

	clock.Advance(time.Second)
	assert.Equal(t, 1, svc.EndFrame())
	assert.Equal(t, 0, svc.HistoryLen())

	// still readable while pinned
	assert.Equal(t, int64(3), svc.Stats().LiveNodes)
	assert.Equal(t, "root", h.Root().Label())
	assert.Equal(t, []string{"a", "b"}, []string{h.Root().Children()[0].Label(), h.Root().Children()[1].Label()})

	require.NoError(t, h.Release())
	assert.True(t, h.Released())
	assert.Equal(t, int64(0), svc.Stats().LiveNodes)
}

func TestService_DoubleRelease(t *testing.T) {
	svc, _ := newTestService(t)
	rec := svc.NewRecorder("main")
	recordRoot(rec, "root")

	h, err := svc.Acquire(rec.ThreadID(), 0)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	err = h.Release()
	assert.ErrorIs(t, err, perrors.ErrStaleHandle)
	assert.Equal(t, 1, svc.HistoryLen())
	assert.Equal(t, int64(1), svc.Stats().LiveNodes)

	var nilHandle *Handle
	assert.Error(t, nilHandle.Release())
}

func TestService_RefCountConservation(t *testing.T) {
	svc, clock := newTestService(t, WithMaxHistoryAge(time.Millisecond))
	rec := svc.NewRecorder("main")

	for i := 0; i < 10; i++ {
		recordRoot(rec, "root", "a", "b", "c")
	}
	assert.Equal(t, int64(40), svc.Stats().LiveNodes)

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := svc.Acquire(rec.ThreadID(), i)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	// a second reader on the same tree
	h, err := svc.Acquire(rec.ThreadID(), 0)
	require.NoError(t, err)
	handles = append(handles, h)

	clock.Advance(time.Second)
	assert.Equal(t, 10, svc.EndFrame())
	assert.Equal(t, int64(12), svc.Stats().LiveNodes)

	for _, h := range handles {
		require.NoError(t, h.Release())
	}
	assert.Equal(t, int64(0), svc.Stats().LiveNodes)
}

func TestService_MaxRoots(t *testing.T) {
	obs := &recordingObserver{}
	svc, _ := newTestService(t, WithMaxRoots(3), WithObserver(obs))
	rec := svc.NewRecorder("main")

	for i := 0; i < 5; i++ {
		recordRoot(rec, fmt.Sprintf("r%d", i))
	}
	assert.Equal(t, 3, svc.HistoryLen())
	assert.Equal(t, 2, obs.evicted)
	assert.Equal(t, 5, obs.sealed)

	h, err := svc.Acquire(rec.ThreadID(), 2)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, "r2", h.Root().Label())
}

func TestService_HistoryGrowsPastCapacity(t *testing.T) {
	svc := New(WithHistoryCapacity(2))
	rec := svc.NewRecorder("main")
	for i := 0; i < 5; i++ {
		recordRoot(rec, "root")
	}
	assert.Equal(t, 5, svc.HistoryLen())
	assert.GreaterOrEqual(t, svc.Stats().HistorySlots, 5)
}

func TestService_Observer(t *testing.T) {
	obs := &recordingObserver{}
	svc, clock := newTestService(t, WithObserver(obs), WithMaxHistoryAge(time.Millisecond))
	rec := svc.NewRecorder("main")

	recordRoot(rec, "root", "a", "b")
	_ = rec.Pop()
	clock.Advance(time.Second)
	svc.EndFrame()

	assert.Equal(t, 1, obs.sealed)
	assert.Equal(t, 3, obs.nodes)
	assert.Equal(t, 1, obs.evicted)
	assert.Equal(t, []string{perrors.CodeUnbalancedPop}, obs.codes)
}

func TestService_PauseKeepsHistoryReadable(t *testing.T) {
	svc, clock := newTestService(t)
	rec := svc.NewRecorder("main")
	recordRoot(rec, "root")

	svc.Pause()
	svc.Pause()
	assert.True(t, svc.Paused())

	h, err := svc.Acquire(rec.ThreadID(), 0)
	require.NoError(t, err)
	assert.Equal(t, "root", h.Root().Label())
	require.NoError(t, h.Release())

	// eviction still runs while paused
	clock.Advance(2 * DefaultMaxHistoryAge)
	assert.Equal(t, 1, svc.EndFrame())

	svc.Resume()
	svc.Resume()
	assert.False(t, svc.Paused())
}

func TestService_StartPaused(t *testing.T) {
	svc, _ := newTestService(t, WithPaused(true))
	rec := svc.NewRecorder("main")
	recordRoot(rec, "root")
	assert.Equal(t, 0, svc.HistoryLen())
}

func TestService_Shutdown(t *testing.T) {
	svc, _ := newTestService(t)
	rec := svc.NewRecorder("main")
	recordRoot(rec, "r0")
	recordRoot(rec, "r1")

	h, err := svc.Acquire(rec.ThreadID(), 0)
	require.NoError(t, err)

	svc.Shutdown()
	svc.Shutdown()
	assert.True(t, svc.Paused())
	assert.Equal(t, 0, svc.HistoryLen())

	svc.Resume()
	assert.True(t, svc.Paused(), "resume after shutdown is refused")

	assert.Equal(t, "r1", h.Root().Label())
	require.NoError(t, h.Release())
	assert.Equal(t, int64(0), svc.Stats().LiveNodes)
}

func TestService_ThreadsAndInfos(t *testing.T) {
	svc, _ := newTestService(t)
	a := svc.NewRecorder("a")
	b := svc.NewRecorder("b")
	idle := svc.NewRecorder("idle")

	recordRoot(a, "x")
	recordRoot(a, "y")
	recordRoot(b, "z")

	assert.Equal(t, []ThreadID{a.ThreadID(), b.ThreadID()}, svc.Threads())

	infos := svc.ThreadInfos()
	require.Len(t, infos, 3)
	assert.Equal(t, ThreadInfo{ID: a.ThreadID(), Name: "a", Roots: 2}, infos[0])
	assert.Equal(t, ThreadInfo{ID: b.ThreadID(), Name: "b", Roots: 1}, infos[1])
	assert.Equal(t, ThreadInfo{ID: idle.ThreadID(), Name: "idle", Roots: 0}, infos[2])
}

func TestService_ConcurrentRecorders(t *testing.T) {
	svc := New(WithMaxHistoryAge(time.Hour))

	const workers = 8
	const frames = 50

	var wg sync.WaitGroup
	recs := make([]*Recorder, workers)
	for i := range recs {
		recs[i] = svc.NewRecorder(fmt.Sprintf("worker-%d", i))
	}

	for _, rec := range recs {
		wg.Add(1)
		go func(rec *Recorder) {
			defer wg.Done()
			for f := 0; f < frames; f++ {
				_ = rec.BeginFrame("frame")
				rec.Time("update", func() {
					rec.RecordAllocation(8)
				})
				rec.Time("render", func() {})
				_ = rec.EndFrame()
			}
		}(rec)
	}

	// readers pin trees while producers record
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, rec := range recs {
				if h, err := svc.Acquire(rec.ThreadID(), 0); err == nil {
					_ = h.Root().Count()
					_ = h.Release()
				}
			}
			svc.EndFrame()
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, workers*frames, svc.HistoryLen())
	assert.Equal(t, int64(workers*frames*3), svc.Stats().LiveNodes)
	assert.Equal(t, uint64(workers*frames), svc.MemoryStats().Allocs)

	svc.Shutdown()
	assert.Equal(t, int64(0), svc.Stats().LiveNodes)
}

// A game-loop style run against the real clock: two frames with nested
// scopes, then a reader inspects the latest one.
func TestService_FrameLoopWallClock(t *testing.T) {
	svc := New()
	rec := svc.NewRecorder("main")

	for frame := 0; frame < 2; frame++ {
		require.NoError(t, rec.BeginFrame("frame"))
		rec.Time("update", func() {
			time.Sleep(2 * time.Millisecond)
		})
		rec.Time("render", func() {
			rec.Time("draw", func() {
				time.Sleep(time.Millisecond)
			})
		})
		require.NoError(t, rec.EndFrame())
		svc.EndFrame()
	}

	h, err := svc.AcquireLatest(rec, 0)
	require.NoError(t, err)
	defer h.Release()

	root := h.Root()
	tps := svc.Clock().TicksPerSecond()
	assert.GreaterOrEqual(t, float64(root.LifeTime())/float64(tps), 0.003)
	require.Len(t, root.Children(), 2)

	update, render := root.Children()[0], root.Children()[1]
	assert.Equal(t, "update", update.Label())
	assert.Equal(t, "render", render.Label())
	assert.GreaterOrEqual(t, float64(update.LifeTime())/float64(tps), 0.002)
	assert.LessOrEqual(t, update.LifeTime()+render.LifeTime(), root.LifeTime())
	assert.Equal(t, "draw", render.Children()[0].Label())
}
