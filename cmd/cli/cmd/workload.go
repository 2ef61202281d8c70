package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/utils"
)

// subsystem is one simulated stage of a frame.
type subsystem struct {
	name     string
	children []string
	cost     time.Duration // upper bound of busy time per scope
	alloc    uint64        // upper bound of bytes allocated per scope
}

var subsystems = []subsystem{
	{name: "input", cost: 40 * time.Microsecond},
	{name: "physics", children: []string{"broadphase", "narrowphase", "integrate"}, cost: 250 * time.Microsecond, alloc: 64 << 10},
	{name: "ai", children: []string{"perception", "pathfind"}, cost: 180 * time.Microsecond, alloc: 16 << 10},
	{name: "audio", cost: 60 * time.Microsecond, alloc: 4 << 10},
	{name: "render", children: []string{"cull", "draw", "present"}, cost: 300 * time.Microsecond, alloc: 128 << 10},
}

// workload drives recorders the way a frame loop would: every worker owns a
// Recorder and records one tree per frame, and a collector goroutine runs the
// service's end of frame eviction.
type workload struct {
	svc      *profiler.Service
	workers  int
	frames   int // 0 runs until the context is done
	interval time.Duration
	logger   utils.Logger
}

func (w *workload) run(ctx context.Context) error {
	gcCtx, stopGC := context.WithCancel(ctx)
	gcDone := make(chan struct{})
	go func() {
		defer close(gcDone)
		w.collect(gcCtx)
	}()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		id := i
		g.Go(func() error {
			return w.worker(ctx, id)
		})
	}
	err := g.Wait()

	stopGC()
	<-gcDone
	return err
}

// collect evicts expired roots once per frame interval.
func (w *workload) collect(ctx context.Context) {
	interval := w.interval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.svc.EndFrame(); n > 0 {
				w.logger.Debug("evicted %d roots", n)
			}
		}
	}
}

func (w *workload) worker(ctx context.Context, id int) error {
	rec := w.svc.NewRecorder(fmt.Sprintf("worker-%d", id))
	log := w.logger.WithFields(map[string]interface{}{
		"recorder": rec.Name(),
		"thread":   rec.ThreadID(),
	})
	rng := rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))

	var pace <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	frames := 0
	for w.frames == 0 || frames < w.frames {
		if err := rec.BeginFrame(""); err != nil {
			log.Warn("begin frame: %v", err)
		}
		w.frame(rec, rng)
		if err := rec.EndFrame(); err != nil {
			log.Warn("end frame: %v", err)
		}
		frames++

		if pace != nil {
			select {
			case <-ctx.Done():
			case <-pace:
			}
		}
		if err := ctx.Err(); err != nil {
			log.Debug("stopped after %d frames", frames)
			if w.frames == 0 {
				return nil
			}
			return err
		}
	}
	log.Debug("recorded %d frames", frames)
	return nil
}

// frame records one frame's worth of subsystems. Memory allocated in a
// subsystem is mostly freed before the frame ends.
func (w *workload) frame(rec *profiler.Recorder, rng *rand.Rand) {
	for _, sub := range subsystems {
		s := rec.Scope(sub.name)
		var held uint64
		if sub.alloc > 0 {
			held = 1 + rng.Uint64N(sub.alloc)
			rec.RecordAllocation(held)
		}
		spin(jitter(rng, sub.cost/4))
		for _, child := range sub.children {
			rec.Time(child, func() {
				spin(jitter(rng, sub.cost/time.Duration(len(sub.children))))
			})
		}
		if held > 0 && rng.IntN(10) > 0 {
			rec.RecordFree(held)
		}
		s.End()
	}
}

func jitter(rng *rand.Rand, limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rng.Int64N(int64(limit)))
}

// spin busy-waits for d. Sleeping is far coarser than the scopes it stands
// in for.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
