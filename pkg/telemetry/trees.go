package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/utils"
)

// Span attribute keys.
const (
	AttrThread       = attribute.Key("profiler.thread")
	AttrThreadName   = attribute.Key("profiler.thread_name")
	AttrAllocs       = attribute.Key("profiler.allocs")
	AttrFrees        = attribute.Key("profiler.frees")
	AttrBytesAlloced = attribute.Key("profiler.bytes_alloced")
	AttrBytesFreed   = attribute.Key("profiler.bytes_freed")
)

// WallClock is implemented by tick clocks that can map a tick back to wall
// time, such as utils.MonotonicClock.
type WallClock interface {
	Wall(t utils.Tick) time.Time
}

// wallTime returns a tick to wall time mapping for clock. Clocks without a
// Wall method are anchored at the current instant.
func wallTime(clock utils.TickClock) func(utils.Tick) time.Time {
	if wc, ok := clock.(WallClock); ok {
		return wc.Wall
	}
	anchorWall, anchorTick := time.Now(), clock.Now()
	return func(t utils.Tick) time.Time {
		return anchorWall.Add(-utils.TicksToDuration(clock, anchorTick-t))
	}
}

// ExportTree replays the tree under root as one span per scope, children
// nested under their parents, and returns the number of spans started. The
// caller must hold the tree (through a profiler.Handle) for the duration.
func ExportTree(ctx context.Context, tracer trace.Tracer, root *profiler.Node, clock utils.TickClock, threadName string) int {
	if root == nil {
		return 0
	}
	wall := wallTime(clock)
	common := []attribute.KeyValue{AttrThread.Int64(int64(root.Thread()))}
	if threadName != "" {
		common = append(common, AttrThreadName.String(threadName))
	}
	return exportNode(ctx, tracer, root, wall, common)
}

func exportNode(ctx context.Context, tracer trace.Tracer, n *profiler.Node, wall func(utils.Tick) time.Time, common []attribute.KeyValue) int {
	attrs := append([]attribute.KeyValue{}, common...)
	if n.AllocCount() > 0 || n.FreeCount() > 0 {
		attrs = append(attrs,
			AttrAllocs.Int64(int64(n.AllocCount())),
			AttrFrees.Int64(int64(n.FreeCount())),
			AttrBytesAlloced.Int64(int64(n.BytesAlloced())),
			AttrBytesFreed.Int64(int64(n.BytesFreed())),
		)
	}

	ctx, span := tracer.Start(ctx, n.Label(),
		trace.WithTimestamp(wall(n.Start())),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	count := 1
	for _, c := range n.Children() {
		count += exportNode(ctx, tracer, c, wall, common)
	}
	span.End(trace.WithTimestamp(wall(n.End())))
	return count
}

// ExportLatest exports the most recent tree of every thread with history and
// returns the number of spans started.
func ExportLatest(ctx context.Context, svc *profiler.Service, tracer trace.Tracer) (int, error) {
	total := 0
	for _, thread := range svc.Threads() {
		h, err := svc.Acquire(thread, 0)
		if err != nil {
			// evicted between Threads and Acquire
			continue
		}
		name, _ := svc.ThreadName(thread)
		total += ExportTree(ctx, tracer, h.Root(), svc.Clock(), name)
		if err := h.Release(); err != nil {
			return total, err
		}
	}
	return total, nil
}
