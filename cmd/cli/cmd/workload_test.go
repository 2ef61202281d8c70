//go:build !noprofile

package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scope-profiler/pkg/console"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/report"
	"github.com/scope-profiler/pkg/utils"
)

func TestWorkload_RecordsFrames(t *testing.T) {
	svc := profiler.New(profiler.WithMaxHistoryAge(time.Minute), profiler.WithHistoryCapacity(64))
	defer svc.Shutdown()

	wl := &workload{svc: svc, workers: 3, frames: 5, logger: &utils.NullLogger{}}
	require.NoError(t, wl.run(context.Background()))

	infos := svc.ThreadInfos()
	require.Len(t, infos, 3)
	for _, info := range infos {
		assert.Equal(t, 5, info.Roots, info.Name)
	}

	h, err := svc.Acquire(infos[0].ID, 0)
	require.NoError(t, err)
	defer h.Release()

	root := h.Root()
	assert.Equal(t, profiler.DefaultFrameLabel, root.Label())
	require.Len(t, root.Children(), len(subsystems))
	for i, sub := range subsystems {
		child := root.Children()[i]
		assert.Equal(t, sub.name, child.Label())
		assert.Len(t, child.Children(), len(sub.children))
	}
}

func TestWorkload_StopsOnCancel(t *testing.T) {
	svc := profiler.New()
	defer svc.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	wl := &workload{svc: svc, workers: 2, interval: time.Millisecond, logger: &utils.NullLogger{}}
	assert.NoError(t, wl.run(ctx))
	assert.Len(t, svc.Threads(), 2)
}

func TestPrintReports(t *testing.T) {
	svc := profiler.New(profiler.WithMaxHistoryAge(time.Minute), profiler.WithHistoryCapacity(64))
	defer svc.Shutdown()

	wl := &workload{svc: svc, workers: 2, frames: 3, logger: &utils.NullLogger{}}
	require.NoError(t, wl.run(context.Background()))

	settings := console.ReportSettings{Mode: report.ModeTree, Sort: report.ByTotalDesc}

	var out bytes.Buffer
	require.NoError(t, printReports(&out, svc, settings, 0, false))
	assert.Contains(t, out.String(), "worker-0 (thread")
	assert.Contains(t, out.String(), "3 of 3 trees")
	assert.Contains(t, out.String(), "physics")

	out.Reset()
	require.NoError(t, printReports(&out, svc, settings, 1, true))
	assert.Contains(t, out.String(), "worker (2 threads): 2 of 6 trees")
}
