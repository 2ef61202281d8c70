package report

import (
	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/profiler"
)

// BuildHistory aggregates up to limit of thread's retained trees, newest
// first, into one report. limit 0 takes every retained tree. The set of trees
// is pinned in one step, so seals and evictions running meanwhile neither
// repeat nor skip a tree.
func BuildHistory(svc *profiler.Service, thread profiler.ThreadID, mode Mode, less Less, limit int) (*Report, error) {
	return BuildThreads(svc, []profiler.ThreadID{thread}, mode, less, limit)
}

// BuildThreads is BuildHistory over several threads: up to limit trees of
// each thread are merged into the same report.
func BuildThreads(svc *profiler.Service, threads []profiler.ThreadID, mode Mode, less Less, limit int) (*Report, error) {
	if limit < 0 {
		return nil, perrors.Newf(perrors.CodeInvalidInput, "negative tree limit %d", limit)
	}

	r := New()
	r.mode = mode
	for _, thread := range threads {
		if err := r.appendHistory(svc, thread, limit); err != nil {
			return nil, err
		}
	}
	if r.Roots() == 0 {
		return nil, perrors.Newf(perrors.CodeNotFound, "no trees recorded for threads %v", threads)
	}

	if less != nil {
		r.Sort(less)
	}
	return r, nil
}

func (r *Report) appendHistory(svc *profiler.Service, thread profiler.ThreadID, limit int) error {
	handles, err := svc.AcquireRange(thread, limit)
	if perrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, h := range handles {
		r.Append(r.mode, h.Root())
	}
	return profiler.ReleaseAll(handles)
}
