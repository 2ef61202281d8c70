package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/profiling"
	"github.com/scope-profiler/pkg/report"
	"github.com/scope-profiler/pkg/snapshot"
)

// ReportSettings are the defaults profiler_report falls back to.
type ReportSettings struct {
	Mode report.Mode
	Sort report.Less
	Top  int
	// Table renders an ASCII table instead of fixed-width lines.
	Table bool
	// Thread is used when the command names none. 0 picks the lowest thread
	// with history.
	Thread profiler.ThreadID
}

type profilerCommands struct {
	svc      *profiler.Service
	settings ReportSettings
}

// RegisterProfiler adds the profiler control and reporting commands.
func RegisterProfiler(r *Registry, svc *profiler.Service, settings ReportSettings) error {
	if settings.Sort == nil {
		settings.Sort = report.ByTotalDesc
	}
	pc := &profilerCommands{svc: svc, settings: settings}

	cmds := []Command{
		{Name: "profiler_pause", Help: "stop recording scopes", Run: pc.pause},
		{Name: "profiler_resume", Help: "resume recording scopes", Run: pc.resume},
		{Name: "profiler_history_age", Usage: "[duration|seconds]", Help: "show or set how long finished trees are kept", Run: pc.historyAge},
		{Name: "profiler_report", Usage: "[tree|flat] [thread] [offset]", Help: "print an aggregated report of a recorded tree", Run: pc.report},
		{Name: "profiler_threads", Help: "list recorders and their retained trees", Run: pc.threads},
		{Name: "profiler_stats", Help: "show pool, history and memory counters", Run: pc.stats},
		{Name: "profiler_dump", Usage: "<file> [thread] [offset]", Help: "write a recorded tree as JSON (.gz/.zst compress)", Run: pc.dump},
		{Name: "profiler_folded", Usage: "<file|-> [thread] [offset]", Help: "write a recorded tree as folded stacks for flame graphs", Run: pc.folded},
	}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (pc *profilerCommands) pause(_ context.Context, out io.Writer, _ []string) error {
	pc.svc.Pause()
	fmt.Fprintln(out, "profiler paused")
	return nil
}

func (pc *profilerCommands) resume(_ context.Context, out io.Writer, _ []string) error {
	pc.svc.Resume()
	if pc.svc.Paused() {
		fmt.Fprintln(out, "profiler is shut down")
		return nil
	}
	fmt.Fprintln(out, "profiler resumed")
	return nil
}

func (pc *profilerCommands) historyAge(_ context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(out, "max history age: %s\n", pc.svc.MaxHistoryAge())
		return nil
	}
	d, err := ParseAge(args[0])
	if err != nil {
		return err
	}
	pc.svc.SetMaxHistoryAge(d)
	fmt.Fprintf(out, "max history age set to %s\n", pc.svc.MaxHistoryAge())
	return nil
}

// ParseAge accepts a Go duration ("1.5s", "250ms") or plain seconds ("2").
func ParseAge(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, perrors.Newf(perrors.CodeInvalidInput, "negative history age %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, perrors.Wrap(perrors.CodeInvalidInput, fmt.Sprintf("bad history age %q", s), err)
	}
	if d < 0 {
		return 0, perrors.Newf(perrors.CodeInvalidInput, "negative history age %q", s)
	}
	return d, nil
}

func (pc *profilerCommands) report(_ context.Context, out io.Writer, args []string) error {
	mode := pc.settings.Mode
	if len(args) > 0 {
		if m, err := report.ParseMode(args[0]); err == nil {
			mode = m
			args = args[1:]
		}
	}

	thread, offset, err := pc.target(args)
	if err != nil {
		return err
	}

	h, err := pc.svc.Acquire(thread, offset)
	if err != nil {
		return err
	}
	rep, err := report.Build(h, mode, pc.settings.Sort)
	if relErr := h.Release(); relErr != nil && err == nil {
		err = relErr
	}
	if err != nil {
		return err
	}

	w := report.NewWriter(pc.svc.Clock(), report.WithTop(pc.settings.Top))
	if pc.settings.Table {
		w.Table(out, rep)
		return nil
	}
	return w.Text(out, rep)
}

func (pc *profilerCommands) threads(_ context.Context, out io.Writer, _ []string) error {
	for _, info := range pc.svc.ThreadInfos() {
		fmt.Fprintf(out, "%6d  %-24s %-16s %d trees\n", info.ID, info.Name, profiling.ThreadGroup(info.Name), info.Roots)
	}
	return nil
}

func (pc *profilerCommands) stats(_ context.Context, out io.Writer, _ []string) error {
	s := pc.svc.Stats()
	fmt.Fprintf(out, "paused:          %t\n", s.Paused)
	fmt.Fprintf(out, "max history age: %s\n", s.MaxHistoryAge)
	fmt.Fprintf(out, "history:         %d roots in %d slots\n", s.HistoryRoots, s.HistorySlots)
	fmt.Fprintf(out, "nodes:           %s live, %s allocated\n",
		humanize.Comma(s.LiveNodes), humanize.Comma(s.AllocatedNodes))
	fmt.Fprintf(out, "recorders:       %d\n", s.Recorders)
	fmt.Fprintf(out, "memory:          %s outstanding, %s allocs, %s frees\n",
		signedBytes(s.Memory.Bytes), humanize.Comma(int64(s.Memory.Allocs)), humanize.Comma(int64(s.Memory.Frees)))
	return nil
}

func signedBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func (pc *profilerCommands) dump(_ context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return perrors.New(perrors.CodeInvalidInput, "usage: profiler_dump <file> [thread] [offset]")
	}
	path := args[0]

	thread, offset, err := pc.target(args[1:])
	if err != nil {
		return err
	}
	h, err := pc.svc.Acquire(thread, offset)
	if err != nil {
		return err
	}
	snap := snapshot.FromHandle(pc.svc, h)
	if err := h.Release(); err != nil {
		return err
	}

	res, err := snapshot.WriteFile(snap, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d nodes, %s, %s)\n",
		path, snap.Nodes, humanize.IBytes(uint64(res.CompressedSize)), res.Codec)
	return nil
}

func (pc *profilerCommands) folded(_ context.Context, out io.Writer, args []string) error {
	if len(args) == 0 {
		return perrors.New(perrors.CodeInvalidInput, "usage: profiler_folded <file|-> [thread] [offset]")
	}
	path := args[0]

	thread, offset, err := pc.target(args[1:])
	if err != nil {
		return err
	}
	h, err := pc.svc.Acquire(thread, offset)
	if err != nil {
		return err
	}
	stacks := profiling.Fold(h.Root(), pc.svc.Clock())
	if err := h.Release(); err != nil {
		return err
	}

	if path == "-" {
		_, err := profiling.WriteFolded(out, stacks)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return perrors.Wrap(perrors.CodeInvalidInput, "create "+path, err)
	}
	n, err := profiling.WriteFolded(f, stacks)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d stacks)\n", path, n)
	return nil
}

// target resolves the optional [thread] [offset] arguments. thread may be a
// numeric ID or a recorder name.
func (pc *profilerCommands) target(args []string) (profiler.ThreadID, int, error) {
	thread := pc.settings.Thread
	offset := 0

	if len(args) > 0 {
		id, err := pc.resolveThread(args[0])
		if err != nil {
			return 0, 0, err
		}
		thread = id
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return 0, 0, perrors.Newf(perrors.CodeInvalidInput, "bad offset %q", args[1])
		}
		offset = n
	}
	if len(args) > 2 {
		return 0, 0, perrors.Newf(perrors.CodeInvalidInput, "unexpected arguments %s", strings.Join(args[2:], " "))
	}

	if thread == 0 {
		threads := pc.svc.Threads()
		if len(threads) == 0 {
			return 0, 0, perrors.New(perrors.CodeNotFound, "no thread has recorded history")
		}
		thread = threads[0]
	}
	return thread, offset, nil
}

func (pc *profilerCommands) resolveThread(arg string) (profiler.ThreadID, error) {
	if n, err := strconv.ParseUint(arg, 10, 64); err == nil {
		return profiler.ThreadID(n), nil
	}
	for _, info := range pc.svc.ThreadInfos() {
		if info.Name == arg {
			return info.ID, nil
		}
	}
	return 0, perrors.Newf(perrors.CodeNotFound, "no recorder named %q", arg)
}
