package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/scope-profiler/pkg/config"
	"github.com/scope-profiler/pkg/console"
	"github.com/scope-profiler/pkg/metrics"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/profiling"
	"github.com/scope-profiler/pkg/report"
	"github.com/scope-profiler/pkg/snapshot"
	"github.com/scope-profiler/pkg/telemetry"
	"github.com/scope-profiler/pkg/utils"
)

var (
	// Demo command flags
	demoWorkers  int
	demoFrames   int
	demoInterval time.Duration
	demoAge      time.Duration
	demoMode     string
	demoSort     string
	demoTop      int
	demoTable    bool
	demoTrees    int
	demoDump     string
	demoFolded   string
	demoGroup    bool
	demoMetrics  bool
	demoAddr     string
	demoHold     time.Duration
)

// demoCmd represents the demo command
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Record a simulated frame loop and print reports",
	Long: `Run a simulated frame loop on several goroutines, each instrumented
with its own recorder, then print an aggregated report per thread.

Every frame records nested scopes for input, physics, ai, audio and render
together with simulated allocations. Finished trees older than the history
age are evicted once per frame interval, so the reports cover at most the
last history age of recording.

With --metrics the Prometheus endpoint is served while the workload runs.
When OTEL_ENABLED=true the newest tree of every thread is exported as a
trace once recording stops.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)

	binName := BinName()
	demoCmd.Example = `  # Default workload, tree report of the newest frame per thread
  ` + binName + ` demo

  # Aggregate every retained frame into a flat table
  ` + binName + ` demo --trees 0 --mode flat --table

  # Keep the metrics endpoint up for a minute after recording
  ` + binName + ` demo --metrics --hold 1m

  # Write the newest tree as compressed JSON
  ` + binName + ` demo --dump frame.json.zst`

	f := demoCmd.Flags()
	f.IntVarP(&demoWorkers, "workers", "w", 0, "Number of instrumented goroutines (default from config)")
	f.IntVarP(&demoFrames, "frames", "f", 0, "Frames per worker (default from config)")
	f.DurationVar(&demoInterval, "interval", 0, "Frame interval (default from config)")
	f.DurationVar(&demoAge, "history-age", 0, "Max history age (default from config)")
	f.StringVarP(&demoMode, "mode", "m", "", "Report mode: tree or flat (default from config)")
	f.StringVarP(&demoSort, "sort", "s", "", "Sort key: total, self, calls, name or bytes (default from config)")
	f.IntVarP(&demoTop, "top", "n", 0, "Only print the first N top-level rows")
	f.BoolVar(&demoTable, "table", false, "Render reports as tables")
	f.IntVar(&demoTrees, "trees", 1, "Retained trees to aggregate per thread, 0 for all")
	f.StringVarP(&demoDump, "dump", "o", "", "Write the newest tree of the first thread to this file (.gz/.zst compress)")
	f.StringVar(&demoFolded, "folded", "", "Write the newest tree of the first thread as folded stacks")
	f.BoolVarP(&demoGroup, "group", "g", false, "Aggregate threads by name group (worker-0, worker-1 -> worker)")
	f.BoolVar(&demoMetrics, "metrics", false, "Serve Prometheus metrics while running")
	f.StringVar(&demoAddr, "metrics-addr", "", "Metrics listen address (default from config)")
	f.DurationVar(&demoHold, "hold", 0, "Keep serving metrics this long after recording")
}

// applyDemoFlags overrides the loaded configuration with explicitly set flags.
func applyDemoFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.Demo.Workers = demoWorkers
	}
	if f.Changed("frames") {
		cfg.Demo.Frames = demoFrames
	}
	if f.Changed("interval") {
		cfg.Demo.FrameInterval = demoInterval
	}
	if f.Changed("history-age") {
		cfg.Profiler.MaxHistoryAge = demoAge
	}
	if f.Changed("mode") {
		cfg.Report.Mode = demoMode
	}
	if f.Changed("sort") {
		cfg.Report.Sort = demoSort
	}
	if f.Changed("top") {
		cfg.Report.Top = demoTop
	}
	if f.Changed("table") {
		cfg.Report.Table = demoTable
	}
	if f.Changed("metrics") {
		cfg.Metrics.Enabled = demoMetrics
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = demoAddr
	}
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg := GetConfig()
	applyDemoFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	settings, err := cfg.ReportSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, serving, err := startService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Shutdown()

	wl := &workload{
		svc:      svc,
		workers:  cfg.Demo.Workers,
		frames:   cfg.Demo.Frames,
		interval: cfg.Demo.FrameInterval,
		logger:   log,
	}
	log.Info("recording %d frames on %d workers (history age %s)", wl.frames, wl.workers, svc.MaxHistoryAge())
	start := time.Now()
	if err := wl.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("recording finished in %s", time.Since(start).Round(time.Millisecond))

	// stop recording so the reports and exports see a fixed history
	svc.Pause()

	out := cmd.OutOrStdout()
	if err := printReports(out, svc, settings, demoTrees, demoGroup); err != nil {
		return err
	}
	printStats(out, svc)

	if demoDump != "" {
		if err := dumpLatest(svc, demoDump, log); err != nil {
			return err
		}
	}
	if demoFolded != "" {
		if err := foldLatest(svc, demoFolded, log); err != nil {
			return err
		}
	}
	if err := exportTraces(ctx, svc, log); err != nil {
		log.Warn("trace export failed: %v", err)
	}

	if serving != nil {
		if demoHold > 0 {
			log.Info("serving metrics for another %s", demoHold)
			select {
			case <-ctx.Done():
			case <-time.After(demoHold):
			}
		}
		stop()
		return <-serving
	}
	return nil
}

// startService creates the profiler service and, when metrics are enabled,
// binds a collector to it and starts serving. serving yields the server's
// result once ctx is done.
func startService(ctx context.Context, cfg *config.Config, log utils.Logger) (*profiler.Service, <-chan error, error) {
	opts := cfg.ServiceOptions(log)
	if !cfg.Metrics.Enabled {
		return profiler.New(opts...), nil, nil
	}

	collector := metrics.New(cfg.MetricsOptions()...)
	svc := profiler.New(append(opts, profiler.WithObserver(collector))...)
	if err := collector.Bind(svc); err != nil {
		svc.Shutdown()
		return nil, nil, err
	}

	serving := make(chan error, 1)
	go func() {
		serving <- collector.Serve(ctx, cfg.MetricsServer(), log, nil)
	}()
	return svc, serving, nil
}

// reportTarget is one report to print: a single thread or a thread group.
type reportTarget struct {
	title   string
	threads []profiler.ThreadID
	roots   int
}

func reportTargets(svc *profiler.Service, group bool) []reportTarget {
	var targets []reportTarget
	if group {
		for _, g := range profiling.GroupThreads(svc.ThreadInfos()) {
			if g.Roots > 0 {
				targets = append(targets, reportTarget{
					title:   fmt.Sprintf("%s (%d threads)", g.Name, len(g.Threads)),
					threads: g.Threads,
					roots:   g.Roots,
				})
			}
		}
		return targets
	}
	for _, info := range svc.ThreadInfos() {
		if info.Roots > 0 {
			targets = append(targets, reportTarget{
				title:   fmt.Sprintf("%s (thread %d)", info.Name, info.ID),
				threads: []profiler.ThreadID{info.ID},
				roots:   info.Roots,
			})
		}
	}
	return targets
}

func printReports(out io.Writer, svc *profiler.Service, settings console.ReportSettings, trees int, group bool) error {
	w := report.NewWriter(svc.Clock(), report.WithTop(settings.Top))
	for _, target := range reportTargets(svc, group) {
		rep, err := report.BuildThreads(svc, target.threads, settings.Mode, settings.Sort, trees)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n== %s: %d of %d trees, %s ==\n",
			target.title, rep.Roots(), target.roots,
			utils.TicksToDuration(svc.Clock(), rep.Total()).Round(time.Microsecond))
		if settings.Table {
			w.Table(out, rep)
			continue
		}
		if err := w.Text(out, rep); err != nil {
			return err
		}
	}
	return nil
}

func printStats(out io.Writer, svc *profiler.Service) {
	s := svc.Stats()
	fmt.Fprintf(out, "\nhistory: %d roots, nodes: %s live / %s allocated, memory: %s outstanding in %s allocs\n",
		s.HistoryRoots, humanize.Comma(s.LiveNodes), humanize.Comma(s.AllocatedNodes),
		humanize.IBytes(uint64(max(s.Memory.Bytes, 0))), humanize.Comma(int64(s.Memory.Allocs)))
}

func dumpLatest(svc *profiler.Service, path string, log utils.Logger) error {
	threads := svc.Threads()
	if len(threads) == 0 {
		log.Warn("nothing recorded, skipping dump")
		return nil
	}
	h, err := svc.Acquire(threads[0], 0)
	if err != nil {
		return err
	}
	snap := snapshot.FromHandle(svc, h)
	if err := h.Release(); err != nil {
		return err
	}

	res, err := snapshot.WriteFile(snap, path)
	if err != nil {
		return err
	}
	log.Info("wrote %s: %d nodes, %s json, %s on disk (%s, %.1f%% of json)",
		path, snap.Nodes, humanize.IBytes(uint64(res.JSONSize)), humanize.IBytes(uint64(res.CompressedSize)),
		res.Codec, res.CompressionPct)
	return nil
}

func foldLatest(svc *profiler.Service, path string, log utils.Logger) error {
	threads := svc.Threads()
	if len(threads) == 0 {
		log.Warn("nothing recorded, skipping folded output")
		return nil
	}
	h, err := svc.Acquire(threads[0], 0)
	if err != nil {
		return err
	}
	stacks := profiling.Fold(h.Root(), svc.Clock())
	if err := h.Release(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := profiling.WriteFolded(f, stacks)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	log.Info("wrote %s: %d stacks", path, n)
	return nil
}

func exportTraces(ctx context.Context, svc *profiler.Service, log utils.Logger) error {
	if !telemetry.Enabled() {
		return nil
	}
	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.Warn("telemetry shutdown: %v", err)
		}
	}()

	n, err := telemetry.ExportLatest(ctx, svc, otel.Tracer(telemetry.TracerName))
	if err != nil {
		return err
	}
	log.Info("exported %d spans to %s", n, telemetry.GetConfig().Endpoint)
	return nil
}
