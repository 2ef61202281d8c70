package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scope-profiler/pkg/console"
)

var (
	// Console command flags
	consolePrompt string
	consoleIdle   bool
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive profiler console over a live workload",
	Long: `Start the simulated frame loop in the background and read profiler
commands from standard input until EOF, quit or exit.

Available commands include profiler_pause, profiler_resume,
profiler_history_age, profiler_report, profiler_threads, profiler_stats and
profiler_dump. Type help for the full list.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	binName := BinName()
	consoleCmd.Example = `  # Interactive session
  ` + binName + ` console

  # Scripted session
  printf 'profiler_pause\nprofiler_report flat\n' | ` + binName + ` console --prompt ""`

	consoleCmd.Flags().StringVar(&consolePrompt, "prompt", "> ", "Prompt printed before each command")
	consoleCmd.Flags().BoolVar(&consoleIdle, "idle", false, "Do not run the background workload")
}

func runConsole(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg := GetConfig()
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

	registry := console.NewRegistry(log)
	if err := console.RegisterProfiler(registry, svc, settings); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if !consoleIdle {
		wl := &workload{
			svc:      svc,
			workers:  cfg.Demo.Workers,
			interval: cfg.Demo.FrameInterval,
			logger:   log,
		}
		g.Go(func() error {
			return wl.run(gctx)
		})
	}
	g.Go(func() error {
		// the console ending stops the workload
		defer stop()
		return registry.Run(gctx, cmd.InOrStdin(), cmd.OutOrStdout(), consolePrompt)
	})

	err = g.Wait()
	if serving != nil {
		if serr := <-serving; serr != nil && err == nil {
			err = serr
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
