package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scope-profiler/pkg/config"
	"github.com/scope-profiler/pkg/utils"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	logger    utils.Logger
	appConfig *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scopeprof",
	Short: "A hierarchical scope profiler",
	Long: `scopeprof drives the in-process scope profiler.

Instrumented goroutines record nested, labeled scopes with timing and memory
counters. Finished trees are kept in a time-bounded history from which
aggregated tree or flat reports, JSON snapshots, Prometheus metrics and
OpenTelemetry traces are produced.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		appConfig = cfg

		logger = cfg.NewLogger(os.Stderr, verbose)
		utils.SetGlobalLogger(logger)
		logger.Debug("config: %s", cfg)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./config.yaml, ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Record a simulated workload and print a tree report per thread
  ` + binName + ` demo --frames 240 --workers 4

  # Flat report as a table, sorted by self time, top 10 entries
  ` + binName + ` demo --mode flat --sort self --top 10 --table

  # Expose Prometheus metrics while the workload runs
  ` + binName + ` demo --metrics --metrics-addr :9464

  # Interactive console over a background workload
  ` + binName + ` console`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return appConfig
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
