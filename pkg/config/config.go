// Package config provides configuration management for the scope profiler
// tools.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scope-profiler/pkg/console"
	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/metrics"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/report"
	"github.com/scope-profiler/pkg/utils"
)

// EnvPrefix prefixes environment variable overrides, e.g.
// SCOPEPROF_PROFILER_MAX_HISTORY_AGE=2s.
const EnvPrefix = "SCOPEPROF"

// Config holds all configuration for the application.
type Config struct {
	Profiler ProfilerConfig `mapstructure:"profiler"`
	Report   ReportConfig   `mapstructure:"report"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Demo     DemoConfig     `mapstructure:"demo"`
}

// ProfilerConfig configures the profiler service.
type ProfilerConfig struct {
	MaxHistoryAge   time.Duration `mapstructure:"max_history_age"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
	MaxRoots        int           `mapstructure:"max_roots"` // 0 = unbounded
	Paused          bool          `mapstructure:"paused"`
}

// ReportConfig holds the report defaults.
type ReportConfig struct {
	Mode  string `mapstructure:"mode"` // tree or flat
	Sort  string `mapstructure:"sort"` // total, self, calls, name or bytes
	Top   int    `mapstructure:"top"`
	Table bool   `mapstructure:"table"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Addr           string `mapstructure:"addr"`
	Path           string `mapstructure:"path"`
	Namespace      string `mapstructure:"namespace"`
	Pprof          bool   `mapstructure:"pprof"`
	RuntimeMetrics bool   `mapstructure:"runtime_metrics"`
}

// DemoConfig drives the simulated workload of the demo command.
type DemoConfig struct {
	Workers       int           `mapstructure:"workers"`
	Frames        int           `mapstructure:"frames"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/scope-profiler")
	}

	if err := v.ReadInConfig(); err != nil {
		// no config file in the search path means defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				return nil, perrors.Wrap(perrors.CodeConfigError, "config file not found", err)
			}
			return nil, perrors.Wrap(perrors.CodeConfigError, "failed to read config file", err)
		}
	}

	bindEnv(v)

	return decode(v)
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, perrors.Wrap(perrors.CodeConfigError, "failed to read config", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, perrors.Wrap(perrors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Profiler defaults
	v.SetDefault("profiler.max_history_age", profiler.DefaultMaxHistoryAge)
	v.SetDefault("profiler.history_capacity", profiler.DefaultHistoryCapacity)
	v.SetDefault("profiler.max_roots", 0)
	v.SetDefault("profiler.paused", false)

	// Report defaults
	v.SetDefault("report.mode", "tree")
	v.SetDefault("report.sort", "total")
	v.SetDefault("report.top", 0)
	v.SetDefault("report.table", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", metrics.DefaultNamespace)
	v.SetDefault("metrics.pprof", false)
	v.SetDefault("metrics.runtime_metrics", true)

	// Demo defaults
	v.SetDefault("demo.workers", 4)
	v.SetDefault("demo.frames", 120)
	v.SetDefault("demo.frame_interval", 16*time.Millisecond)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Profiler.MaxHistoryAge < 0 {
		return configError("profiler.max_history_age must not be negative")
	}
	if c.Profiler.HistoryCapacity < 1 {
		return configError("profiler.history_capacity must be at least 1")
	}
	if c.Profiler.MaxRoots < 0 {
		return configError("profiler.max_roots must not be negative")
	}

	if _, err := report.ParseMode(c.Report.Mode); err != nil {
		return perrors.Wrap(perrors.CodeConfigError, "report.mode", err)
	}
	if _, err := report.ParseSort(c.Report.Sort); err != nil {
		return perrors.Wrap(perrors.CodeConfigError, "report.sort", err)
	}
	if c.Report.Top < 0 {
		return configError("report.top must not be negative")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return configError("unsupported log format: %s", c.Log.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return configError("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return configError("metrics.path must start with /")
		}
	}

	if c.Demo.Workers < 1 {
		return configError("demo.workers must be at least 1")
	}
	if c.Demo.Frames < 0 {
		return configError("demo.frames must not be negative")
	}
	if c.Demo.FrameInterval < 0 {
		return configError("demo.frame_interval must not be negative")
	}

	return nil
}

func configError(format string, args ...interface{}) error {
	return perrors.Newf(perrors.CodeConfigError, format, args...)
}

// ServiceOptions maps the profiler section onto service options.
func (c *Config) ServiceOptions(logger utils.Logger) []profiler.Option {
	opts := []profiler.Option{
		profiler.WithMaxHistoryAge(c.Profiler.MaxHistoryAge),
		profiler.WithHistoryCapacity(c.Profiler.HistoryCapacity),
		profiler.WithMaxRoots(c.Profiler.MaxRoots),
		profiler.WithPaused(c.Profiler.Paused),
	}
	if logger != nil {
		opts = append(opts, profiler.WithLogger(logger))
	}
	return opts
}

// ReportSettings returns the defaults for the console report command.
func (c *Config) ReportSettings() (console.ReportSettings, error) {
	mode, err := report.ParseMode(c.Report.Mode)
	if err != nil {
		return console.ReportSettings{}, err
	}
	less, err := report.ParseSort(c.Report.Sort)
	if err != nil {
		return console.ReportSettings{}, err
	}
	return console.ReportSettings{
		Mode:  mode,
		Sort:  less,
		Top:   c.Report.Top,
		Table: c.Report.Table,
	}, nil
}

// NewLogger builds the logger the log section describes: a zap logger for
// json, the line logger otherwise. verbose forces debug level.
func (c *Config) NewLogger(out io.Writer, verbose bool) utils.Logger {
	level := utils.ParseLogLevel(c.Log.Level)
	if verbose {
		level = utils.LevelDebug
	}
	if strings.EqualFold(c.Log.Format, "json") {
		return utils.NewZapLogger(level, "json", out)
	}
	return utils.NewDefaultLogger(level, out)
}

// MetricsServer returns the metrics server settings.
func (c *Config) MetricsServer() metrics.ServerConfig {
	return metrics.ServerConfig{
		Addr:  c.Metrics.Addr,
		Path:  c.Metrics.Path,
		Pprof: c.Metrics.Pprof,
	}
}

// MetricsOptions returns the collector options.
func (c *Config) MetricsOptions() []metrics.Option {
	opts := []metrics.Option{metrics.WithNamespace(c.Metrics.Namespace)}
	if c.Metrics.RuntimeMetrics {
		opts = append(opts, metrics.WithRuntimeMetrics())
	}
	return opts
}

// String summarizes the effective settings on one line.
func (c *Config) String() string {
	return fmt.Sprintf("max_history_age=%s history_capacity=%d max_roots=%d report=%s/%s metrics=%t",
		c.Profiler.MaxHistoryAge, c.Profiler.HistoryCapacity, c.Profiler.MaxRoots,
		c.Report.Mode, c.Report.Sort, c.Metrics.Enabled)
}
