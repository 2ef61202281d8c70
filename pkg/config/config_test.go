package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/profiler"
	"github.com/scope-profiler/pkg/report"
	"github.com/scope-profiler/pkg/utils"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_DefaultValues(t *testing.T) {
	configFile := writeConfig(t, `
log:
  level: debug
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, time.Second, cfg.Profiler.MaxHistoryAge)
	assert.Equal(t, profiler.DefaultHistoryCapacity, cfg.Profiler.HistoryCapacity)
	assert.Equal(t, 0, cfg.Profiler.MaxRoots)
	assert.False(t, cfg.Profiler.Paused)
	assert.Equal(t, "tree", cfg.Report.Mode)
	assert.Equal(t, "total", cfg.Report.Sort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "scopeprof", cfg.Metrics.Namespace)
	assert.Equal(t, 4, cfg.Demo.Workers)
	assert.Equal(t, 120, cfg.Demo.Frames)
	assert.Equal(t, 16*time.Millisecond, cfg.Demo.FrameInterval)
}

func TestLoad_CustomValues(t *testing.T) {
	configFile := writeConfig(t, `
profiler:
  max_history_age: 2500ms
  history_capacity: 64
  max_roots: 32
  paused: true
report:
  mode: flat
  sort: self
  top: 5
  table: true
log:
  format: json
metrics:
  enabled: true
  addr: "127.0.0.1:0"
  path: /prom
  pprof: true
demo:
  workers: 2
  frames: 10
  frame_interval: 1ms
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, cfg.Profiler.MaxHistoryAge)
	assert.Equal(t, 64, cfg.Profiler.HistoryCapacity)
	assert.Equal(t, 32, cfg.Profiler.MaxRoots)
	assert.True(t, cfg.Profiler.Paused)
	assert.Equal(t, "flat", cfg.Report.Mode)
	assert.Equal(t, "self", cfg.Report.Sort)
	assert.Equal(t, 5, cfg.Report.Top)
	assert.True(t, cfg.Report.Table)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
	assert.True(t, cfg.Metrics.Pprof)
	assert.Equal(t, 2, cfg.Demo.Workers)
	assert.Equal(t, time.Millisecond, cfg.Demo.FrameInterval)
}

func TestLoad_EnvOverride(t *testing.T) {
	configFile := writeConfig(t, `
profiler:
  max_history_age: 2s
`)
	t.Setenv("SCOPEPROF_PROFILER_MAX_HISTORY_AGE", "250ms")
	t.Setenv("SCOPEPROF_REPORT_MODE", "flat")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Profiler.MaxHistoryAge)
	assert.Equal(t, "flat", cfg.Report.Mode)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
	assert.Equal(t, perrors.CodeConfigError, perrors.GetErrorCode(err))
}

func TestLoad_NoConfigInSearchPath(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"negative age", "profiler:\n  max_history_age: -1s\n", "max_history_age"},
		{"zero capacity", "profiler:\n  history_capacity: 0\n", "history_capacity"},
		{"negative max roots", "profiler:\n  max_roots: -1\n", "max_roots"},
		{"bad mode", "report:\n  mode: sideways\n", "report.mode"},
		{"bad sort", "report:\n  sort: random\n", "report.sort"},
		{"negative top", "report:\n  top: -3\n", "report.top"},
		{"bad log format", "log:\n  format: xml\n", "unsupported log format"},
		{"metrics without addr", "metrics:\n  enabled: true\n  addr: \"\"\n", "metrics.addr"},
		{"metrics bad path", "metrics:\n  enabled: true\n  path: metrics\n", "metrics.path"},
		{"no workers", "demo:\n  workers: 0\n", "demo.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader("yaml", []byte(tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, perrors.ErrConfigError)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader("yaml", []byte(`
report:
  mode: flat
  sort: bytes
`))
	require.NoError(t, err)
	assert.Equal(t, "flat", cfg.Report.Mode)
	assert.Equal(t, "bytes", cfg.Report.Sort)

	_, err = LoadFromReader("yaml", []byte("report: [unclosed"))
	assert.ErrorIs(t, err, perrors.ErrConfigError)
}

func TestDefault_Validates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestServiceOptions(t *testing.T) {
	cfg := Default()
	cfg.Profiler.MaxHistoryAge = 3 * time.Second
	cfg.Profiler.HistoryCapacity = 8
	cfg.Profiler.Paused = true

	svc := profiler.New(cfg.ServiceOptions(&utils.NullLogger{})...)
	defer svc.Shutdown()

	assert.Equal(t, 3*time.Second, svc.MaxHistoryAge())
	assert.True(t, svc.Paused())
	assert.Equal(t, 8, svc.Stats().HistorySlots)
}

func TestReportSettings(t *testing.T) {
	cfg := Default()
	cfg.Report.Mode = "flat"
	cfg.Report.Top = 3

	settings, err := cfg.ReportSettings()
	require.NoError(t, err)
	assert.Equal(t, report.ModeFlat, settings.Mode)
	assert.Equal(t, 3, settings.Top)
	assert.NotNil(t, settings.Sort)

	cfg.Report.Sort = "nope"
	_, err = cfg.ReportSettings()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := Default()

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf, false)
	_, ok := logger.(*utils.DefaultLogger)
	assert.True(t, ok)
	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger = cfg.NewLogger(&buf, true)
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")

	cfg.Log.Format = "json"
	buf.Reset()
	logger = cfg.NewLogger(&buf, false)
	zl, ok := logger.(*utils.ZapLogger)
	require.True(t, ok)
	logger.Info("structured")
	require.NoError(t, zl.Sync())
	assert.Contains(t, buf.String(), `"msg":"structured"`)
}

func TestMetricsSettings(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Pprof = true

	server := cfg.MetricsServer()
	assert.Equal(t, ":9464", server.Addr)
	assert.Equal(t, "/metrics", server.Path)
	assert.True(t, server.Pprof)
	assert.Len(t, cfg.MetricsOptions(), 2)

	cfg.Metrics.RuntimeMetrics = false
	assert.Len(t, cfg.MetricsOptions(), 1)
}
