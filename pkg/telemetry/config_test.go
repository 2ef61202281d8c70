package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFrom(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadFrom(envMap(nil))
		assert.False(t, cfg.Enabled)
		assert.Equal(t, DefaultServiceName, cfg.ServiceName)
		assert.Equal(t, "unknown", cfg.ServiceVersion)
		assert.Equal(t, "grpc", cfg.Protocol)
		assert.False(t, cfg.Insecure)
		assert.Empty(t, cfg.Headers)
	})

	t.Run("all set", func(t *testing.T) {
		cfg := loadFrom(envMap(map[string]string{
			"OTEL_ENABLED":                "TRUE",
			"OTEL_SERVICE_NAME":           "game",
			"OTEL_SERVICE_VERSION":        "1.2.3",
			"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318",
			"OTEL_EXPORTER_OTLP_PROTOCOL": "HTTP/protobuf",
			"OTEL_EXPORTER_OTLP_HEADERS":  "Authorization=Bearer a=b, x-team = engine",
			"OTEL_EXPORTER_OTLP_INSECURE": "1",
			"OTEL_TRACES_SAMPLER":         "TraceIDRatio",
			"OTEL_TRACES_SAMPLER_ARG":     "0.25",
			"OTEL_RESOURCE_ATTRIBUTES":    "deployment.environment=dev",
		}))

		assert.True(t, cfg.Enabled)
		assert.Equal(t, "game", cfg.ServiceName)
		assert.Equal(t, "1.2.3", cfg.ServiceVersion)
		assert.Equal(t, "http/protobuf", cfg.Protocol)
		assert.True(t, cfg.Insecure)
		assert.Equal(t, map[string]string{"Authorization": "Bearer a=b", "x-team": "engine"}, cfg.Headers)
		assert.Equal(t, "traceidratio", cfg.Sampler)
		assert.Equal(t, "0.25", cfg.SamplerArg)
		assert.Equal(t, "dev", cfg.ResourceAttrs["deployment.environment"])
	})
}

func TestParseKeyValuePairs(t *testing.T) {
	tests := []struct {
		input    string
		expected map[string]string
	}{
		{"", map[string]string{}},
		{"a=1", map[string]string{"a": "1"}},
		{"a=1,b=2", map[string]string{"a": "1", "b": "2"}},
		{" a = 1 , , b=", map[string]string{"a": "1", "b": ""}},
		{"=1,novalue", map[string]string{}},
		{"token=x=y", map[string]string{"token": "x=y"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseKeyValuePairs(tt.input))
		})
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		input     string
		hostPort  string
		plaintext bool
	}{
		{"http://localhost:4318", "localhost:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
		{"collector:4317", "collector:4317", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			hp, plain := splitEndpoint(tt.input)
			assert.Equal(t, tt.hostPort, hp)
			assert.Equal(t, tt.plaintext, plain)
		})
	}
}
