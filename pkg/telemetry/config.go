package telemetry

import (
	"os"
	"strconv"
	"strings"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "scope-profiler"

// Config holds the OpenTelemetry settings, read from the standard OTEL_*
// environment variables.
type Config struct {
	// OTEL_ENABLED
	Enabled bool

	// OTEL_SERVICE_NAME, default "scope-profiler"
	ServiceName string
	// OTEL_SERVICE_VERSION, default "unknown"
	ServiceVersion string

	// OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string
	// OTEL_EXPORTER_OTLP_PROTOCOL: grpc (default) or http/protobuf
	Protocol string
	// OTEL_EXPORTER_OTLP_HEADERS, "k1=v1,k2=v2"
	Headers map[string]string
	// OTEL_EXPORTER_OTLP_INSECURE
	Insecure bool

	// OTEL_TRACES_SAMPLER: always_on (default), always_off, traceidratio and
	// the parentbased_ variants.
	Sampler string
	// OTEL_TRACES_SAMPLER_ARG, the ratio for traceidratio samplers
	SamplerArg string

	// OTEL_RESOURCE_ATTRIBUTES, "k1=v1,k2=v2"
	ResourceAttrs map[string]string
}

// LoadFromEnv reads the configuration from the environment.
func LoadFromEnv() *Config {
	return loadFrom(os.Getenv)
}

func loadFrom(getenv func(string) string) *Config {
	or := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	flag := func(key string) bool {
		b, _ := strconv.ParseBool(strings.TrimSpace(getenv(key)))
		return b
	}

	return &Config{
		Enabled:        flag("OTEL_ENABLED"),
		ServiceName:    or("OTEL_SERVICE_NAME", DefaultServiceName),
		ServiceVersion: or("OTEL_SERVICE_VERSION", "unknown"),
		Endpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Protocol:       strings.ToLower(or("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		Headers:        parseKeyValuePairs(getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Insecure:       flag("OTEL_EXPORTER_OTLP_INSECURE"),
		Sampler:        strings.ToLower(getenv("OTEL_TRACES_SAMPLER")),
		SamplerArg:     getenv("OTEL_TRACES_SAMPLER_ARG"),
		ResourceAttrs:  parseKeyValuePairs(getenv("OTEL_RESOURCE_ATTRIBUTES")),
	}
}

// parseKeyValuePairs splits "k1=v1,k2=v2". Only the first '=' of a pair
// separates key from value.
func parseKeyValuePairs(s string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		result[key] = strings.TrimSpace(value)
	}
	return result
}
