package telemetry

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func TestBuildResource(t *testing.T) {
	cfg := loadFrom(envMap(map[string]string{
		"OTEL_SERVICE_NAME":        "render-loop",
		"OTEL_RESOURCE_ATTRIBUTES": "team=engine",
	}))

	res, err := buildResource(context.Background(), cfg)
	require.NoError(t, err)

	set := res.Set()
	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "render-loop", name.AsString())

	team, ok := set.Value(attribute.Key("team"))
	require.True(t, ok)
	assert.Equal(t, "engine", team.AsString())
}

func TestPickIP(t *testing.T) {
	tests := []struct {
		name     string
		addrs    []string
		expected string
	}{
		{"empty", nil, ""},
		{"loopback only", []string{"127.0.0.1", "::1"}, ""},
		{"prefers ipv4", []string{"fe80::1", "10.0.0.5"}, "10.0.0.5"},
		{"ipv6 fallback", []string{"::1", "2001:db8::1"}, "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ips []net.IP
			for _, a := range tt.addrs {
				ips = append(ips, net.ParseIP(a))
			}
			assert.Equal(t, tt.expected, pickIP(ips))
		})
	}
}

func TestHostIP(t *testing.T) {
	ip := hostIP()
	if ip == "" {
		t.Skip("no non-loopback address available")
	}
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed)
	assert.False(t, parsed.IsLoopback())
}
