package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
)

func reset(t *testing.T) {
	t.Helper()
	settingsOnce = sync.Once{}
	settings = nil
	t.Cleanup(func() {
		settingsOnce = sync.Once{}
		settings = nil
		otel.SetTracerProvider(noop.NewTracerProvider())
	})
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"OTEL_ENABLED", "OTEL_SERVICE_NAME", "OTEL_SERVICE_VERSION",
		"OTEL_EXPORTER_OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_HEADERS"} {
		t.Setenv(k, "")
	}

	s := FromEnv()
	assert.False(t, s.Enabled)
	assert.Equal(t, DefaultServiceName, s.ServiceName)
	assert.Equal(t, "unknown", s.ServiceVersion)
	assert.Equal(t, "grpc", s.Protocol)
	assert.Empty(t, s.Headers)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "TRUE")
	t.Setenv("OTEL_SERVICE_NAME", "heap-agent")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "http/protobuf")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer a=b, x-team=vm")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment=test")

	s := FromEnv()
	assert.True(t, s.Enabled)
	assert.True(t, s.Insecure)
	assert.Equal(t, "heap-agent", s.ServiceName)
	assert.Equal(t, "http/protobuf", s.Protocol)
	assert.Equal(t, map[string]string{"Authorization": "Bearer a=b", "x-team": "vm"}, s.Headers)
	assert.Equal(t, "test", s.Attributes["deployment.environment"])
}

func TestParsePairs(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{"", map[string]string{}},
		{"a=1", map[string]string{"a": "1"}},
		{" a = 1 ,, b=", map[string]string{"a": "1", "b": ""}},
		{"=orphan,novalue", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parsePairs(tt.in))
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name, arg string
		prefix    string
	}{
		{"", "", "AlwaysOnSampler"},
		{"always_on", "", "AlwaysOnSampler"},
		{"always_off", "", "AlwaysOffSampler"},
		{"traceidratio", "0.25", "TraceIDRatioBased{0.25}"},
		{"parentbased_always_on", "", "ParentBased{root:AlwaysOnSampler"},
		{"parentbased_always_off", "", "ParentBased{root:AlwaysOffSampler"},
		{"parentbased_traceidratio", "0.5", "ParentBased{root:TraceIDRatioBased{0.5}"},
		{"bogus", "", "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, newSampler(tt.name, tt.arg).Description(), tt.prefix)
		})
	}
}

func TestSamplerRatio(t *testing.T) {
	assert.Equal(t, 1.0, samplerRatio(""))
	assert.Equal(t, 1.0, samplerRatio("half"))
	assert.Equal(t, 0.0, samplerRatio("-2"))
	assert.Equal(t, 1.0, samplerRatio("3"))
	assert.Equal(t, 0.1, samplerRatio("0.1"))
}

func TestSplitScheme(t *testing.T) {
	host, plain := splitScheme("http://collector:4317")
	assert.Equal(t, "collector:4317", host)
	assert.True(t, plain)

	host, plain = splitScheme("https://collector:4317")
	assert.Equal(t, "collector:4317", host)
	assert.False(t, plain)

	host, plain = splitScheme("collector:4317")
	assert.Equal(t, "collector:4317", host)
	assert.False(t, plain)
}

func TestNewResource(t *testing.T) {
	res, err := newResource(&Settings{
		ServiceName:    "vmti-test",
		ServiceVersion: "1.2.3",
		Attributes:     map[string]string{"team": "runtime"},
	})
	require.NoError(t, err)

	set := res.Set()
	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "vmti-test", name.AsString())
	version, _ := set.Value(semconv.ServiceVersionKey)
	assert.Equal(t, "1.2.3", version.AsString())
	team, _ := set.Value("team")
	assert.Equal(t, "runtime", team.AsString())
}

func TestInit_Disabled(t *testing.T) {
	reset(t)
	t.Setenv("OTEL_ENABLED", "false")

	shutdown, err := Init(context.Background())
	require.NoError(t, err)
	assert.False(t, Enabled())
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInit_Enabled(t *testing.T) {
	for _, proto := range []string{"grpc", "http/protobuf"} {
		t.Run(proto, func(t *testing.T) {
			reset(t)
			t.Setenv("OTEL_ENABLED", "true")
			t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", proto)
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4317")

			shutdown, err := Init(context.Background())
			require.NoError(t, err)
			assert.True(t, Enabled())
			assert.Equal(t, proto, Current().Protocol)

			_, span := Tracer().Start(context.Background(), "iterate")
			assert.True(t, span.SpanContext().IsValid())

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			// no collector is listening; only the provider teardown matters here
			_ = shutdown(ctx)
		})
	}
}
