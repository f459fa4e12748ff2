// Package telemetry wires OpenTelemetry tracing for the agent and the CLI.
//
// Tracing is off unless OTEL_ENABLED=true. The remaining settings follow the
// standard OTEL_* variables: OTEL_SERVICE_NAME, OTEL_SERVICE_VERSION,
// OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_PROTOCOL (grpc or
// http/protobuf), OTEL_EXPORTER_OTLP_HEADERS, OTEL_EXPORTER_OTLP_INSECURE,
// OTEL_TRACES_SAMPLER, OTEL_TRACES_SAMPLER_ARG and OTEL_RESOURCE_ATTRIBUTES.
//
// Spans started through Tracer are dropped until Init installs a provider.
package telemetry

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by the tool interface.
const InstrumentationName = "github.com/vmti"

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "vmti-agent"

// Settings is the tracing configuration read from the environment.
type Settings struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Protocol       string // grpc or http/protobuf
	Headers        map[string]string
	Insecure       bool
	Sampler        string
	SamplerArg     string
	Attributes     map[string]string
}

// FromEnv reads Settings from the OTEL_* environment variables.
func FromEnv() *Settings {
	return &Settings{
		Enabled:        envBool("OTEL_ENABLED"),
		ServiceName:    envOr("OTEL_SERVICE_NAME", DefaultServiceName),
		ServiceVersion: envOr("OTEL_SERVICE_VERSION", "unknown"),
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Protocol:       envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
		Headers:        parsePairs(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Insecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE"),
		Sampler:        os.Getenv("OTEL_TRACES_SAMPLER"),
		SamplerArg:     os.Getenv("OTEL_TRACES_SAMPLER_ARG"),
		Attributes:     parsePairs(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")),
	}
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

var (
	settingsOnce sync.Once
	settings     *Settings
)

func current() *Settings {
	settingsOnce.Do(func() { settings = FromEnv() })
	return settings
}

// Init installs the global tracer provider when tracing is enabled. With
// tracing disabled it returns a no-op shutdown and leaves otel untouched.
func Init(ctx context.Context) (ShutdownFunc, error) {
	s := current()
	if !s.Enabled {
		return noopShutdown, nil
	}

	res, err := newResource(s)
	if err != nil {
		return noopShutdown, err
	}
	exp, err := newExporter(ctx, s)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(newSampler(s.Sampler, s.SamplerArg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Enabled reports whether OTEL_ENABLED turned tracing on.
func Enabled() bool {
	return current().Enabled
}

// Current returns the settings Init uses.
func Current() *Settings {
	return current()
}

// Tracer returns the tracer for tool-interface spans.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(InstrumentationName)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

// parsePairs splits "k1=v1,k2=v2". Values may contain '='.
func parsePairs(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
