// Package tracing configures the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/dispatch-gateway/internal/platform/env"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

type Config struct {
	Enabled      bool
	Exporter     string
	OTLPEndpoint string
	SampleRate   float64
	ServiceName  string
}

func ConfigFromEnv(service string) (Config, error) {
	enabled, err := env.Bool("GATEWAY_TRACING_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	rate, err := env.Float64("GATEWAY_TRACING_SAMPLE_RATE", 1.0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Enabled:      enabled,
		Exporter:     strings.ToLower(env.String("GATEWAY_TRACING_EXPORTER", ExporterStdout)),
		OTLPEndpoint: env.String("GATEWAY_TRACING_OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:   rate,
		ServiceName:  env.String("GATEWAY_TRACING_SERVICE_NAME", service),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case ExporterStdout, ExporterOTLP, ExporterNone, "":
	default:
		return fmt.Errorf("unsupported exporter type: %s", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return errors.New("service name is required")
	}
	return nil
}

// Provider hands out the configured tracer. A disabled provider hands out a
// noop tracer.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case ExporterStdout:
		exporter, err = stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case ExporterOTLP:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return NewProviderWith(sdktrace.NewTracerProvider(opts...), cfg.ServiceName), nil
}

// NewProviderWith wraps an already configured SDK provider and installs it
// as the global provider.
func NewProviderWith(tp *sdktrace.TracerProvider, service string) *Provider {
	otel.SetTracerProvider(tp)
	return &Provider{provider: tp, tracer: tp.Tracer(service)}
}

func Disabled() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer("noop")}
}

func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return noop.NewTracerProvider().Tracer("noop")
	}
	return p.tracer
}

func (p *Provider) Enabled() bool {
	return p != nil && p.provider != nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
