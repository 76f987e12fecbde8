// Package telemetry builds the OpenTelemetry tracer provider for a process:
// an OTLP/gRPC exporter with Arize-style space_id/api_key headers, a JSON
// file exporter under the traces directory, or nothing at all.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/go-verifier/internal/config"
)

// ServiceVersion is reported as service.version on every span.
const ServiceVersion = "1.0.0"

// ErrUnknownExporter is returned for an unsupported telemetry.exporter.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Provider owns the tracer provider and everything it must flush and close
// on shutdown.
type Provider struct {
	provider trace.TracerProvider
	shutdown []func(context.Context) error

	// TraceFile is the file spans are written to by the stdout exporter.
	TraceFile string
}

// New creates the tracer provider selected by cfg. Spans from the stdout
// exporter go to a timestamped JSON file in tracesDir, which is created if
// needed. With the "none" exporter a no-op provider is returned.
func New(ctx context.Context, cfg config.TelemetryConfig, tracesDir string) (*Provider, error) {
	var (
		exporter sdktrace.SpanExporter
		p        = &Provider{}
		err      error
	)

	switch cfg.Exporter {
	case config.ExporterNone, "":
		p.provider = noop.NewTracerProvider()
		return p, nil

	case config.ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if headers := authHeaders(cfg); len(headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)

	case config.ExporterStdout:
		var f *os.File
		f, err = createTraceFile(tracesDir, time.Now())
		if err != nil {
			return nil, err
		}
		p.TraceFile = f.Name()
		p.shutdown = append(p.shutdown, func(context.Context) error { return f.Close() })
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(f))

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create %s exporter: %w", cfg.Exporter, err), p.Shutdown(ctx))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(cfg.ProjectName)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	p.provider = tp
	// The provider flushes into the file, so it shuts down first.
	p.shutdown = append([]func(context.Context) error{tp.Shutdown}, p.shutdown...)
	return p, nil
}

// TracerProvider returns the provider to install with otel.SetTracerProvider.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.provider }

// Shutdown flushes pending spans and releases exporters. Errors from every
// step are joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

func authHeaders(cfg config.TelemetryConfig) map[string]string {
	headers := make(map[string]string, 2)
	if cfg.SpaceID != "" {
		headers["space_id"] = cfg.SpaceID
	}
	if cfg.APIKey != "" {
		headers["api_key"] = cfg.APIKey
	}
	return headers
}

func serviceResource(projectName string) *resource.Resource {
	return resource.NewWithAttributes(
		"",
		attribute.String("service.name", projectName),
		attribute.String("service.version", ServiceVersion),
		attribute.String("openinference.project.name", projectName),
	)
}

func createTraceFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create traces directory: %w", err)
	}
	name := fmt.Sprintf("traces-%s.json", now.UTC().Format("20060102T150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	return f, nil
}
