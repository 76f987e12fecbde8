package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-verifier/internal/config"
)

func TestNew_None(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")

	p, err := New(context.Background(), config.TelemetryConfig{Exporter: config.ExporterNone}, dir)
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoDirExists(t, dir)
}

func TestNew_StdoutWritesTraceFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "traces")
	cfg := config.TelemetryConfig{Exporter: config.ExporterStdout, ProjectName: "verifier-test"}

	p, err := New(context.Background(), cfg, dir)
	require.NoError(t, err)
	require.NotEmpty(t, p.TraceFile)
	assert.Equal(t, dir, filepath.Dir(p.TraceFile))

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "verification.run")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(p.TraceFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"verification.run"`)
	assert.Contains(t, string(data), "verifier-test")
	assert.Contains(t, string(data), ServiceVersion)
}

func TestNew_OTLP(t *testing.T) {
	cfg := config.TelemetryConfig{
		Exporter:    config.ExporterOTLP,
		Endpoint:    "127.0.0.1:4317",
		SpaceID:     "space",
		APIKey:      "key",
		ProjectName: "verifier",
	}

	p, err := New(context.Background(), cfg, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, p.TraceFile)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestNew_UnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{Exporter: "zipkin"}, t.TempDir())
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestAuthHeaders(t *testing.T) {
	assert.Empty(t, authHeaders(config.TelemetryConfig{}))
	assert.Equal(t,
		map[string]string{"space_id": "s", "api_key": "k"},
		authHeaders(config.TelemetryConfig{SpaceID: "s", APIKey: "k"}))
}
