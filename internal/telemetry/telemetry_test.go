package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())
	assert.False(t, tel.Healthy())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NotNil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestNew_ExportsSpans(t *testing.T) {
	ctx := context.Background()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	exporter := tracetest.NewInMemoryExporter()
	tel, err := New(ctx, cfg, WithTraceExporter(exporter))
	require.NoError(t, err)
	defer func() { require.NoError(t, tel.Shutdown(ctx)) }()

	assert.True(t, tel.IsEnabled())
	assert.True(t, tel.Healthy())
	assert.False(t, tel.Degraded())

	_, span := tel.Tracer("test").Start(ctx, "analyze")
	span.End()

	require.NoError(t, tel.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "analyze", spans[0].Name)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "disabled is always valid",
			mutate: func(c *Config) { c.Endpoint = "" },
		},
		{
			name: "enabled defaults are valid",
			mutate: func(c *Config) {
				c.Enabled = true
			},
		},
		{
			name: "missing endpoint",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = ""
			},
			wantErr: "endpoint is required",
		},
		{
			name: "bad protocol",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Protocol = "udp"
			},
			wantErr: "invalid otlp protocol",
		},
		{
			name: "sampling rate out of range",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Sampling.Rate = 1.5
			},
			wantErr: "sampling rate",
		},
		{
			name: "zero export interval",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Metrics.ExportInterval = 0
			},
			wantErr: "export interval",
		},
		{
			name: "zero shutdown timeout",
			mutate: func(c *Config) {
				c.Enabled = true
				c.ShutdownTimeout = 0
			},
			wantErr: "shutdown timeout",
		},
		{
			name: "insecure remote endpoint",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = true
			},
			wantErr: "not allowed",
		},
		{
			name: "secure remote endpoint",
			mutate: func(c *Config) {
				c.Enabled = true
				c.Endpoint = "collector.example.com:4317"
				c.Insecure = false
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"http://localhost:4318", true},
		{"[::1]:4317", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isLocalEndpoint(tt.endpoint))
		})
	}
}

func TestNewSampler(t *testing.T) {
	t.Parallel()

	always := newSampler(&Config{Sampling: SamplingConfig{Rate: 1}})
	assert.Contains(t, always.Description(), "AlwaysOnSampler")

	never := newSampler(&Config{Sampling: SamplingConfig{Rate: 0}})
	assert.Contains(t, never.Description(), "AlwaysOffSampler")

	ratio := newSampler(&Config{Sampling: SamplingConfig{Rate: 0.25}})
	assert.Contains(t, ratio.Description(), "TraceIDRatioBased")
}

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "insightd", cfg.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Metrics.ExportInterval)
}
