package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Config controls OpenTelemetry setup. Telemetry is disabled by default;
// when disabled, New returns a Telemetry whose providers are no-ops.
type Config struct {
	// Enabled turns telemetry export on.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP collector address, host:port.
	Endpoint string `koanf:"endpoint"`

	// Protocol selects the OTLP transport, "grpc" or "http/protobuf".
	Protocol string `koanf:"protocol"`

	// ServiceName identifies this process in traces and metrics.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is attached as a resource attribute.
	ServiceVersion string `koanf:"service_version"`

	// Insecure disables TLS verification. Only honored for local endpoints.
	Insecure bool `koanf:"insecure"`

	// Sampling controls trace sampling.
	Sampling SamplingConfig `koanf:"sampling"`

	// Metrics controls the metric exporter.
	Metrics MetricsConfig `koanf:"metrics"`

	// Logs controls the log exporter used by the logging bridge.
	Logs LogsConfig `koanf:"logs"`

	// ShutdownTimeout bounds provider shutdown and flush.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SamplingConfig controls trace sampling.
type SamplingConfig struct {
	// Rate is the fraction of root traces sampled, in [0, 1].
	Rate float64 `koanf:"rate"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// LogsConfig controls log export.
type LogsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// NewDefaultConfig returns a disabled configuration pointed at a local
// collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "insightd",
		ServiceVersion: "dev",
		Insecure:       true,
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 30 * time.Second,
		},
		Logs: LogsConfig{
			Enabled: false,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate reports configuration errors. Plaintext export to a non-local
// endpoint is rejected.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when enabled")
	}
	switch c.Protocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("invalid otlp protocol %q", c.Protocol)
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required when telemetry is enabled")
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling rate must be in [0, 1], got %v", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval <= 0 {
		return fmt.Errorf("metrics export interval must be positive, got %v", c.Metrics.ExportInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", c.ShutdownTimeout)
	}
	if c.Insecure && !isLocalEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure export to remote endpoint %q is not allowed", c.Endpoint)
	}
	return nil
}

// isLocalEndpoint reports whether the endpoint resolves to loopback.
func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func stripScheme(endpoint string) string {
	for _, scheme := range []string{"http://", "https://", "grpc://"} {
		if strings.HasPrefix(endpoint, scheme) {
			return strings.TrimPrefix(endpoint, scheme)
		}
	}
	return endpoint
}
