package logging

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Format names accepted by Config.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level emitted. Defaults to InfoLevel.
	Level zapcore.Level `koanf:"level"`

	// Format selects the stdout encoding, "json" or "console".
	Format string `koanf:"format"`

	// Output selects destinations.
	Output OutputConfig `koanf:"output"`

	// Sampling rate-limits repetitive low-severity entries.
	Sampling SamplingConfig `koanf:"sampling"`

	// Caller controls caller annotation.
	Caller CallerConfig `koanf:"caller"`

	// Stacktrace sets the level at which stacktraces are captured.
	Stacktrace StacktraceConfig `koanf:"stacktrace"`

	// Fields are static fields attached to every entry, e.g. service name.
	Fields map[string]string `koanf:"fields"`

	// Redaction masks sensitive values before encoding.
	Redaction RedactionConfig `koanf:"redaction"`
}

// OutputConfig selects log destinations.
type OutputConfig struct {
	// Stdout enables the stdout core.
	Stdout bool `koanf:"stdout"`

	// OTEL enables the OpenTelemetry log bridge. A LoggerProvider must be
	// passed to NewLogger for this to take effect.
	OTEL bool `koanf:"otel"`
}

// SamplingConfig rate-limits log entries per message within a tick.
// Entries at ErrorLevel and above are never sampled.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	First      int           `koanf:"first"`
	Thereafter int           `koanf:"thereafter"`
}

// CallerConfig controls caller annotation.
type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig sets the stacktrace capture threshold.
type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// RedactionConfig masks sensitive fields.
type RedactionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Fields are exact field keys whose values are replaced.
	Fields []string `koanf:"fields"`
}

// NewDefaultConfig returns production defaults: JSON to stdout at info,
// sampling on, redaction of common credential keys.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: FormatJSON,
		Output: OutputConfig{
			Stdout: true,
			OTEL:   false,
		},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			First:      100,
			Thereafter: 100,
		},
		Caller: CallerConfig{
			Enabled: true,
			Skip:    1,
		},
		Stacktrace: StacktraceConfig{
			Level: zapcore.ErrorLevel,
		},
		Fields: map[string]string{
			"service": "insightd",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields:  []string{"api_key", "token", "password", "secret", "authorization"},
		},
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	switch c.Format {
	case FormatJSON, FormatConsole:
	default:
		return fmt.Errorf("invalid log format %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return fmt.Errorf("at least one log output must be enabled")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be positive, got %v", c.Sampling.Tick)
		}
		if c.Sampling.First < 0 || c.Sampling.Thereafter < 0 {
			return fmt.Errorf("sampling counts must be non-negative")
		}
	}
	if c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be non-negative, got %d", c.Caller.Skip)
	}
	return nil
}
