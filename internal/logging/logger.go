package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's DebugLevel for very verbose diagnostics.
const TraceLevel = zapcore.Level(-2)

// Logger wraps zap with context-aware methods. Correlation fields stored in
// the context (trace ids, session id, phase, dataset) are appended to every
// entry automatically.
type Logger struct {
	zap    *zap.Logger
	config *Config
}

// NewLogger builds a Logger from config. provider may be nil; it is required
// only when config.Output.OTEL is set.
func NewLogger(config *Config, provider log.LoggerProvider) (*Logger, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if config.Output.OTEL && provider == nil {
		return nil, errors.New("otel output enabled but no logger provider given")
	}

	core, err := newCore(config, provider)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{
		zap.AddStacktrace(config.Stacktrace.Level),
	}
	if config.Caller.Enabled {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(config.Caller.Skip))
	}

	zl := zap.New(core, opts...)
	if len(config.Fields) > 0 {
		fields := make([]zap.Field, 0, len(config.Fields))
		for k, v := range config.Fields {
			fields = append(fields, zap.String(k, v))
		}
		zl = zl.With(fields...)
	}

	return &Logger{zap: zl, config: config}, nil
}

// LevelFromString parses a level name, accepting "trace" in addition to the
// standard zap names.
func LevelFromString(s string) (zapcore.Level, error) {
	if strings.EqualFold(s, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InvalidLevel, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Trace logs at TraceLevel.
func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

// Debug logs at DebugLevel.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

// Info logs at InfoLevel.
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

// Warn logs at WarnLevel.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

// Error logs at ErrorLevel.
func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Fatal logs at FatalLevel then exits.
func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, append(fields, ContextFields(ctx)...)...)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	if ce := l.zap.Check(level, msg); ce != nil {
		ce.Write(append(fields, ContextFields(ctx)...)...)
	}
}

// With returns a Logger with additional static fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...), config: l.config}
}

// Named returns a Logger with a dot-joined subscope name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name), config: l.config}
}

// Enabled reports whether the given level would be emitted.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Underlying exposes the wrapped zap logger for libraries that require one.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// Sync flushes buffered entries. Errors from syncing terminal devices are
// ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	if errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}
