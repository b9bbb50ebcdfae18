package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	sessionIDKey ctxKey = iota
	phaseKey
	datasetKey
	requestIDKey
	loggerKey
)

// maxFieldLen caps correlation values so a hostile input cannot bloat
// every log line.
const maxFieldLen = 128

func clip(s string) string {
	if len(s) > maxFieldLen {
		return s[:maxFieldLen]
	}
	return s
}

// WithSessionID stores the analysis session id for log correlation.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, clip(id))
}

// SessionIDFromContext returns the stored session id, if any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithPhase stores the coordinator phase currently executing.
func WithPhase(ctx context.Context, phase string) context.Context {
	if phase == "" {
		return ctx
	}
	return context.WithValue(ctx, phaseKey, clip(phase))
}

// PhaseFromContext returns the stored phase, if any.
func PhaseFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(phaseKey).(string)
	return p, ok
}

// WithDataset stores the dataset name being analyzed.
func WithDataset(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, datasetKey, clip(name))
}

// DatasetFromContext returns the stored dataset name, if any.
func DatasetFromContext(ctx context.Context) (string, bool) {
	d, ok := ctx.Value(datasetKey).(string)
	return d, ok
}

// WithRequestID stores an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, clip(id))
}

// RequestIDFromContext returns the stored request id, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the stored logger, or a no-op logger when absent.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok && l != nil {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}

// ContextFields extracts correlation fields from the context: active trace
// and span ids plus the insightd identifiers stored by the With* helpers.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id, ok := SessionIDFromContext(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	if phase, ok := PhaseFromContext(ctx); ok {
		fields = append(fields, zap.String("phase", phase))
	}
	if dataset, ok := DatasetFromContext(ctx); ok {
		fields = append(fields, zap.String("dataset", dataset))
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}
