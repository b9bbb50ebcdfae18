package trace

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/logging"
)

// Tracer fans phase lifecycle events out to its sinks, mirrors them onto
// the active span, and feeds the run metrics.
type Tracer struct {
	logger  *logging.Logger
	sinks   []Sink
	metrics *Metrics
}

// New creates a tracer over the given sinks. A nil logger falls back to a
// no-op logger.
func New(logger *logging.Logger, sinks ...Sink) *Tracer {
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	return &Tracer{
		logger:  logger.Named("trace"),
		sinks:   sinks,
		metrics: NewMetrics(),
	}
}

// Metrics exposes the run metrics so the coordinator can record run-level
// outcomes through the same registry.
func (t *Tracer) Metrics() *Metrics {
	return t.metrics
}

// PhaseStart records a phase beginning work.
func (t *Tracer) PhaseStart(ctx context.Context, sessionID, dataset, phase string) {
	t.emit(ctx, Event{
		Time:      time.Now().UTC(),
		Type:      EventPhaseStart,
		SessionID: sessionID,
		Dataset:   dataset,
		Phase:     phase,
	})
}

// PhaseEnd records a phase finishing successfully.
func (t *Tracer) PhaseEnd(ctx context.Context, sessionID, dataset, phase string, d time.Duration) {
	t.metrics.RecordPhase(phase, "ok", d.Seconds())
	t.emit(ctx, Event{
		Time:       time.Now().UTC(),
		Type:       EventPhaseEnd,
		SessionID:  sessionID,
		Dataset:    dataset,
		Phase:      phase,
		DurationMS: float64(d.Milliseconds()),
	})
}

// PhaseError records a phase ending in failure.
func (t *Tracer) PhaseError(ctx context.Context, sessionID, dataset, phase string, d time.Duration, cause error) {
	t.metrics.RecordPhase(phase, "error", d.Seconds())
	ev := Event{
		Time:       time.Now().UTC(),
		Type:       EventPhaseError,
		SessionID:  sessionID,
		Dataset:    dataset,
		Phase:      phase,
		DurationMS: float64(d.Milliseconds()),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	t.emit(ctx, ev)
}

func (t *Tracer) emit(ctx context.Context, ev Event) {
	t.annotateSpan(ctx, ev)

	switch ev.Type {
	case EventPhaseError:
		t.logger.Warn(ctx, "phase failed",
			zap.String("phase", ev.Phase),
			zap.Float64("duration_ms", ev.DurationMS),
			zap.String("cause", ev.Error))
	case EventPhaseEnd:
		t.logger.Info(ctx, "phase completed",
			zap.String("phase", ev.Phase),
			zap.Float64("duration_ms", ev.DurationMS))
	default:
		t.logger.Debug(ctx, "phase started",
			zap.String("phase", ev.Phase))
	}

	for _, sink := range t.sinks {
		if err := sink.Emit(ctx, ev); err != nil {
			t.logger.Warn(ctx, "trace sink failed",
				zap.String("phase", ev.Phase),
				zap.String("event", string(ev.Type)),
				zap.Error(err))
		}
	}
}

// annotateSpan mirrors the event onto the span already active in ctx, if
// any. The tracer never starts spans of its own.
func (t *Tracer) annotateSpan(ctx context.Context, ev Event) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("insightd.session_id", ev.SessionID),
		attribute.String("insightd.phase", ev.Phase),
	}
	if ev.DurationMS > 0 {
		attrs = append(attrs, attribute.Float64("insightd.duration_ms", ev.DurationMS))
	}
	if ev.Error != "" {
		attrs = append(attrs, attribute.String("insightd.error", ev.Error))
	}
	span.AddEvent(string(ev.Type), oteltrace.WithAttributes(attrs...))
}

// Close shuts down every sink, returning the joined errors.
func (t *Tracer) Close() error {
	var errs []error
	for _, sink := range t.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
