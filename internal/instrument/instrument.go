package instrument

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Instrumenter starts spans around units of work. The active instrumenter
// travels in the request context.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
}

type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	TraceID() string
	SpanID() string
}

type instrumenterKey struct{}
type spanKey struct{}

// WithInstrumenter attaches inst to ctx.
func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey{}, inst)
}

// GetInstrumenter returns the instrumenter in ctx, or a no-op one.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if inst, ok := ctx.Value(instrumenterKey{}).(Instrumenter); ok && inst != nil {
		return inst
	}
	return &NoopInstrumenter{}
}

// SpanFromContext returns the innermost span started in ctx, if any.
func SpanFromContext(ctx context.Context) (Span, bool) {
	s, ok := ctx.Value(spanKey{}).(Span)
	return s, ok
}

// LogInstrumenter writes finished spans to a structured logger and records
// their durations in Metrics.
type LogInstrumenter struct {
	logger  *slog.Logger
	metrics *Metrics
}

func NewLogInstrumenter(logger *slog.Logger, metrics *Metrics) *LogInstrumenter {
	return &LogInstrumenter{logger: logger, metrics: metrics}
}

func (l *LogInstrumenter) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	s := &logSpan{
		inst:      l,
		source:    source,
		component: component,
		action:    action,
		spanID:    uuid.NewString(),
		start:     time.Now(),
		status:    "ok",
	}
	if parent, ok := SpanFromContext(ctx); ok && parent.TraceID() != "" {
		s.traceID = parent.TraceID()
		s.parentID = parent.SpanID()
	} else {
		s.traceID = uuid.NewString()
	}
	return context.WithValue(ctx, spanKey{}, Span(s)), s
}

type logSpan struct {
	inst      *LogInstrumenter
	source    string
	component string
	action    string
	traceID   string
	spanID    string
	parentID  string
	start     time.Time
	status    string
	metadata  []any
	ended     bool
}

func (s *logSpan) End() {
	if s.ended {
		return
	}
	s.ended = true
	elapsed := time.Since(s.start)

	s.inst.metrics.ObserveSpan(s.component, s.action, s.status, elapsed)
	if s.inst.logger == nil {
		return
	}
	attrs := []any{
		"trace_id", s.traceID,
		"span_id", s.spanID,
		"source", s.source,
		"component", s.component,
		"action", s.action,
		"status", s.status,
		"duration_ms", float64(elapsed.Microseconds()) / 1000,
	}
	if s.parentID != "" {
		attrs = append(attrs, "parent_span_id", s.parentID)
	}
	attrs = append(attrs, s.metadata...)
	s.inst.logger.Debug("span", attrs...)
}

func (s *logSpan) SetStatus(status string) { s.status = status }

func (s *logSpan) SetMetadata(key string, value any) {
	s.metadata = append(s.metadata, key, value)
}

func (s *logSpan) TraceID() string { return s.traceID }
func (s *logSpan) SpanID() string  { return s.spanID }
