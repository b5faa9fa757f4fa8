package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates every component from the configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedContext is an operation with its span, logger and timer.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation starts a span for operation when the context carries a
// Telemetry. Without one, only the logger and the timer are set.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}
	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End closes the span, recording err when set.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}
