package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackforge/stackforge/pkg/engine"
)

// Telemetry bundles the CLI logger, tracer and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds all three parts.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tracer, err := NewTracer(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return &Telemetry{Logger: NewLogger(cfg.Logging), Tracer: tracer, Metrics: metrics}, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown flushes pending spans. The metrics server stops with the context
// given to StartMetricsServer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// StartMetricsServer serves metrics until ctx is cancelled.
func (t *Telemetry) StartMetricsServer(ctx context.Context) error {
	return t.Metrics.StartMetricsServer(ctx, t.Logger.NewComponentLogger("metrics"))
}

// Operation is one CLI command run: its context, span and logger.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	start time.Time
}

// StartOperation opens a span for a CLI command. Without telemetry in ctx
// only the duration is logged.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, Logger: FromContext(ctx), start: time.Now()}
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return op
	}

	op.Ctx, op.Span = tel.Tracer.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	op.Logger = tel.Logger.WithField("operation", name)
	if id := TraceID(op.Ctx); id != "" {
		op.Logger = op.Logger.WithField("trace_id", id)
	}
	op.Ctx = op.Logger.WithContext(op.Ctx)
	return op
}

// End logs the outcome and closes the span. Engine errors put their class
// and code on the span.
func (op *Operation) End(err error) {
	logger := op.Logger.WithField("duration_ms", time.Since(op.start).Milliseconds())
	if err != nil {
		logger.WithError(err).Debug("Operation failed")
	} else {
		logger.Debug("Operation completed")
	}

	if op.Span == nil {
		return
	}
	defer op.Span.End()
	if err == nil {
		op.Span.SetStatus(codes.Ok, "")
		return
	}
	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		op.Span.SetAttributes(
			attribute.String("error.class", string(engErr.Class)),
			AttrErrorCode.String(engErr.Code),
		)
	}
	op.Span.RecordError(err)
	op.Span.SetStatus(codes.Error, err.Error())
}
