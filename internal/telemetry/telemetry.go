// Package telemetry provides OpenTelemetry traces and metrics for run and
// step execution, plus trace-context propagation across the message broker.
// Adapted from the teacher's internal/workflows/runtime/telemetry.go
// WorkflowTelemetry (run/step span pairs keyed by runID, a fixed metric set,
// a NATSTraceCarrier for header-based propagation, and a
// MarshalStepWithTrace/UnmarshalStepWithTrace envelope wrapper), generalized
// from a flat ExecutionStep/StepStatus model to node.Kind/node.Status and
// from the teacher's "station.workflows" instrumentation names to this
// core's own.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"workflowcore/internal/node"
)

const (
	tracerName = "workflowcore.runtime"
	meterName  = "workflowcore.runtime"
)

// Telemetry holds the tracer/meter pair and the run-span table a Consumer
// Loop uses to thread one logical span across many HandleEnvelope calls for
// the same run (each call is a separate broker delivery, not a separate
// Go call stack, so the span can't simply live on a context value).
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	runCounter     metric.Int64Counter
	runDuration    metric.Float64Histogram
	stepCounter    metric.Int64Counter
	stepDuration   metric.Float64Histogram
	activeRuns     metric.Int64UpDownCounter
	failureCounter metric.Int64Counter
	outboxCycle    metric.Int64Counter

	mu       sync.RWMutex
	runSpans map[string]trace.Span
}

func New() (*Telemetry, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t := &Telemetry{
		tracer:   sdktrace.NewTracerProvider().Tracer(tracerName),
		meter:    otel.Meter(meterName),
		runSpans: make(map[string]trace.Span),
	}

	var err error
	if t.runCounter, err = t.meter.Int64Counter("workflowcore_runs_total",
		metric.WithDescription("Total number of workflow runs started"), metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("create run counter: %w", err)
	}
	if t.runDuration, err = t.meter.Float64Histogram("workflowcore_run_duration_seconds",
		metric.WithDescription("Duration of a workflow run from dispatch to terminal outcome"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create run duration histogram: %w", err)
	}
	if t.stepCounter, err = t.meter.Int64Counter("workflowcore_steps_total",
		metric.WithDescription("Total number of NodeInstance executions"), metric.WithUnit("{step}")); err != nil {
		return nil, fmt.Errorf("create step counter: %w", err)
	}
	if t.stepDuration, err = t.meter.Float64Histogram("workflowcore_step_duration_seconds",
		metric.WithDescription("Duration of a single NodeInstance execution"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create step duration histogram: %w", err)
	}
	if t.activeRuns, err = t.meter.Int64UpDownCounter("workflowcore_runs_active",
		metric.WithDescription("Number of workflow runs currently suspended or executing"), metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("create active runs counter: %w", err)
	}
	if t.failureCounter, err = t.meter.Int64Counter("workflowcore_failures_total",
		metric.WithDescription("Total number of run or step failures"), metric.WithUnit("{failure}")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	if t.outboxCycle, err = t.meter.Int64Counter("workflowcore_outbox_dispatch_total",
		metric.WithDescription("Total number of outbox rows dispatched by the Scheduler"), metric.WithUnit("{row}")); err != nil {
		return nil, fmt.Errorf("create outbox dispatch counter: %w", err)
	}
	return t, nil
}

func (t *Telemetry) StartRunSpan(ctx context.Context, runID, workflowName string) context.Context {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("workflow.run.%s", workflowName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.name", workflowName),
		),
	)

	t.mu.Lock()
	t.runSpans[runID] = span
	t.mu.Unlock()

	t.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
	t.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
	return ctx
}

func (t *Telemetry) EndRunSpan(ctx context.Context, runID, workflowName string, status node.Status, duration time.Duration, err error) {
	t.mu.Lock()
	span, exists := t.runSpans[runID]
	if exists {
		delete(t.runSpans, runID)
	}
	t.mu.Unlock()
	if !exists || span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("workflow.status", string(status)),
		attribute.Float64("workflow.duration_seconds", duration.Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow.name", workflowName),
			attribute.String("failure.type", "run"),
		))
	} else if status == node.StatusCompleted {
		span.SetStatus(codes.Ok, "workflow completed successfully")
	}
	span.End()

	t.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow.name", workflowName),
		attribute.String("workflow.status", string(status)),
	))
	t.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("workflow.name", workflowName)))
}

// StartStepSpan starts a span for one NodeInstance execution (one
// Driver.Run call's worth of work at a single position).
func (t *Telemetry) StartStepSpan(ctx context.Context, runID, position string, kind node.Kind) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("workflow.step.%s", position),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.position", position),
			attribute.String("workflow.task_kind", string(kind)),
		),
	)
	t.stepCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.task_kind", string(kind))))
	return ctx, span
}

func (t *Telemetry) EndStepSpan(span trace.Span, kind node.Kind, status node.Status, duration time.Duration, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("workflow.step_status", string(status)),
		attribute.Float64("workflow.step_duration_seconds", duration.Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "step completed")
	}
	span.End()

	ctx := context.Background()
	t.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow.task_kind", string(kind)),
		attribute.String("workflow.step_status", string(status)),
	))
	if err != nil || status == node.StatusFaulted {
		t.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow.task_kind", string(kind)),
			attribute.String("failure.type", "step"),
		))
	}
}

// RecordOutboxDispatch counts one Scheduler dispatchOnce cycle's worth of
// claimed rows, labeled by outbox Kind.
func (t *Telemetry) RecordOutboxDispatch(ctx context.Context, kind string, count int64) {
	t.outboxCycle.Add(ctx, count, metric.WithAttributes(attribute.String("outbox.kind", kind)))
}

// TraceCarrier implements propagation.TextMapCarrier over a plain string
// map, so a trace context can ride alongside a message.Envelope's own
// fields without polluting them, mirroring the teacher's NATSTraceCarrier.
type TraceCarrier struct {
	headers map[string]string
}

func NewTraceCarrier() *TraceCarrier { return &TraceCarrier{headers: make(map[string]string)} }

func NewTraceCarrierFromHeaders(headers map[string]string) *TraceCarrier {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &TraceCarrier{headers: headers}
}

func (c *TraceCarrier) Get(key string) string   { return c.headers[key] }
func (c *TraceCarrier) Set(key, value string)   { c.headers[key] = value }
func (c *TraceCarrier) Headers() map[string]string { return c.headers }
func (c *TraceCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}

func InjectTraceContext(ctx context.Context, carrier *TraceCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

func ExtractTraceContext(ctx context.Context, carrier *TraceCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
