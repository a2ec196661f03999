package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/XuanLee-HEALER/shelly"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a shelly.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner shelly.Tool
	inst  *Instruments
	name  string
}

var _ shelly.Tool = (*ObservedTool)(nil)

// WrapTool returns an instrumented tool.
func WrapTool(inner shelly.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst, name: inner.Definition().Name}
}

func (o *ObservedTool) Definition() shelly.ToolDefinition {
	return o.inner.Definition()
}

func (o *ObservedTool) Execute(ctx context.Context, input json.RawMessage) (shelly.ToolOutput, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(o.name),
	))
	defer span.End()
	start := time.Now()

	out, err := o.inner.Execute(ctx, input)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if out.IsError {
		status = "tool_error"
	}
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(out.Content)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(o.name),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(o.name),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", o.name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(out.Content)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return out, err
}
