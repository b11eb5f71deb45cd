package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys
const (
	AttrExecutionID = "agentflow.execution.id"
	AttrTaskID      = "agentflow.task.id"
	AttrWorkflowID  = "agentflow.workflow.id"
	AttrNodeID      = "agentflow.node.id"
	AttrNodeKind    = "agentflow.node.kind"
	AttrHandler     = "agentflow.node.handler"
	AttrIteration   = "agentflow.loop.iteration"
)

const tracerName = "github.com/sicko7947/agentflow/engine"

func defaultTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer(tracerName)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func setSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
