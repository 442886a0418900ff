package flowvm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for flowvm tracing.
const tracerName = "github.com/deepnoodle-ai/flowvm"

// TracingListener records one OpenTelemetry span per executed command.
// With no TracerProvider configured globally the noop tracer is used.
type TracingListener struct {
	BaseExecutionListener
	tracer trace.Tracer
	mutex  sync.Mutex
	spans  map[ThreadID]trace.Span
}

// NewTracingListener returns a listener using the global tracer provider
func NewTracingListener() *TracingListener {
	return NewTracingListenerWithTracer(otel.Tracer(tracerName))
}

// NewTracingListenerWithTracer returns a listener using the provided tracer
func NewTracingListenerWithTracer(tracer trace.Tracer) *TracingListener {
	return &TracingListener{tracer: tracer, spans: map[ThreadID]trace.Span{}}
}

func (l *TracingListener) BeforeCommand(ctx context.Context, event *CommandEvent) {
	attrs := []attribute.KeyValue{
		attribute.String("flowvm.instance_id", event.InstanceID),
		attribute.Int64("flowvm.thread_id", int64(event.ThreadID)),
		attribute.String("flowvm.command.kind", string(event.Kind)),
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("flowvm.command.name", event.Name))
	}
	if event.Location != nil {
		attrs = append(attrs,
			attribute.String("flowvm.flow", event.Location.Flow),
			attribute.Int("flowvm.line", event.Location.Line),
		)
	}
	_, span := l.tracer.Start(ctx, "flowvm.command."+string(event.Kind),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	l.mutex.Lock()
	l.spans[event.ThreadID] = span
	l.mutex.Unlock()
}

func (l *TracingListener) AfterCommand(ctx context.Context, event *CommandEvent) error {
	l.mutex.Lock()
	span, ok := l.spans[event.ThreadID]
	delete(l.spans, event.ThreadID)
	l.mutex.Unlock()
	if !ok {
		return nil
	}
	span.SetAttributes(attribute.String("flowvm.command.result", string(event.Result)))
	if event.Error != nil {
		span.RecordError(event.Error)
		span.SetStatus(codes.Error, event.Error.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return nil
}
