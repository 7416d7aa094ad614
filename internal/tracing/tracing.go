// Package tracing wraps OpenTelemetry span creation for the agent's
// LLM requests, tool executions and conversation turns. No OTLP
// exporter is wired: New installs an in-process, always-sampling SDK
// TracerProvider with no span processor, so spans are recorded and carry
// trace/span IDs (see TraceID) but are not exported anywhere.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer issues spans for the agent's instrumented operations.
type Tracer struct {
	tracer trace.Tracer
}

// Config names the service for the spans it emits.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// New builds a Tracer backed by an always-sampling, in-process
// TracerProvider. The returned shutdown func flushes and releases the
// provider's resources; callers should defer it.
func New(cfg Config) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agent"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

// SpanOptions configures span creation.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// Start opens a span and returns the context carrying it.
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		if opts[0].Kind != 0 {
			options = append(options, trace.WithSpanKind(opts[0].Kind))
		}
		if len(opts[0].Attributes) > 0 {
			options = append(options, trace.WithAttributes(opts[0].Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// RecordError marks the span as failed and attaches err.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// StartLLMRequest opens a client span for one completion call.
func (t *Tracer) StartLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		},
	})
}

// StartToolExecution opens an internal span for one tool call.
func (t *Tracer) StartToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName), SpanOptions{
		Kind:       trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{attribute.String("tool.name", toolName)},
	})
}

// StartConversationTurn opens a server span covering one processed
// inbound message, from channel receipt to reply.
func (t *Tracer) StartConversationTurn(ctx context.Context, channel, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, "conversation.turn", SpanOptions{
		Kind: trace.SpanKindServer,
		Attributes: []attribute.KeyValue{
			attribute.String("channel", channel),
			attribute.String("session_id", sessionID),
		},
	})
}

// TraceID returns the active span's trace id, or "" if none is recording.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
