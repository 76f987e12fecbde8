package llm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracedLLM struct {
	next     CoreLLM
	tracer   trace.Tracer
	provider string
}

// TracingMiddleware wraps every call in an "llm.request" span carrying
// the provider, model, stage, prompt size and token usage.
func TracingMiddleware(tracer trace.Tracer, provider string) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{
			next:     next,
			tracer:   tracer,
			provider: provider,
		}
	}
}

// DoRequest executes the request within a span.
func (t *tracedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.String("llm.stage", ExtractOptionalString(opts, OptStage, "", nil)),
			attribute.Int("llm.prompt.length", len(prompt)),
			attribute.Bool("llm.structured", StructuredOutputFrom(opts) != nil),
			attribute.Bool("llm.cache_prefix", ExtractOptionalString(opts, OptCachePrefix, "", nil) != ""),
		),
	)
	defer span.End()

	response, tokensIn, tokensOut, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response, tokensIn, tokensOut, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", tokensIn),
		attribute.Int("llm.tokens.output", tokensOut),
		attribute.Int("llm.response.length", len(response)),
	)
	span.SetStatus(codes.Ok, "")
	return response, tokensIn, tokensOut, nil
}

// GetModel returns the model name from the wrapped implementation.
func (t *tracedLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *tracedLLM) SetModel(m string) { t.next.SetModel(m) }
