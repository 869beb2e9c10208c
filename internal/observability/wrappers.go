package observability

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/vaultchat/internal/failure"
	"github.com/jkaninda/vaultchat/internal/llm"
	"github.com/jkaninda/vaultchat/internal/secrets"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.StreamingProvider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.StreamingProvider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.StreamingProvider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	if span != nil {
		if err != nil {
			recordSpanError(span, err)
		} else if resp != nil {
			span.SetAttributes(
				attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
				attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
			)
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, "once", statusOf(err)).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, "once").Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

// StreamMessage opens the stream and returns a wrapper that counts chunks
// and ends the span when the stream finishes.
func (p *InstrumentedProvider) StreamMessage(ctx context.Context, req *llm.Request) (*llm.Stream, error) {
	provider := p.inner.Name()

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "llm.stream_message",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
			))
	}

	start := time.Now()
	inner, err := p.inner.StreamMessage(ctx, req)
	if err != nil {
		if span != nil {
			recordSpanError(span, err)
			span.End()
		}
		if p.metrics != nil {
			p.metrics.LLMRequestsTotal.WithLabelValues(provider, "stream", statusOf(err)).Inc()
			p.metrics.LLMRequestDuration.WithLabelValues(provider, "stream").Observe(time.Since(start).Seconds())
		}
		return nil, err
	}

	chunks := 0
	finished := false
	finish := func(err error) {
		if finished {
			return
		}
		finished = true
		if span != nil {
			span.SetAttributes(attribute.Int("llm.stream_chunks", chunks))
			if err != nil {
				recordSpanError(span, err)
			}
			span.End()
		}
		if p.metrics != nil {
			p.metrics.LLMRequestsTotal.WithLabelValues(provider, "stream", statusOf(err)).Inc()
			p.metrics.LLMRequestDuration.WithLabelValues(provider, "stream").Observe(time.Since(start).Seconds())
		}
	}

	next := func() (string, error) {
		if inner.Next() {
			chunks++
			if p.metrics != nil {
				p.metrics.LLMStreamChunks.WithLabelValues(provider).Inc()
			}
			return inner.Current(), nil
		}
		err := inner.Err()
		finish(err)
		if err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return llm.NewStream(next, closerFunc(func() error {
		finish(nil)
		return inner.Close()
	})), nil
}

// --- InstrumentedSecrets ---

// InstrumentedSecrets wraps a secrets.Provider with metrics and tracing.
// Only the secret name and resolved version reach spans.
type InstrumentedSecrets struct {
	inner   secrets.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSecrets wraps a secret provider with observability.
func NewInstrumentedSecrets(inner secrets.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSecrets {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSecrets{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSecrets) Name() string { return s.inner.Name() }

func (s *InstrumentedSecrets) Resolve(ctx context.Context, name string) (*secrets.Secret, error) {
	provider := s.inner.Name()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "secret.resolve",
			trace.WithAttributes(
				attribute.String("secret.provider", provider),
				attribute.String("secret.name", name),
			))
		defer span.End()
	}

	start := time.Now()
	secret, err := s.inner.Resolve(ctx, name)
	duration := time.Since(start).Seconds()

	if span != nil {
		if err != nil {
			recordSpanError(span, err)
		} else {
			span.SetAttributes(attribute.String("secret.version", secret.Version()))
		}
	}

	if s.metrics != nil {
		s.metrics.SecretFetchTotal.WithLabelValues(provider, statusOf(err)).Inc()
		s.metrics.SecretFetchDuration.WithLabelValues(provider).Observe(duration)
	}

	return secret, err
}

// --- Compile-time interface checks ---

var (
	_ llm.StreamingProvider = (*InstrumentedProvider)(nil)
	_ secrets.Provider      = (*InstrumentedSecrets)(nil)
)

// statusOf returns the metric label for an outcome: "success" or the
// failure kind, falling back to "error".
func statusOf(err error) string {
	if err == nil {
		return "success"
	}
	if kind, ok := failure.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind, ok := failure.KindOf(err); ok {
		span.SetAttributes(attribute.String("failure.kind", string(kind)))
	}
	if status := failure.StatusOf(err); status != 0 {
		span.SetAttributes(attribute.Int("failure.status", status))
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
