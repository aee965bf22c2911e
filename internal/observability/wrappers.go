package observability

import (
	"context"
	"io"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextvibe/nextvibe/internal/llm"
	"github.com/nextvibe/nextvibe/internal/sandbox"
	"github.com/nextvibe/nextvibe/internal/transcribe"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics, tracing, and anomaly detection.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.complete",
			trace.WithAttributes(
				attribute.String("llm.provider", provider),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)
		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	if p.anomaly != nil {
		if err != nil {
			p.anomaly.RecordError("llm_request")
		} else {
			p.anomaly.RecordSuccess("llm_request")
		}
	}

	return resp, err
}

// --- InstrumentedSandbox ---

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics, tracing, and anomaly detection.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string // "process" or "docker"
	metrics     *MetricsCollector
	tracer      trace.Tracer
	anomaly     *AnomalyDetector
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      tracer,
		anomaly:     anomaly,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "sandbox.execute",
			trace.WithAttributes(
				attribute.String("sandbox.type", s.sandboxType),
				attribute.String("sandbox.language", req.Language),
			))
		defer span.End()
	}

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "canceled"
	if err == nil && result != nil {
		status = string(result.Status)
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(
				attribute.String("sandbox.status", status),
				attribute.Int("sandbox.exit_code", result.ExitCode),
			)
		}
	} else if err != nil && s.tracer != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(duration)
	}

	if s.anomaly != nil {
		// Only infrastructure failures count as sandbox errors; a user
		// program exiting non-zero is a healthy sandbox.
		if err != nil || (result != nil && result.Status == "sandbox_error") {
			s.anomaly.RecordError("sandbox_" + s.sandboxType)
		} else {
			s.anomaly.RecordSuccess("sandbox_" + s.sandboxType)
		}
	}

	return result, err
}

// --- InstrumentedTranscriber ---

// InstrumentedTranscriber wraps a transcribe.Transcriber with request metrics.
type InstrumentedTranscriber struct {
	inner   transcribe.Transcriber
	metrics *MetricsCollector
}

// NewInstrumentedTranscriber wraps a transcriber with observability.
func NewInstrumentedTranscriber(inner transcribe.Transcriber, metrics *MetricsCollector) *InstrumentedTranscriber {
	return &InstrumentedTranscriber{inner: inner, metrics: metrics}
}

// Transcribe delegates to the wrapped transcriber and counts the outcome.
func (t *InstrumentedTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	text, err := t.inner.Transcribe(ctx, audio, filename)

	if t.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		t.metrics.TranscriptionsTotal.WithLabelValues(status).Inc()
	}
	return text, err
}

// --- Compile-time interface checks ---

var (
	_ llm.Provider           = (*InstrumentedProvider)(nil)
	_ sandbox.Sandbox        = (*InstrumentedSandbox)(nil)
	_ transcribe.Transcriber = (*InstrumentedTranscriber)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
