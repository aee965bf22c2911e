package observability

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/nextvibe/nextvibe/internal/config"
	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/llm"
	"github.com/nextvibe/nextvibe/internal/sandbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// counterValue extracts a counter's value for the given label values.
func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewMetricsCollector_Registers(t *testing.T) {
	m := NewMetricsCollector()

	m.TasksTotal.WithLabelValues("bug_fix", "success").Inc()
	m.AdmissionDenials.Inc()
	m.BusyRejections.Inc()
	m.InFlightTasks.Set(3)

	if v := counterValue(t, m, "nextvibe_tasks_total", map[string]string{"category": "bug_fix", "outcome": "success"}); v != 1 {
		t.Errorf("tasks_total = %v, want 1", v)
	}
	if v := counterValue(t, m, "nextvibe_ratelimit_denials_total", nil); v != 1 {
		t.Errorf("denials_total = %v, want 1", v)
	}
}

type failingProvider struct{ err error }

func (f *failingProvider) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: "ok", Usage: llm.Usage{InputTokens: 7, OutputTokens: 2}}, nil
}
func (f *failingProvider) Name() string { return "fake" }

func TestInstrumentedProvider_RecordsOutcomes(t *testing.T) {
	m := NewMetricsCollector()

	ok := NewInstrumentedProvider(&failingProvider{}, m, nil, nil)
	if _, err := ok.Complete(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := NewInstrumentedProvider(&failingProvider{err: errors.New("boom")}, m, nil, nil)
	if _, err := bad.Complete(context.Background(), &llm.Request{}); err == nil {
		t.Fatal("expected error to propagate")
	}

	if v := counterValue(t, m, "nextvibe_llm_requests_total", map[string]string{"provider": "fake", "status": "success"}); v != 1 {
		t.Errorf("success count = %v, want 1", v)
	}
	if v := counterValue(t, m, "nextvibe_llm_requests_total", map[string]string{"provider": "fake", "status": "error"}); v != 1 {
		t.Errorf("error count = %v, want 1", v)
	}
	if v := counterValue(t, m, "nextvibe_llm_tokens_used_total", map[string]string{"provider": "fake", "direction": "input"}); v != 7 {
		t.Errorf("input tokens = %v, want 7", v)
	}
}

type fixedSandbox struct {
	result *sandbox.ExecutionResult
	err    error
}

func (f *fixedSandbox) Execute(context.Context, sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	return f.result, f.err
}

func TestInstrumentedSandbox_StatusLabel(t *testing.T) {
	m := NewMetricsCollector()
	inner := &fixedSandbox{result: &sandbox.ExecutionResult{Status: domain.ExecTimeout, ExitCode: -1}}
	sb := NewInstrumentedSandbox(inner, "process", m, nil, nil)

	if _, err := sb.Execute(context.Background(), sandbox.ExecutionRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := counterValue(t, m, "nextvibe_sandbox_executions_total", map[string]string{"type": "process", "status": "timeout"}); v != 1 {
		t.Errorf("timeout count = %v, want 1", v)
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	h := NewHealthChecker(discardLogger())
	h.AddCheck("storage", func(context.Context) error { return nil })
	h.AddCheck("docker", func(context.Context) error { return errors.New("daemon unreachable") })

	status := h.Readiness(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v", status.Checks["storage"])
	}
	if status.Checks["docker"].Status != "fail" {
		t.Errorf("docker check = %+v", status.Checks["docker"])
	}
	if live := h.Liveness(); live.Status != "ok" {
		t.Errorf("liveness = %q, want ok", live.Status)
	}
}

// warnCounter counts Warn-level records.
type warnCounter struct {
	mu    sync.Mutex
	warns int
}

func (w *warnCounter) Enabled(_ context.Context, level slog.Level) bool { return level >= slog.LevelWarn }
func (w *warnCounter) Handle(_ context.Context, _ slog.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.warns++
	return nil
}
func (w *warnCounter) WithAttrs([]slog.Attr) slog.Handler { return w }
func (w *warnCounter) WithGroup(string) slog.Handler      { return w }

func (w *warnCounter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.warns
}

func TestAnomalyDetector_DenialBurst(t *testing.T) {
	wc := &warnCounter{}
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:         true,
		DenialThreshold: 3,
		WindowSeconds:   300,
	}, slog.New(wc))

	a.RecordDenial("user-1")
	a.RecordDenial("user-1")
	if wc.count() != 0 {
		t.Fatalf("flagged below threshold: %d warns", wc.count())
	}
	a.RecordDenial("user-1")
	if wc.count() == 0 {
		t.Error("expected a warning at the denial threshold")
	}

	// A different identity has its own window.
	before := wc.count()
	a.RecordDenial("user-2")
	if wc.count() != before {
		t.Error("unrelated identity should not be flagged")
	}
}

func TestAnomalyDetector_ErrorRate(t *testing.T) {
	wc := &warnCounter{}
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      300,
	}, slog.New(wc))

	// 4 errors / 6 total = 0.66 > 0.5, but only after the 5-sample minimum.
	a.RecordSuccess("llm_request")
	a.RecordSuccess("llm_request")
	a.RecordError("llm_request")
	a.RecordError("llm_request")
	a.RecordError("llm_request")
	a.RecordError("llm_request")

	if wc.count() == 0 {
		t.Error("expected a high-error-rate warning")
	}
}

func TestObservability_DisabledIsNil(t *testing.T) {
	obs, err := New(nil, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs != nil {
		t.Fatal("nil config should disable everything")
	}
	// Nil-safe accessors.
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil {
		t.Error("accessors on nil receiver must return nil")
	}
	obs.Shutdown(context.Background())
}

func TestObservability_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Metrics == nil {
		t.Fatal("metrics should be enabled")
	}
	if obs.Health == nil {
		t.Fatal("health checker is always created")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when tracing is not configured")
	}
}
