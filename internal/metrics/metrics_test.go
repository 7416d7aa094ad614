package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveLLMRequestRecordsCounterAndTokens(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLLMRequest("anthropic", "claude-3-5-sonnet", "ok", 120*time.Millisecond, 100, 50)

	reqs := counterValue(t, m.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-5-sonnet", "ok"))
	if reqs != 1 {
		t.Errorf("expected 1 request recorded, got %v", reqs)
	}

	in := counterValue(t, m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-5-sonnet", "input"))
	if in != 100 {
		t.Errorf("expected 100 input tokens, got %v", in)
	}
	out := counterValue(t, m.LLMTokensUsed.WithLabelValues("anthropic", "claude-3-5-sonnet", "output"))
	if out != 50 {
		t.Errorf("expected 50 output tokens, got %v", out)
	}
}

func TestObserveLLMRequestSkipsZeroTokenCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLLMRequest("openai", "gpt-4o", "error", 10*time.Millisecond, 0, 0)

	in := counterValue(t, m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "input"))
	if in != 0 {
		t.Errorf("expected no input tokens recorded, got %v", in)
	}
}

func TestObserveToolExecutionRecordsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveToolExecution("get_state", "ok", 5*time.Millisecond)
	m.ObserveToolExecution("get_state", "error", 5*time.Millisecond)

	ok := counterValue(t, m.ToolExecutionCounter.WithLabelValues("get_state", "ok"))
	if ok != 1 {
		t.Errorf("expected 1 ok execution, got %v", ok)
	}
	errs := counterValue(t, m.ToolExecutionCounter.WithLabelValues("get_state", "error"))
	if errs != 1 {
		t.Errorf("expected 1 error execution, got %v", errs)
	}
}

func TestNewRegistersDistinctCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one registered metric family")
	}
}
