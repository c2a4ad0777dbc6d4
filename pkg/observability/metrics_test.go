package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_RecordAndExpose(t *testing.T) {
	m := NewMetrics()

	m.RecordLLMCall("llama3.2", "ollama", 250*time.Millisecond, 100, 40, nil)
	m.RecordLLMCall("llama3.2", "ollama", time.Second, 0, 0, errors.New("boom"))
	m.RecordToolExecution("file_read", 5*time.Millisecond, nil)
	m.RecordSwarmRun("star", "success", 4)
	m.RecordBreakerTrip("ollama")
	m.RecordRAGOperation("search", nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`hivemind_llm_requests_total{backend="ollama",model="llama3.2",status="success"} 1`,
		`hivemind_llm_requests_total{backend="ollama",model="llama3.2",status="error"} 1`,
		`hivemind_llm_tokens_total{direction="input",model="llama3.2"} 100`,
		`hivemind_tool_calls_total{status="success",tool="file_read"} 1`,
		`hivemind_swarm_runs_total{status="success",topology="star"} 1`,
		`hivemind_circuit_breaker_trips_total{backend="ollama"} 1`,
		`hivemind_rag_operations_total{operation="search",status="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_NilRecorderIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordLLMCall("m", "b", time.Second, 1, 1, nil)
	m.RecordToolExecution("t", time.Second, nil)
	m.RecordSwarmRun("star", "success", 1)
	m.RecordBreakerTrip("b")
	m.RecordRAGOperation("add", nil)
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() must return the same recorder")
	}
}
