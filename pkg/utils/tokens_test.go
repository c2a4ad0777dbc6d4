package utils

import (
	"testing"

	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4o", "gpt-3.5-turbo", "llama3", "unknown-model"} {
		counter, err := NewTokenCounter(model)
		if err != nil {
			t.Errorf("NewTokenCounter(%s) error = %v", model, err)
			continue
		}
		if counter.Model() != model {
			t.Errorf("Model() = %s, want %s", counter.Model(), model)
		}
	}
}

func TestTokenCounter_Count(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}

	if got := counter.Count(""); got != 0 {
		t.Errorf("Count(empty) = %d, want 0", got)
	}

	count := counter.Count("This is a longer sentence with more words to count tokens accurately.")
	if count < 12 || count > 18 {
		t.Errorf("Count() = %d, want between 12 and 18", count)
	}
}

func TestTokenCounter_CountMessages(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("NewTokenCounter() error = %v", err)
	}

	// Empty transcript still carries the reply priming overhead.
	if got := counter.CountMessages(nil); got != 3 {
		t.Errorf("CountMessages(nil) = %d, want 3", got)
	}

	messages := []protocol.Message{
		*protocol.User("What is AI?"),
		*protocol.Assistant("AI stands for Artificial Intelligence."),
	}
	count := counter.CountMessages(messages)
	if count < 10 || count > 30 {
		t.Errorf("CountMessages() = %d, want between 10 and 30", count)
	}

	// Tool calls contribute to the count.
	withCall := append(messages, *protocol.AssistantWithToolCalls("", []*protocol.ToolCall{
		{ID: "call_1", Name: "read_file", Args: map[string]interface{}{"path": "/tmp/a"}},
	}))
	if counter.CountMessages(withCall) <= count {
		t.Error("tool calls should increase the message count")
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("testtest"); got != 2 {
		t.Errorf("EstimateTokens() = %d, want 2", got)
	}
}
