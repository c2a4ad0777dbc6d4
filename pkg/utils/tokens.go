// Package utils holds small shared helpers: token counting for agent
// budgets and data directory setup.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

// TokenCounter counts tokens for budget enforcement. Unknown models fall
// back to the cl100k_base encoding, which is close enough for budgeting.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.Mutex
)

// NewTokenCounter builds a counter for the given model. Encodings are cached
// per model because initialization loads a vocabulary.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if cached, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load token encoding: %w", err)
		}
	}
	encodingCache[model] = encoding

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Model returns the model this counter was built for.
func (tc *TokenCounter) Model() string { return tc.model }

// Count returns the token count of a text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts the tokens of a transcript including per-message
// role overhead and reply priming.
func (tc *TokenCounter) CountMessages(messages []protocol.Message) int {
	const tokensPerMessage = 3

	total := 3 // reply priming
	for _, msg := range messages {
		total += tokensPerMessage
		total += tc.Count(string(msg.Role))
		total += tc.Count(msg.Content)
		for _, call := range msg.ToolCalls {
			total += tc.Count(call.Name)
			total += tc.Count(call.ArgsJSON())
		}
	}
	return total
}

// EstimateTokens is the rough fallback when no encoding is available.
func EstimateTokens(text string) int {
	return len(text) / 4
}
