// Package protocol defines the message model shared by the LLM client, the
// agents, the tool host and the swarm coordinator. Messages are immutable
// values: once appended to a transcript they are never mutated.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// TaskIDKeyType is a custom type for context keys to avoid collisions
type TaskIDKeyType string

// TaskIDKey is the context key carrying the owning task id across tool calls
const TaskIDKey TaskIDKeyType = "hivemind:taskID"

// AgentIDKeyType is a custom type for context keys to avoid collisions
type AgentIDKeyType string

// AgentIDKey is the context key carrying the originating agent id
const AgentIDKey AgentIDKeyType = "hivemind:agentID"

// ToolCall is a structured tool invocation emitted by the LLM.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"arguments"`
}

// ToolResult is the resolved outcome of exactly one ToolCall.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name,omitempty"`
	Content    string        `json:"content"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Message is one entry in a transcript.
//
// Assistant messages may carry tool calls alongside or instead of text.
// Tool messages carry the result of a single tool call and reference it
// by ToolCallID.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
}

func System(text string) *Message {
	return &Message{Role: RoleSystem, Content: text}
}

func User(text string) *Message {
	return &Message{Role: RoleUser, Content: text}
}

func Assistant(text string) *Message {
	return &Message{Role: RoleAssistant, Content: text}
}

// AssistantWithToolCalls builds an assistant message carrying tool calls.
func AssistantWithToolCalls(text string, calls []*ToolCall) *Message {
	return &Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolMessage folds a tool result back into the transcript so the LLM can
// reason about it on the next turn. Errors are rendered inline rather than
// aborting the conversation.
func ToolMessage(result *ToolResult) *Message {
	content := result.Content
	if result.Error != "" {
		content = fmt.Sprintf("Error (%s): %s", result.ErrorKind, result.Error)
		if result.ErrorKind == "" {
			content = fmt.Sprintf("Error: %s", result.Error)
		}
	}
	return &Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: result.ToolCallID,
		ToolName:   result.ToolName,
	}
}

// ArgsJSON renders the call arguments as a compact JSON blob.
func (tc *ToolCall) ArgsJSON() string {
	if tc == nil || tc.Args == nil {
		return "{}"
	}
	data, err := json.Marshal(tc.Args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
