package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hivemind-ai/hivemind/pkg/agent"
	"github.com/hivemind-ai/hivemind/pkg/embedders"
	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
	"github.com/hivemind-ai/hivemind/pkg/rag"
	"github.com/hivemind-ai/hivemind/pkg/swarm"
	"github.com/hivemind-ai/hivemind/pkg/tools"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Reports []agent.Report `json:"agent_reports,omitempty"`
}

// statusForKind maps stable error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case string(llms.KindBadRequest), string(tools.KindInvalidArgs), string(llms.KindContextOverflow):
		return http.StatusBadRequest
	case string(llms.KindAuthError):
		return http.StatusUnauthorized
	case string(tools.KindPolicyDenied):
		return http.StatusForbidden
	case string(tools.KindUnknownTool):
		return http.StatusNotFound
	case string(llms.KindRateLimited), string(llms.KindRateLimitTimeout):
		return http.StatusTooManyRequests
	case string(llms.KindCircuitOpen), string(llms.KindBackendUnavailable), string(embedders.KindBackendUnavailable):
		return http.StatusServiceUnavailable
	case string(llms.KindDeadlineExceeded), string(tools.KindToolTimeout):
		return http.StatusGatewayTimeout
	case swarm.KindPlanInvalid, swarm.KindInsufficientSuccesses, string(tools.KindToolError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, kind, message string) {
	s.writeErrorDetail(w, errorDetail{Kind: kind, Message: message})
}

func (s *Server) writeErrorDetail(w http.ResponseWriter, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(detail.Kind))
	json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// writeFailure renders any core error with its kind tag. Swarm errors carry
// the per-agent report.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var se *swarm.Error
	if errors.As(err, &se) {
		s.writeErrorDetail(w, errorDetail{Kind: se.Kind, Message: se.Message, Reports: se.Reports})
		return
	}
	var le *llms.Error
	if errors.As(err, &le) {
		s.writeErrorDetail(w, errorDetail{Kind: string(le.Kind), Message: le.Message})
		return
	}
	var te *tools.ToolError
	if errors.As(err, &te) {
		s.writeErrorDetail(w, errorDetail{Kind: string(te.Kind), Message: te.Message})
		return
	}
	var ee *embedders.Error
	if errors.As(err, &ee) {
		s.writeErrorDetail(w, errorDetail{Kind: string(ee.Kind), Message: ee.Message})
		return
	}
	s.writeErrorDetail(w, errorDetail{Kind: "internal", Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	Tools    []string      `json:"tools,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message   chatMessage          `json:"message"`
	ToolCalls []*protocol.ToolCall `json:"tool_calls,omitempty"`
	Usage     llms.Usage           `json:"usage"`
}

// streamFrame is one NDJSON line of a streamed chat response.
type streamFrame struct {
	Type     string             `json:"type"`
	Text     string             `json:"text,omitempty"`
	ToolCall *protocol.ToolCall `json:"tool_call,omitempty"`
	Usage    *llms.Usage        `json:"usage,omitempty"`
	Error    *errorDetail       `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, string(llms.KindBadRequest), "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, string(llms.KindBadRequest), "messages is required")
		return
	}

	messages := make([]protocol.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, protocol.Message{Role: protocol.Role(m.Role), Content: m.Content})
	}

	var defs []llms.ToolDefinition
	if s.registry != nil && req.Tools != nil {
		defs = s.registry.Definitions(req.Tools)
	}

	if req.Stream {
		s.streamChat(w, r, messages, defs)
		return
	}

	resp, err := s.llm.Chat(r.Context(), messages, defs)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse{
		Message:   chatMessage{Role: string(protocol.RoleAssistant), Content: resp.Text},
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	})
}

// streamChat writes NDJSON frames terminated by a done frame. A consumer
// disconnect cancels the upstream call through the request context.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, messages []protocol.Message, defs []llms.ToolDefinition) {
	chunks, err := s.llm.ChatStream(r.Context(), messages, defs)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for chunk := range chunks {
		var frame streamFrame
		switch chunk.Type {
		case llms.ChunkText:
			frame = streamFrame{Type: "text", Text: chunk.Text}
		case llms.ChunkToolCall:
			frame = streamFrame{Type: "tool_call", ToolCall: chunk.ToolCall}
		case llms.ChunkDone:
			frame = streamFrame{Type: "done", Usage: chunk.Usage}
		case llms.ChunkError:
			frame = streamFrame{Type: "error", Error: &errorDetail{
				Kind:    string(llms.KindOf(chunk.Err)),
				Message: chunk.Err.Error(),
			}}
		default:
			continue
		}
		if err := enc.Encode(frame); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type swarmRequest struct {
	Task       string `json:"task"`
	MaxAgents  int    `json:"max_agents,omitempty"`
	Topology   string `json:"topology,omitempty"`
	Context    string `json:"context,omitempty"`
	DeadlineMS int    `json:"deadline_ms,omitempty"`
}

func (s *Server) handleSwarm(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		s.writeError(w, "internal", "swarm coordinator is not configured")
		return
	}

	var req swarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, string(llms.KindBadRequest), "invalid request body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		s.writeError(w, string(llms.KindBadRequest), "task is required")
		return
	}

	ctx := r.Context()
	if req.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	result, err := s.coordinator.Run(ctx, swarm.Request{
		Task:      req.Task,
		MaxAgents: req.MaxAgents,
		Topology:  swarm.Topology(req.Topology),
		Context:   req.Context,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type addDocumentsRequest struct {
	Documents []docPayload `json:"documents"`
}

type docPayload struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type addDocumentsResponse struct {
	Added   int          `json:"added"`
	Skipped []docFailure `json:"skipped,omitempty"`
}

type docFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (s *Server) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, "internal", "rag store is not configured")
		return
	}

	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, string(llms.KindBadRequest), "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.writeError(w, string(llms.KindBadRequest), "documents is required")
		return
	}

	resp := addDocumentsResponse{}
	for _, doc := range req.Documents {
		if doc.ID == "" || strings.TrimSpace(doc.Content) == "" {
			resp.Skipped = append(resp.Skipped, docFailure{ID: doc.ID, Error: "id and content are required"})
			continue
		}
		_, err := s.store.AddDocument(r.Context(), rag.Document{
			ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata,
		})
		if err != nil {
			resp.Skipped = append(resp.Skipped, docFailure{ID: doc.ID, Error: err.Error()})
			continue
		}
		resp.Added++
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, "internal", "rag store is not configured")
		return
	}

	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.writeError(w, string(llms.KindBadRequest), "q is required")
		return
	}
	k, _ := strconv.Atoi(r.URL.Query().Get("k"))

	// filter.<key>=<value> query parameters become exact-match filters.
	var filter map[string]string
	for key, values := range r.URL.Query() {
		if name, ok := strings.CutPrefix(key, "filter."); ok && len(values) > 0 {
			if filter == nil {
				filter = make(map[string]string)
			}
			filter[name] = values[0]
		}
	}

	results, err := s.store.Search(r.Context(), query, k, filter)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, "internal", "rag store is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRAGStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, "internal", "rag store is not configured")
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": []tools.ToolInfo{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.registry.List()})
}

type invokeToolRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeError(w, string(tools.KindUnknownTool), "no tools are configured")
		return
	}

	var req invokeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, string(tools.KindInvalidArgs), "invalid request body")
		return
	}

	name := chi.URLParam(r, "name")
	result, err := s.registry.Execute(r.Context(), name, req.Arguments)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":  result.Content,
		"metadata": result.Metadata,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
	}
	if s.llm != nil {
		health["llm"] = map[string]interface{}{
			"backend":       s.llm.Backend(),
			"model":         s.llm.ModelName(),
			"breaker_state": s.llm.BreakerState().String(),
		}
	}
	s.writeJSON(w, http.StatusOK, health)
}
