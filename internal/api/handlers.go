package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/turinglab/turinglab/internal/agent"
	"github.com/turinglab/turinglab/internal/buildinfo"
	"github.com/turinglab/turinglab/internal/events"
	"github.com/turinglab/turinglab/internal/history"
	"github.com/turinglab/turinglab/internal/tools"
)

const maxBodyBytes = 1 << 20

// AgentRequest is the body of POST /api/agent and of JSON frames on
// the /ws relay.
type AgentRequest struct {
	Prompt              string       `json:"prompt"`
	ConversationHistory []agent.Turn `json:"conversationHistory,omitempty"`
	ConversationID      string       `json:"conversation_id,omitempty"`
	Simple              bool         `json:"simple,omitempty"`
}

// AgentResponse is the result of one agent request.
type AgentResponse struct {
	Content        string            `json:"content"`
	ContentHTML    string            `json:"content_html"`
	ToolsUsed      []agent.ToolUse   `json:"toolsUsed"`
	Steps          []agent.Step      `json:"steps"`
	Iterations     int               `json:"iterations"`
	Termination    agent.Termination `json:"termination"`
	ConversationID string            `json:"conversation_id,omitempty"`
	RunID          string            `json:"run_id"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type generateResponse struct {
	Content string `json:"content"`
}

// requestError is a client-side problem with an agent request.
type requestError struct {
	message string
	details any
}

func (e *requestError) Error() string { return e.message }

var errMissingPrompt = &requestError{message: "Missing prompt"}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"message": "TuringLab Backend API",
		"endpoints": map[string]string{
			"generate":      "POST /api/generate",
			"agent":         "POST /api/agent",
			"tools":         "GET /api/tools",
			"conversations": "GET /api/conversations",
			"version":       "GET /api/version",
			"relay":         "GET /ws",
			"events":        "GET /ws/events",
		},
	}, s.logger)
}

// handleHealth reports liveness. The server stays "healthy" while a
// watched service is down; the services map says which one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if s.health != nil {
		body["services"] = s.health.Status()
	}
	writeJSON(w, http.StatusOK, body, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	descs := s.runner.Tools()
	if descs == nil {
		descs = []tools.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": descs}, s.logger)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return
	}
	if msgs := validate(generateSchema, body); msgs != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request", msgs)
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request", []string{err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.errorResponse(w, http.StatusBadRequest, errMissingPrompt.message, nil)
		return
	}
	if s.gen == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Generation backend not configured", nil)
		return
	}

	opts := s.cfg.Generate
	if req.Model != "" {
		opts.Model = req.Model
	}
	out, err := s.gen.Generate(r.Context(), req.Prompt, opts)
	if err != nil {
		s.logger.Error("generate failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Content: out}, s.logger)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return
	}
	req, err := decodeAgentRequest(body)
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			s.errorResponse(w, http.StatusBadRequest, re.message, re.details)
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "Invalid request", nil)
		return
	}

	resp, err := s.serveAgent(r.Context(), req)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// decodeAgentRequest validates and decodes an agent request body.
func decodeAgentRequest(body []byte) (*AgentRequest, error) {
	if msgs := validate(agentSchema, body); msgs != nil {
		return nil, &requestError{message: "Invalid request", details: msgs}
	}
	var req AgentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &requestError{message: "Invalid request", details: []string{err.Error()}}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errMissingPrompt
	}
	return &req, nil
}

// serveAgent runs one agent request, loading and saving conversation
// history when a store is configured.
func (s *Server) serveAgent(ctx context.Context, req *AgentRequest) (*AgentResponse, error) {
	convID := req.ConversationID
	hist := lastTurns(req.ConversationHistory, s.cfg.HistoryLimit)

	if s.store != nil && convID != "" {
		id, err := s.store.EnsureConversation(ctx, convID)
		if err != nil {
			s.logger.Error("conversation lookup failed", "conversation_id", convID, "error", err)
			return nil, err
		}
		convID = id
		if len(req.ConversationHistory) == 0 {
			stored, err := s.store.RecentTurns(ctx, convID, s.cfg.HistoryLimit)
			if err != nil {
				s.logger.Error("history load failed", "conversation_id", convID, "error", err)
				return nil, err
			}
			hist = stored
		}
	}

	run := s.runner.Run
	if req.Simple {
		run = s.runner.RunSimple
	}
	res, err := run(ctx, req.Prompt, hist)
	if err != nil {
		s.logger.Error("agent run failed", "conversation_id", convID, "error", err)
		return nil, err
	}

	if s.store != nil && convID != "" {
		s.persist(ctx, convID, req.Prompt, res)
	}

	toolsUsed := res.ToolsUsed
	if toolsUsed == nil {
		toolsUsed = []agent.ToolUse{}
	}
	steps := res.Steps
	if steps == nil {
		steps = []agent.Step{}
	}
	return &AgentResponse{
		Content:        res.Response,
		ContentHTML:    renderMarkdown(res.Response),
		ToolsUsed:      toolsUsed,
		Steps:          steps,
		Iterations:     res.Iterations,
		Termination:    res.Termination,
		ConversationID: convID,
		RunID:          res.RunID,
	}, nil
}

// persist saves a finished exchange. Failures are logged; the caller
// still gets its answer.
func (s *Server) persist(ctx context.Context, convID, prompt string, res *agent.RunResult) {
	if err := s.store.AppendTurn(ctx, convID, agent.Turn{Role: "user", Content: prompt}); err != nil {
		s.logger.Warn("failed to store user turn", "conversation_id", convID, "error", err)
		return
	}
	if err := s.store.AppendTurn(ctx, convID, agent.Turn{Role: "assistant", Content: res.Response}); err != nil {
		s.logger.Warn("failed to store assistant turn", "conversation_id", convID, "error", err)
	}
	if err := s.store.RecordRun(ctx, convID, prompt, res); err != nil {
		s.logger.Warn("failed to record run", "conversation_id", convID, "run_id", res.RunID, "error", err)
	}
}

func lastTurns(turns []agent.Turn, n int) []agent.Turn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "History store not configured", nil)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
		limit = n
	}
	list, err := s.store.ListConversations(r.Context(), limit)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "History store not configured", nil)
		return
	}
	conv, err := s.store.Conversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "Conversation not found", nil)
		return
	}
	if err != nil {
		s.logger.Error("get conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conv, s.logger)
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "History store not configured", nil)
		return
	}
	calls, err := s.store.ToolCalls(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("list tool calls failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": calls}, s.logger)
}

func (s *Server) emit(kind string, data map[string]any) {
	s.bus.Emit(events.SourceAPI, kind, data)
}
