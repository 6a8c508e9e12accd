package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/infra/catalog"
)

// ─── OpenAI-compatible API (/v1/*) ──────────────────────────────────────────
// handleChatCompletions is a synchronous adapter: it submits one domain
// request per call and blocks on Handle.Await, so it never streams partial
// tokens. Clients that need streaming talk to the runtime's own server
// directly; this endpoint exists for drop-in compatibility with tooling
// built against the OpenAI chat API.

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	data := make([]map[string]any, 0, len(catalog.Catalog))
	for _, m := range catalog.Catalog {
		data = append(data, modelToOpenAI(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

func modelToOpenAI(m domain.ModelConfig) map[string]any {
	return map[string]any{
		"id":       m.ID,
		"object":   "model",
		"owned_by": "tutu",
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Priority    string        `json:"priority,omitempty"` // TuTu extension: LOW|NORMAL|HIGH|CRITICAL
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	priority := domain.PriorityNormal
	if req.Priority != "" {
		priority = domain.Priority(req.Priority)
	}

	maxTokens := 512
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	domainReq := domain.Request{
		Prompt:      buildPrompt(req.Messages),
		ModelName:   req.Model,
		Priority:    priority,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	handle := s.sched.Submit(r.Context(), domainReq)

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := handle.Await(ctx, nil)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, string(resp.ErrorKind)+": "+resp.ErrorMessage)
		return
	}
	if resp.Failed() {
		writeError(w, http.StatusInternalServerError, string(resp.ErrorKind)+": "+resp.ErrorMessage)
		return
	}

	completionID := "chatcmpl-" + uuid.New().String()[:8]
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      completionID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   resp.ModelUsed,
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": resp.Text,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"completion_tokens": resp.TokensOut,
			"total_tokens":      resp.TokensOut,
		},
	})
}

// buildPrompt concatenates chat messages into a single prompt string handed
// to the runtime. Per-model chat templating is the runtime's concern.
func buildPrompt(messages []chatMessage) string {
	var prompt string
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			prompt += fmt.Sprintf("[SYSTEM] %s\n", msg.Content)
		case "user":
			prompt += fmt.Sprintf("[USER] %s\n", msg.Content)
		case "assistant":
			prompt += fmt.Sprintf("[ASSISTANT] %s\n", msg.Content)
		default:
			prompt += fmt.Sprintf("[%s] %s\n", msg.Role, msg.Content)
		}
	}
	prompt += "[ASSISTANT] "
	return prompt
}
