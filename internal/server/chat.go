package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/relay"
	"github.com/richardk1992-boop/larkdoc/internal/session"
)

type chatRequest struct {
	SessionID       string `json:"session_id"`
	PromptName      string `json:"prompt_name,omitempty"`
	Question        string `json:"question,omitempty"`
	SelectedContent string `json:"selected_content,omitempty"`
}

// acquireChat claims the single generation slot. The returned context
// is cancelled by handleChatCancel.
func (h *handlers) acquireChat(parent context.Context) (context.Context, func(), error) {
	h.chatMu.Lock()
	defer h.chatMu.Unlock()

	if h.generating {
		return nil, nil, fmt.Errorf("%w: a generation is already running", errors.ErrBusy)
	}

	ctx, cancel := context.WithCancel(parent)
	h.generating = true
	h.chatCancel = cancel

	release := func() {
		h.chatMu.Lock()
		h.generating = false
		h.chatCancel = nil
		h.chatMu.Unlock()
		cancel()
	}

	return ctx, release, nil
}

func (h *handlers) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	h.chatMu.Lock()
	cancelled := false
	if h.chatCancel != nil {
		h.chatCancel()
		cancelled = true
	}
	h.chatMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// handleChat streams one assistant turn as server-sent events:
// data frames carry {"delta":...}, the terminal frame {"done":true}
// or {"error":...}. The exchange is appended to the session when the
// stream ends, including partial output from a cancelled run.
func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, err := h.sessions.Get(req.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	userPrompt, display, err := h.buildPrompt(req, sess)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	backend, err := h.chatBackend()
	if err != nil {
		h.writeError(w, err)
		return
	}

	ctx, release, err := h.acquireChat(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer release()

	messages := make([]models.ChatMessage, 0, len(sess.Messages)+1)
	messages = append(messages, sess.Messages...)
	messages = append(messages, models.ChatMessage{Role: "user", Content: userPrompt})

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	contentChan, errorChan := backend.Stream(ctx, messages)

	var assistant string
	for chunk := range contentChan {
		assistant += chunk
		writeSSE(w, map[string]string{"delta": chunk})
		flusher.Flush()
	}

	streamErr := <-errorChan
	switch {
	case streamErr == nil:
		writeSSE(w, map[string]bool{"done": true})
	case stderrors.Is(streamErr, context.Canceled):
		writeSSE(w, map[string]any{"done": true, "aborted": true})
	default:
		h.logger.Error("Chat stream failed", "backend", backend.Name(), "error", streamErr)
		writeSSE(w, map[string]string{"error": streamErr.Error()})
	}
	flusher.Flush()

	// The displayed user turn goes into history, not the expanded
	// prompt with the full document inlined.
	history := []models.ChatMessage{{Role: "user", Content: display}}
	if assistant != "" {
		history = append(history, models.ChatMessage{Role: "assistant", Content: assistant})
	}
	if _, err := h.sessions.Append(sess.ID, history...); err != nil {
		h.logger.Error("Appending chat history failed", "session_id", sess.ID, "error", err)
	}
}

// buildPrompt expands the request into the model-facing prompt and the
// history-facing display form.
func (h *handlers) buildPrompt(req chatRequest, sess *models.Session) (prompt, display string, err error) {
	docContext := sess.DocumentContent
	selected := req.SelectedContent != ""
	if selected {
		docContext = req.SelectedContent
	}

	if req.PromptName != "" {
		for _, p := range h.prompts {
			if p.Name == req.PromptName {
				display = "【" + p.Name + "】"
				if selected {
					display += "【选中内容】"
				}
				return p.Render(docContext), display, nil
			}
		}

		return "", "", fmt.Errorf("unknown prompt %q", req.PromptName)
	}

	if req.Question == "" {
		return "", "", fmt.Errorf("question or prompt_name is required")
	}

	return session.BuildQuestion(docContext, req.Question, selected), req.Question, nil
}

func (h *handlers) chatBackend() (relay.Backend, error) {
	cfg, err := h.store.AIConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &models.AIConfig{Model: models.AIModelZhipu}
	}

	return relay.New(*cfg, nil)
}

func writeSSE(w http.ResponseWriter, v any) {
	payload, _ := json.Marshal(v)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// --- AI backend test ---

type testAIConfigRequest struct {
	// Optional override; empty fields fall back to the stored config.
	models.AIConfig
}

// handleTestAIConfig sends a one-word prompt through the configured
// backend and reports the first chunk back.
func (h *handlers) handleTestAIConfig(w http.ResponseWriter, r *http.Request) {
	var req testAIConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg := req.AIConfig
	if cfg.Model == "" {
		stored, err := h.store.AIConfig()
		if err != nil {
			h.writeError(w, err)
			return
		}
		if stored != nil {
			cfg = *stored
		}
	}

	backend, err := relay.New(cfg, nil)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	contentChan, errorChan := backend.Stream(ctx, []models.ChatMessage{{Role: "user", Content: "Hi"}})

	var sample string
	for chunk := range contentChan {
		if sample == "" {
			sample = chunk
		}
	}
	if err := <-errorChan; err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"backend": backend.Name(),
		"sample":  sample,
	})
}
