package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/richardk1992-boop/larkdoc/internal/document"
	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/oauth"
	"github.com/richardk1992-boop/larkdoc/internal/session"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

type handlers struct {
	store    *state.State
	client   *lark.Client
	flow     *oauth.Flow
	fetcher  *document.Fetcher
	sessions *session.Manager
	prompts  []session.Prompt
	hub      *Hub
	logger   *slog.Logger

	// One chat generation at a time. chatCancel aborts the in-flight
	// stream.
	chatMu     sync.Mutex
	generating bool
	chatCancel context.CancelFunc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, errors.ErrBusy):
		status = http.StatusConflict
	case stderrors.Is(err, errors.ErrNotAuthorized):
		status = http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrPermissionDenied):
		status = http.StatusForbidden
	case stderrors.Is(err, errors.ErrDocumentNotFound), stderrors.Is(err, errors.ErrNodeNotFound):
		status = http.StatusNotFound
	case stderrors.Is(err, errors.ErrStateMismatch), stderrors.Is(err, errors.ErrAuthentication), stderrors.Is(err, errors.ErrTokenExchange):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}

	return true
}

// --- authorization ---

type authURLRequest struct {
	Region models.Region `json:"region"`
}

func (h *handlers) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	var req authURLRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Region == "" {
		req.Region = models.RegionFeishu
	}

	authURL, err := h.flow.BeginAuthorize(r.Context(), req.Region)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

type authCallbackRequest struct {
	TabID       int    `json:"tab_id"`
	CallbackURL string `json:"callback_url"`
}

func (h *handlers) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req authCallbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.flow.HandleCallback(r.Context(), req.TabID, req.CallbackURL); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"authorized": true})
}

type authStatusResponse struct {
	Authorized bool                 `json:"authorized"`
	Region     models.Region        `json:"region,omitempty"`
	ExpiresAt  *time.Time           `json:"expires_at,omitempty"`
	User       *models.UserIdentity `json:"user,omitempty"`
	AuthError  string               `json:"auth_error,omitempty"`
}

func (h *handlers) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	token, err := h.store.UserToken()
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := authStatusResponse{AuthError: h.store.AuthError()}
	if token != nil && token.AccessToken != "" {
		resp.Authorized = time.Now().Before(token.ExpiresAt) || token.RefreshToken != ""
		resp.Region = token.Region
		resp.ExpiresAt = &token.ExpiresAt
		resp.User = token.User
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteUserToken(); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.ClearAuthError(); err != nil {
		h.writeError(w, err)
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(Event{Type: "auth_logout"})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": false})
}

// --- AI configuration and prompts ---

func (h *handlers) handleGetAIConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.AIConfig()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if cfg == nil {
		cfg = &models.AIConfig{Model: models.AIModelZhipu}
	}

	// Keys stay on the daemon; the UI only learns which are set.
	masked := *cfg
	masked.APIKeys = nil
	keysSet := make(map[string]bool, len(cfg.APIKeys))
	for backend, key := range cfg.APIKeys {
		keysSet[backend] = key != ""
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config":       masked,
		"api_keys_set": keysSet,
	})
}

func (h *handlers) handleSetAIConfig(w http.ResponseWriter, r *http.Request) {
	var req models.AIConfig
	if !decodeBody(w, r, &req) {
		return
	}

	// Merge keys so updating one backend keeps the others.
	if current, err := h.store.AIConfig(); err == nil && current != nil {
		for backend, key := range current.APIKeys {
			if _, ok := req.APIKeys[backend]; !ok {
				if req.APIKeys == nil {
					req.APIKeys = make(map[string]string)
				}
				req.APIKeys[backend] = key
			}
		}
	}

	if err := h.store.SetAIConfig(req); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (h *handlers) handlePrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.prompts)
}

// --- document fetch ---

type documentRequest struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id,omitempty"`
}

type documentResponse struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Comments  int    `json:"comments"`
	TokenKind string `json:"token_kind"`
}

func (h *handlers) handleDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url is required"})
		return
	}

	doc, err := h.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var sess *models.Session
	if req.SessionID != "" {
		sess, err = h.sessions.AttachDocument(req.SessionID, doc.URL, doc.Title, doc.Content)
	} else {
		var created models.Session
		created, err = h.sessions.Create(doc.URL, doc.Title, doc.Content)
		sess = &created
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, documentResponse{
		SessionID: sess.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Comments:  doc.Comments,
		TokenKind: string(doc.TokenKind),
	})
}

// --- connection test ---

type testConnectionRequest struct {
	AppID     string        `json:"app_id"`
	AppSecret string        `json:"app_secret"`
	Region    models.Region `json:"region"`
}

// handleTestConnection verifies application credentials by requesting a
// tenant token. Empty credentials fall back to the stored ones.
func (h *handlers) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Region == "" {
		req.Region = models.RegionFeishu
	}
	if req.AppID == "" {
		req.AppID, req.AppSecret = h.store.Credentials()
	}
	if req.AppID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "app_id is required"})
		return
	}

	if _, err := h.client.TenantAccessToken(r.Context(), req.Region, req.AppID, req.AppSecret); err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- sessions ---

// handleCreateSession starts an empty session. Most sessions are
// created implicitly by a document fetch; this covers free chat with
// no document bound.
func (h *handlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Create("", "", "")
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.sessions.List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if summaries == nil {
		summaries = []models.SessionSummary{}
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *handlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *handlers) handleExportSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+session.ExportFileName(*sess)+`"`)
	w.Write([]byte(session.Export(*sess)))
}
