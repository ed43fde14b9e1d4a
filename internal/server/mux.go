// Package server exposes the local bridge API: authorization,
// document fetching, streaming chat, session management, and the
// websocket event feed.
package server

import (
	"log/slog"
	"net/http"

	"github.com/richardk1992-boop/larkdoc/internal/document"
	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/oauth"
	"github.com/richardk1992-boop/larkdoc/internal/session"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Store      *state.State
	Client     *lark.Client
	Flow       *oauth.Flow
	Fetcher    *document.Fetcher
	Sessions   *session.Manager
	Prompts    []session.Prompt
	Hub        *Hub
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the bridge API mux. The MCP endpoint is mounted only
// when a handler is supplied.
func NewMux(cfg MuxConfig) *http.ServeMux {
	h := &handlers{
		store:    cfg.Store,
		client:   cfg.Client,
		flow:     cfg.Flow,
		fetcher:  cfg.Fetcher,
		sessions: cfg.Sessions,
		prompts:  cfg.Prompts,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/url", h.handleAuthURL)
	mux.HandleFunc("POST /api/auth/callback", h.handleAuthCallback)
	mux.HandleFunc("GET /api/auth/status", h.handleAuthStatus)
	mux.HandleFunc("POST /api/auth/logout", h.handleLogout)

	mux.HandleFunc("GET /api/config/ai", h.handleGetAIConfig)
	mux.HandleFunc("PUT /api/config/ai", h.handleSetAIConfig)
	mux.HandleFunc("POST /api/config/ai/test", h.handleTestAIConfig)
	mux.HandleFunc("POST /api/test-connection", h.handleTestConnection)
	mux.HandleFunc("GET /api/prompts", h.handlePrompts)

	mux.HandleFunc("POST /api/document", h.handleDocument)

	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("DELETE /api/chat", h.handleChatCancel)

	mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/export", h.handleExportSession)

	if cfg.Hub != nil {
		mux.Handle("GET /ws", cfg.Hub)
	}
	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", cfg.MCPHandler)
	}

	return mux
}
