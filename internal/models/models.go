// Package models defines types shared across internal packages.
package models

import "time"

// Region identifies which platform gateway a credential belongs to.
type Region string

const (
	RegionFeishu     Region = "feishu"
	RegionLark       Region = "larksuite"
	RegionLarkOffice Region = "larkoffice"
)

// UserIdentity holds the profile fields attached to a user token.
// Best-effort: the profile fetch is non-fatal, so all fields may be
// absent.
type UserIdentity struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// UserToken is a persisted user-scoped credential obtained through the
// OAuth authorization-code flow. A refresh preserves User when the
// refresh response omits identity fields.
type UserToken struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Region       Region        `json:"region"`
	User         *UserIdentity `json:"user,omitempty"`
}

// OAuthState is the CSRF correlation record created when an authorize
// URL is issued and consumed exactly once when the callback arrives.
type OAuthState struct {
	Nonce     string    `json:"nonce"`
	Region    Region    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", or "system"
	Content string `json:"content"`
}

// Session is a persisted chat session bound to at most one fetched
// document.
type Session struct {
	ID              string        `json:"id"`
	DocURL          string        `json:"doc_url,omitempty"`
	DocTitle        string        `json:"doc_title,omitempty"`
	DocumentContent string        `json:"document_content,omitempty"`
	Messages        []ChatMessage `json:"messages"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// SessionSummary is the lightweight history entry for a session.
type SessionSummary struct {
	ID           string    `json:"id"`
	DocTitle     string    `json:"doc_title,omitempty"`
	DocURL       string    `json:"doc_url,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Chat backend names as stored in AIConfig.Model.
const (
	AIModelZhipu  = "zhipu"
	AIModelGemini = "gemini"
	AIModelCustom = "custom"
)

// AIConfig is the persisted chat backend configuration. APIKeys is
// keyed by backend name so switching backends keeps each key.
type AIConfig struct {
	Model           string            `json:"model"`
	APIKeys         map[string]string `json:"api_keys,omitempty"`
	APIURL          string            `json:"api_url,omitempty"`
	ModelName       string            `json:"model_name,omitempty"`
	GeminiModelName string            `json:"gemini_model_name,omitempty"`
}

// APIKeyFor returns the key stored for a backend, or empty string.
func (c AIConfig) APIKeyFor(backend string) string {
	if c.APIKeys == nil {
		return ""
	}

	return c.APIKeys[backend]
}
