package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

// Manager owns chat session lifecycle on top of the state store.
type Manager struct {
	store  *state.State
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a session manager.
func NewManager(store *state.State, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: time.Now}
}

// Create starts a session, optionally bound to a fetched document.
func (m *Manager) Create(docURL, docTitle, docContent string) (models.Session, error) {
	sess := models.Session{
		ID:              uuid.NewString(),
		DocURL:          docURL,
		DocTitle:        docTitle,
		DocumentContent: docContent,
		UpdatedAt:       m.now(),
	}
	if err := m.store.SaveSession(sess); err != nil {
		return models.Session{}, fmt.Errorf("saving session: %w", err)
	}

	m.logger.Debug("Created session", "session_id", sess.ID, "doc_url", docURL)

	return sess, nil
}

// Get loads a session by ID.
func (m *Manager) Get(id string) (*models.Session, error) {
	return m.store.GetSession(id)
}

// List returns session summaries, newest first.
func (m *Manager) List() ([]models.SessionSummary, error) {
	return m.store.ListSessions()
}

// Delete removes a session. Deleting an unknown ID is a no-op.
func (m *Manager) Delete(id string) error {
	return m.store.DeleteSession(id)
}

// Append adds messages to a session and persists it.
func (m *Manager) Append(id string, messages ...models.ChatMessage) (*models.Session, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	sess.Messages = append(sess.Messages, messages...)
	sess.UpdatedAt = m.now()
	if err := m.store.SaveSession(*sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	return sess, nil
}

// AttachDocument binds a fetched document to an existing session,
// replacing any previous one.
func (m *Manager) AttachDocument(id, docURL, docTitle, docContent string) (*models.Session, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", id)
	}

	sess.DocURL = docURL
	sess.DocTitle = docTitle
	sess.DocumentContent = docContent
	sess.UpdatedAt = m.now()
	if err := m.store.SaveSession(*sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	return sess, nil
}
