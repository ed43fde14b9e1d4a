// Package state persists all durable application state in a single
// bbolt database: user credential records, the OAuth correlation
// nonce, the last authorization error, the chat backend configuration,
// and chat sessions.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/richardk1992-boop/larkdoc/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.larkdoc/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// sessionHistoryLimit caps how many sessions are retained. Older
	// sessions are pruned on save, newest first wins.
	sessionHistoryLimit = 20
)

var (
	appBucket      = []byte("app")
	authBucket     = []byte("auth")
	sessionsBucket = []byte("sessions")

	appIDKey      = []byte("app_id")
	appSecretKey  = []byte("app_secret")
	aiConfigKey   = []byte("ai_config")
	userTokenKey  = []byte("user_token")
	oauthStateKey = []byte("oauth_state")
	authErrorKey  = []byte("auth_error")
)

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// Load opens the state database at the given path, creating it and all
// buckets if they do not exist. Tests use a t.TempDir() path.
func Load(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		if _, err := tx.CreateBucketIfNotExists(authBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(sessionsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// --- Application credentials ---

// Credentials returns the stored application credentials, or empty
// strings when unset.
func (s *State) Credentials() (appID, appSecret string) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		if v := b.Get(appIDKey); v != nil {
			appID = string(v)
		}

		if v := b.Get(appSecretKey); v != nil {
			appSecret = string(v)
		}

		return nil
	})

	return appID, appSecret
}

// SetCredentials persists the application credentials.
func (s *State) SetCredentials(appID, appSecret string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		if err := b.Put(appIDKey, []byte(appID)); err != nil {
			return err
		}

		return b.Put(appSecretKey, []byte(appSecret))
	})
}

// --- User token ---

// UserToken returns the persisted user token, or nil when logged out.
func (s *State) UserToken() (*models.UserToken, error) {
	var t *models.UserToken

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(authBucket).Get(userTokenKey)
		if v == nil {
			return nil
		}

		t = &models.UserToken{}

		return json.Unmarshal(v, t)
	})

	return t, err
}

// SetUserToken persists the user token, replacing any previous record.
func (s *State) SetUserToken(t models.UserToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}

		return tx.Bucket(authBucket).Put(userTokenKey, data)
	})
}

// DeleteUserToken removes the user token (logout).
func (s *State) DeleteUserToken() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Delete(userTokenKey)
	})
}

// --- OAuth correlation state ---

// OAuthState returns the pending nonce/region pair, or nil when no
// authorization is in flight.
func (s *State) OAuthState() (*models.OAuthState, error) {
	var st *models.OAuthState

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(authBucket).Get(oauthStateKey)
		if v == nil {
			return nil
		}

		st = &models.OAuthState{}

		return json.Unmarshal(v, st)
	})

	return st, err
}

// SetOAuthState persists the nonce/region pair issued with an
// authorization URL.
func (s *State) SetOAuthState(st models.OAuthState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}

		return tx.Bucket(authBucket).Put(oauthStateKey, data)
	})
}

// ClearOAuthState removes the pending nonce. Called once the callback
// has been validated so the nonce is single-use.
func (s *State) ClearOAuthState() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Delete(oauthStateKey)
	})
}

// --- Last authorization error ---

// AuthError returns the last stored authorization error message, or
// empty string.
func (s *State) AuthError() string {
	var msg string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(authBucket).Get(authErrorKey); v != nil {
			msg = string(v)
		}

		return nil
	})

	return msg
}

// SetAuthError persists an authorization error for the UI to surface
// on its next open.
func (s *State) SetAuthError(msg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Put(authErrorKey, []byte(msg))
	})
}

// ClearAuthError removes the stored authorization error.
func (s *State) ClearAuthError() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Delete(authErrorKey)
	})
}

// --- AI backend configuration ---

// AIConfig returns the persisted chat backend configuration, or nil
// when never saved.
func (s *State) AIConfig() (*models.AIConfig, error) {
	var c *models.AIConfig

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(aiConfigKey)
		if v == nil {
			return nil
		}

		c = &models.AIConfig{}

		return json.Unmarshal(v, c)
	})

	return c, err
}

// SetAIConfig persists the chat backend configuration.
func (s *State) SetAIConfig(c models.AIConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(aiConfigKey, data)
	})
}

// --- Chat sessions ---

// SaveSession persists a session keyed by ID, then prunes the oldest
// sessions beyond the history limit.
func (s *State) SaveSession(sess models.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session ID is required")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}

		if err := b.Put([]byte(sess.ID), data); err != nil {
			return err
		}

		return pruneSessions(b)
	})
}

// pruneSessions deletes the oldest sessions when the bucket exceeds
// the history limit.
func pruneSessions(b *bolt.Bucket) error {
	type entry struct {
		id      string
		updated time.Time
	}

	var entries []entry

	err := b.ForEach(func(k, v []byte) error {
		var sess models.Session
		if err := json.Unmarshal(v, &sess); err != nil {
			return err
		}

		entries = append(entries, entry{id: string(k), updated: sess.UpdatedAt})

		return nil
	})
	if err != nil {
		return err
	}

	if len(entries) <= sessionHistoryLimit {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updated.After(entries[j].updated)
	})

	for _, e := range entries[sessionHistoryLimit:] {
		if err := b.Delete([]byte(e.id)); err != nil {
			return err
		}
	}

	return nil
}

// GetSession returns a session by ID, or nil if not found.
func (s *State) GetSession(id string) (*models.Session, error) {
	var sess *models.Session

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(id))
		if v == nil {
			return nil
		}

		sess = &models.Session{}

		return json.Unmarshal(v, sess)
	})

	return sess, err
}

// DeleteSession removes a session by ID.
func (s *State) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

// ListSessions returns summaries for all sessions, newest first.
func (s *State) ListSessions() ([]models.SessionSummary, error) {
	var summaries []models.SessionSummary

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var sess models.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}

			summaries = append(summaries, models.SessionSummary{
				ID:           sess.ID,
				DocTitle:     sess.DocTitle,
				DocURL:       sess.DocURL,
				MessageCount: len(sess.Messages),
				UpdatedAt:    sess.UpdatedAt,
			})

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries, nil
}
