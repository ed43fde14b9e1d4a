package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

const (
	authorizeEndpoint = "/open-apis/authen/v1/authorize"
	authorizeScope    = "docs:document.content:read docs:document.comment:read"

	// How long the poller watches for the redirect landing before
	// giving up silently.
	pollTimeout  = 5 * time.Minute
	pollInterval = time.Second

	defaultUserTokenTTL = 7200 * time.Second
)

// Flow drives the authorization-code flow end to end. Redirect
// detection is dual-channel: the landing page can push the code to the
// callback endpoint, and a tab-capable Browser lets the poller spot
// the redirect URL on its own. Both channels converge on
// HandleCallback, which claims the tab so the exchange runs once.
type Flow struct {
	client  *lark.Client
	tokens  *lark.TokenManager
	store   *state.State
	browser Browser
	logger  *slog.Logger

	appID       string
	appSecret   string
	redirectURI string

	// notify, when set, is invoked with "auth_success" or "auth_error"
	// after a terminal callback outcome.
	notify func(event string)

	mu         sync.Mutex
	claimed    map[int]struct{}
	pollCancel context.CancelFunc
}

// NewFlow creates an authorization flow.
func NewFlow(client *lark.Client, tokens *lark.TokenManager, store *state.State, browser Browser, logger *slog.Logger, appID, appSecret, redirectURI string) *Flow {
	if browser == nil {
		browser = SystemBrowser{}
	}

	return &Flow{
		client:      client,
		tokens:      tokens,
		store:       store,
		browser:     browser,
		logger:      logger,
		appID:       appID,
		appSecret:   appSecret,
		redirectURI: redirectURI,
		claimed:     make(map[int]struct{}),
	}
}

// SetNotify registers the event hook. Must be called before the first
// BeginAuthorize.
func (f *Flow) SetNotify(notify func(event string)) { f.notify = notify }

// BeginAuthorize generates a state nonce, persists it, opens the
// authorize URL in the browser, and starts the redirect poller. The
// URL is returned so callers can present it when the browser could not
// be opened.
func (f *Flow) BeginAuthorize(ctx context.Context, region models.Region) (string, error) {
	if f.appID == "" {
		return "", fmt.Errorf("%w: app credentials not configured", errors.ErrAuthentication)
	}

	nonce, err := newNonce()
	if err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}

	if err := f.store.SetOAuthState(models.OAuthState{
		Nonce:     nonce,
		Region:    region,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("persisting oauth state: %w", err)
	}
	if err := f.store.ClearAuthError(); err != nil {
		return "", fmt.Errorf("clearing previous auth error: %w", err)
	}

	// Claims from earlier flows are stale once a new nonce is issued;
	// tab IDs get reused, so a fresh flow must accept them again.
	f.mu.Lock()
	f.claimed = make(map[int]struct{})
	f.mu.Unlock()

	query := url.Values{
		"app_id":       {f.appID},
		"redirect_uri": {f.redirectURI},
		"scope":        {authorizeScope},
		"state":        {nonce},
	}
	authURL := f.client.BaseURL(region) + authorizeEndpoint + "?" + query.Encode()

	if _, err := f.browser.OpenTab(ctx, authURL); err != nil {
		f.logger.Warn("Opening authorize URL failed, continue manually", "error", err)
	}

	f.startPolling(region)
	f.logger.Info("Authorization started", "region", region)

	return authURL, nil
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// startPolling watches browser tabs for the redirect landing. Flows
// using a SystemBrowser see no tabs and rely on the push channel; the
// poller then just times out quietly.
func (f *Flow) startPolling(region models.Region) {
	f.mu.Lock()
	if f.pollCancel != nil {
		f.pollCancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	f.pollCancel = cancel
	f.mu.Unlock()

	go func() {
		defer cancel()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tabs, err := f.browser.Tabs(ctx)
				if err != nil {
					f.logger.Debug("Listing tabs failed", "error", err)
					continue
				}
				for _, tab := range tabs {
					if f.isCallbackURL(tab.URL) {
						if err := f.HandleCallback(ctx, tab.ID, tab.URL); err != nil {
							f.logger.Error("Handling polled callback failed", "error", err)
						}
						return
					}
				}
			}
		}
	}()
}

func (f *Flow) stopPolling() {
	f.mu.Lock()
	if f.pollCancel != nil {
		f.pollCancel()
		f.pollCancel = nil
	}
	f.mu.Unlock()
}

// isCallbackURL reports whether a tab URL is the authorize redirect
// landing.
func (f *Flow) isCallbackURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	if f.redirectURI != "" && strings.HasPrefix(rawURL, f.redirectURI) {
		return true
	}

	return strings.Contains(rawURL, "/callback.html") || strings.Contains(rawURL, "/callback?")
}

// HandleCallback consumes the redirect URL: it validates the state
// nonce, exchanges the code, fetches the user profile best-effort, and
// persists the user token. The tab is claimed first so the push and
// poll channels cannot both run the exchange, and it is closed on
// every terminal outcome.
func (f *Flow) HandleCallback(ctx context.Context, tabID int, callbackURL string) error {
	f.mu.Lock()
	if _, dup := f.claimed[tabID]; dup {
		f.mu.Unlock()
		return nil
	}
	f.claimed[tabID] = struct{}{}
	f.mu.Unlock()

	f.stopPolling()

	err := f.completeCallback(ctx, callbackURL)
	if err != nil {
		// Release the claim so a corrected retry on the same tab can
		// run. Successful tabs stay claimed; a late duplicate must not
		// re-run the exchange against a consumed state nonce.
		f.mu.Lock()
		delete(f.claimed, tabID)
		f.mu.Unlock()
	}

	if closeErr := f.browser.CloseTab(ctx, tabID); closeErr != nil {
		f.logger.Debug("Closing authorize tab failed", "tab", tabID, "error", closeErr)
	}

	if err != nil {
		if storeErr := f.store.SetAuthError(err.Error()); storeErr != nil {
			f.logger.Error("Persisting auth error failed", "error", storeErr)
		}
		f.emit("auth_error")

		return err
	}

	f.emit("auth_success")

	return nil
}

func (f *Flow) completeCallback(ctx context.Context, callbackURL string) error {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return fmt.Errorf("%w: parsing callback URL: %v", errors.ErrAuthentication, err)
	}

	query := parsed.Query()
	if authErr := query.Get("error"); authErr != "" {
		return fmt.Errorf("%w: 授权被拒绝: %s", errors.ErrAuthentication, authErr)
	}

	code := query.Get("code")
	if code == "" {
		return fmt.Errorf("%w: callback carries no authorization code", errors.ErrAuthentication)
	}

	stored, err := f.store.OAuthState()
	if err != nil {
		return fmt.Errorf("loading oauth state: %w", err)
	}
	if stored == nil || query.Get("state") != stored.Nonce {
		return fmt.Errorf("%w: callback state does not match the issued nonce", errors.ErrStateMismatch)
	}
	region := stored.Region

	tenantToken, err := f.tokens.TenantToken(ctx, region)
	if err != nil {
		return fmt.Errorf("acquiring tenant token for exchange: %w", err)
	}

	userData, err := f.client.ExchangeUserToken(ctx, region, tenantToken, lark.ExchangeRequest{
		Code:        code,
		ClientID:    f.appID,
		Secret:      f.appSecret,
		RedirectURI: f.redirectURI,
	})
	if err != nil {
		return err
	}

	token := models.UserToken{
		AccessToken:  userData.AccessToken,
		RefreshToken: userData.RefreshToken,
		ExpiresAt:    time.Now().Add(userTokenTTL(userData.ExpiresIn)),
		Region:       region,
	}

	// Profile fetch failures leave the identity empty but keep the
	// token.
	if user, err := f.client.UserInfo(ctx, region, userData.AccessToken); err != nil {
		f.logger.Warn("Fetching user profile failed", "error", err)
	} else {
		token.User = &user
	}

	if err := f.store.SetUserToken(token); err != nil {
		return fmt.Errorf("persisting user token: %w", err)
	}
	if err := f.store.ClearOAuthState(); err != nil {
		return fmt.Errorf("clearing oauth state: %w", err)
	}

	f.logger.Info("Authorization completed", "region", region, "expires_at", token.ExpiresAt)

	return nil
}

func userTokenTTL(expiresIn int) time.Duration {
	if expiresIn <= 0 {
		return defaultUserTokenTTL
	}

	return time.Duration(expiresIn) * time.Second
}

func (f *Flow) emit(event string) {
	if f.notify != nil {
		f.notify(event)
	}
}
