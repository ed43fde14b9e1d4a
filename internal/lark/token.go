package lark

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

const (
	// Tenant tokens are dropped this long before their stated expiry so
	// in-flight requests never ride a token that dies mid-call.
	tenantExpiryMargin = 5 * time.Minute

	// User tokens are refreshed slightly early for the same reason.
	userExpiryMargin = time.Minute
)

// TokenKind labels which credential an API call ends up using.
type TokenKind string

const (
	TokenKindUser   TokenKind = "user"
	TokenKindTenant TokenKind = "tenant"
)

type cachedTenantToken struct {
	token     string
	expiresAt time.Time
}

// TokenManager owns the token lifecycle: a per-region tenant token
// cache, user token refresh against the persisted record, and the
// user-before-tenant selection used by document reads.
type TokenManager struct {
	client *Client
	store  *state.State
	logger *slog.Logger

	appID     string
	appSecret string

	mu     sync.Mutex
	tenant map[models.Region]cachedTenantToken
	group  singleflight.Group
	now    func() time.Time
}

// NewTokenManager creates a token manager backed by the given API
// client and state store.
func NewTokenManager(client *Client, store *state.State, logger *slog.Logger, appID, appSecret string) *TokenManager {
	return &TokenManager{
		client:    client,
		store:     store,
		logger:    logger,
		appID:     appID,
		appSecret: appSecret,
		tenant:    make(map[models.Region]cachedTenantToken),
		now:       time.Now,
	}
}

// TenantToken returns a valid tenant token for the region, fetching a
// fresh one when the cached token is missing or close to expiry.
// Concurrent callers for the same region share a single exchange.
func (m *TokenManager) TenantToken(ctx context.Context, region models.Region) (string, error) {
	m.mu.Lock()
	cached, ok := m.tenant[region]
	m.mu.Unlock()

	if ok && m.now().Before(cached.expiresAt) {
		return cached.token, nil
	}

	token, err, _ := m.group.Do(string(region), func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed while we waited for the group slot.
		m.mu.Lock()
		cached, ok := m.tenant[region]
		m.mu.Unlock()
		if ok && m.now().Before(cached.expiresAt) {
			return cached.token, nil
		}

		fresh, err := m.client.TenantAccessToken(ctx, region, m.appID, m.appSecret)
		if err != nil {
			return "", fmt.Errorf("fetching tenant token: %w", err)
		}

		expiresAt := m.now().Add(time.Duration(fresh.Expire)*time.Second - tenantExpiryMargin)

		m.mu.Lock()
		m.tenant[region] = cachedTenantToken{token: fresh.Token, expiresAt: expiresAt}
		m.mu.Unlock()

		m.logger.Debug("Fetched tenant token", "region", region, "expires_at", expiresAt)

		return fresh.Token, nil
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

// UserToken returns a valid user access token, refreshing the
// persisted record when it is near expiry. The stored user identity
// survives refreshes unchanged. Returns ErrNotAuthorized when no
// usable user token exists.
func (m *TokenManager) UserToken(ctx context.Context) (string, error) {
	record, err := m.store.UserToken()
	if err != nil {
		return "", fmt.Errorf("loading user token: %w", err)
	}
	if record == nil || record.AccessToken == "" {
		return "", errors.ErrNotAuthorized
	}

	if m.now().Before(record.ExpiresAt.Add(-userExpiryMargin)) {
		return record.AccessToken, nil
	}

	if record.RefreshToken == "" {
		return "", fmt.Errorf("%w: user token expired and no refresh token available", errors.ErrNotAuthorized)
	}

	tenantToken, err := m.TenantToken(ctx, record.Region)
	if err != nil {
		return "", fmt.Errorf("refreshing user token: %w", err)
	}

	fresh, err := m.client.RefreshUserToken(ctx, record.Region, tenantToken, record.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing user token: %w", err)
	}

	refreshToken := fresh.RefreshToken
	if refreshToken == "" {
		refreshToken = record.RefreshToken
	}

	updated := models.UserToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    m.now().Add(time.Duration(fresh.ExpiresIn) * time.Second),
		Region:       record.Region,
		User:         record.User,
	}
	if err := m.store.SetUserToken(updated); err != nil {
		return "", fmt.Errorf("persisting refreshed user token: %w", err)
	}

	m.logger.Info("Refreshed user token", "region", record.Region, "expires_at", updated.ExpiresAt)

	return fresh.AccessToken, nil
}

// AccessToken returns the best available credential for reading
// documents: the user token when one is valid, otherwise the tenant
// token for the region. The returned kind says which one was used.
func (m *TokenManager) AccessToken(ctx context.Context, region models.Region) (string, TokenKind, error) {
	token, err := m.UserToken(ctx)
	if err == nil {
		return token, TokenKindUser, nil
	}
	m.logger.Debug("Falling back to tenant token", "region", region, "reason", err)

	token, err = m.TenantToken(ctx, region)
	if err != nil {
		return "", "", err
	}

	return token, TokenKindTenant, nil
}

// Invalidate drops the cached tenant token for a region, forcing the
// next call to fetch a fresh one.
func (m *TokenManager) Invalidate(region models.Region) {
	m.mu.Lock()
	delete(m.tenant, region)
	m.mu.Unlock()
}
