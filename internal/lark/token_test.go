package lark

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

func testStore(t *testing.T) *state.State {
	t.Helper()

	store, err := state.Load(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testManager(t *testing.T, srv *httptest.Server) *TokenManager {
	t.Helper()

	return NewTokenManager(newTestClient(srv), testStore(t), slog.New(slog.DiscardHandler), "app", "secret")
}

func TestTenantToken_CachedAcrossCalls(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.Write([]byte(`{"code":0,"tenant_access_token":"t-tok","expire":7200}`))
	}))
	defer srv.Close()

	m := testManager(t, srv)

	for range 5 {
		token, err := m.TenantToken(context.Background(), models.RegionFeishu)
		require.NoError(t, err)
		assert.Equal(t, "t-tok", token)
	}

	assert.Equal(t, int64(1), exchanges.Load())
}

func TestTenantToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{"code":0,"tenant_access_token":"t-tok","expire":7200}`))
	}))
	defer srv.Close()

	m := testManager(t, srv)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			token, err := m.TenantToken(context.Background(), models.RegionFeishu)
			assert.NoError(t, err)
			assert.Equal(t, "t-tok", token)
		})
	}
	wg.Wait()

	assert.Equal(t, int64(1), exchanges.Load())
}

func TestTenantToken_SeparateCachePerRegion(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := exchanges.Add(1)
		fmt.Fprintf(w, `{"code":0,"tenant_access_token":"t-tok-%d","expire":7200}`, n)
	}))
	defer srv.Close()

	m := testManager(t, srv)

	feishu, err := m.TenantToken(context.Background(), models.RegionFeishu)
	require.NoError(t, err)
	lark, err := m.TenantToken(context.Background(), models.RegionLark)
	require.NoError(t, err)

	assert.NotEqual(t, feishu, lark)
	assert.Equal(t, int64(2), exchanges.Load())
}

func TestTenantToken_RefetchedAfterExpiry(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.Write([]byte(`{"code":0,"tenant_access_token":"t-tok","expire":7200}`))
	}))
	defer srv.Close()

	m := testManager(t, srv)
	now := time.Now()
	m.now = func() time.Time { return now }

	_, err := m.TenantToken(context.Background(), models.RegionFeishu)
	require.NoError(t, err)

	// Still comfortably inside the validity window.
	now = now.Add(time.Hour)
	_, err = m.TenantToken(context.Background(), models.RegionFeishu)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exchanges.Load())

	// Past expire minus the safety margin.
	now = now.Add(time.Hour)
	_, err = m.TenantToken(context.Background(), models.RegionFeishu)
	require.NoError(t, err)
	assert.Equal(t, int64(2), exchanges.Load())
}

func TestUserToken_NoRecordIsNotAuthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	m := testManager(t, srv)
	_, err := m.UserToken(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)
}

func TestUserToken_ValidTokenReturnedWithoutNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	m := testManager(t, srv)
	require.NoError(t, m.store.SetUserToken(models.UserToken{
		AccessToken: "u-tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		Region:      models.RegionFeishu,
	}))

	token, err := m.UserToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-tok", token)
}

func TestUserToken_RefreshPreservesIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tenantTokenEndpoint:
			w.Write([]byte(`{"code":0,"tenant_access_token":"t-tok","expire":7200}`))
		case refreshTokenEndpoint:
			assert.Equal(t, "Bearer t-tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"code":0,"data":{"access_token":"u-tok-2","refresh_token":"r-tok-2","expires_in":6900}}`))
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := testManager(t, srv)
	user := &models.UserIdentity{Name: "Ann", Email: "ann@example.com", UserID: "ou_1"}
	require.NoError(t, m.store.SetUserToken(models.UserToken{
		AccessToken:  "u-tok-1",
		RefreshToken: "r-tok-1",
		ExpiresAt:    time.Now().Add(30 * time.Second),
		Region:       models.RegionFeishu,
		User:         user,
	}))

	token, err := m.UserToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u-tok-2", token)

	stored, err := m.store.UserToken()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "u-tok-2", stored.AccessToken)
	assert.Equal(t, "r-tok-2", stored.RefreshToken)
	require.NotNil(t, stored.User)
	assert.Equal(t, "Ann", stored.User.Name)
	assert.Equal(t, "ou_1", stored.User.UserID)
}

func TestUserToken_ExpiredWithoutRefreshIsNotAuthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	m := testManager(t, srv)
	require.NoError(t, m.store.SetUserToken(models.UserToken{
		AccessToken: "u-tok",
		ExpiresAt:   time.Now().Add(-time.Hour),
		Region:      models.RegionFeishu,
	}))

	_, err := m.UserToken(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)
}

func TestAccessToken_FallsBackToTenant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, tenantTokenEndpoint, r.URL.Path)
		w.Write([]byte(`{"code":0,"tenant_access_token":"t-tok","expire":7200}`))
	}))
	defer srv.Close()

	m := testManager(t, srv)

	token, kind, err := m.AccessToken(context.Background(), models.RegionFeishu)
	require.NoError(t, err)
	assert.Equal(t, TokenKindTenant, kind)
	assert.Equal(t, "t-tok", token)
}

func TestAccessToken_PrefersUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	m := testManager(t, srv)
	require.NoError(t, m.store.SetUserToken(models.UserToken{
		AccessToken: "u-tok",
		ExpiresAt:   time.Now().Add(time.Hour),
		Region:      models.RegionFeishu,
	}))

	token, kind, err := m.AccessToken(context.Background(), models.RegionFeishu)
	require.NoError(t, err)
	assert.Equal(t, TokenKindUser, kind)
	assert.Equal(t, "u-tok", token)
}
