package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const (
	tenantTokenEndpoint  = "/open-apis/auth/v3/tenant_access_token/internal"
	oidcTokenEndpoint    = "/open-apis/authen/v1/oidc/access_token"
	refreshTokenEndpoint = "/open-apis/authen/v1/refresh_access_token"
	userInfoEndpoint     = "/open-apis/authen/v1/user_info"
)

// TenantToken is a tenant_access_token with its validity in seconds.
type TenantToken struct {
	Token  string
	Expire int
}

// UserTokenData is the payload of a user token exchange or refresh.
type UserTokenData struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// TenantAccessToken exchanges app credentials for a tenant token on
// the given region's gateway.
func (c *Client) TenantAccessToken(ctx context.Context, region models.Region, appID, appSecret string) (TenantToken, error) {
	body, err := c.post(ctx, region, tenantTokenEndpoint, map[string]string{
		"app_id":     appID,
		"app_secret": appSecret,
	}, "")
	if err != nil {
		return TenantToken{}, err
	}

	var resp struct {
		envelope
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TenantToken{}, fmt.Errorf("parsing tenant token response: %w", err)
	}
	if resp.Code != 0 {
		return TenantToken{}, fmt.Errorf("%w: tenant token request failed (code %d): %s", errors.ErrAuthentication, resp.Code, resp.Msg)
	}

	return TenantToken{Token: resp.TenantAccessToken, Expire: resp.Expire}, nil
}

// ExchangeRequest carries the parameters of an authorization-code
// exchange. The gateway wants the app credentials and redirect URI
// repeated in the body alongside the code.
type ExchangeRequest struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	Secret      string `json:"client_secret"`
	RedirectURI string `json:"redirect_uri"`
	GrantType   string `json:"grant_type"`
}

// ExchangeUserToken swaps an OAuth authorization code for a user
// access token. The call itself is authenticated with a tenant token.
func (c *Client) ExchangeUserToken(ctx context.Context, region models.Region, tenantToken string, req ExchangeRequest) (UserTokenData, error) {
	req.GrantType = "authorization_code"
	body, err := c.post(ctx, region, oidcTokenEndpoint, req, tenantToken)
	if err != nil {
		return UserTokenData{}, err
	}

	return parseUserTokenResponse(body, "token exchange")
}

// RefreshUserToken trades a refresh token for a fresh user access
// token, again under tenant authentication.
func (c *Client) RefreshUserToken(ctx context.Context, region models.Region, tenantToken, refreshToken string) (UserTokenData, error) {
	body, err := c.post(ctx, region, refreshTokenEndpoint, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}, tenantToken)
	if err != nil {
		return UserTokenData{}, err
	}

	return parseUserTokenResponse(body, "token refresh")
}

func parseUserTokenResponse(body []byte, op string) (UserTokenData, error) {
	var resp struct {
		envelope
		Data struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return UserTokenData{}, fmt.Errorf("parsing %s response: %w", op, err)
	}
	if resp.Code != 0 {
		return UserTokenData{}, fmt.Errorf("%w: %s failed (code %d): %s", errors.ErrTokenExchange, op, resp.Code, resp.Msg)
	}
	if resp.Data.AccessToken == "" {
		return UserTokenData{}, fmt.Errorf("%w: %s returned no access token", errors.ErrTokenExchange, op)
	}

	return UserTokenData{
		AccessToken:  resp.Data.AccessToken,
		RefreshToken: resp.Data.RefreshToken,
		ExpiresIn:    resp.Data.ExpiresIn,
	}, nil
}

// UserInfo fetches the profile of the user the token belongs to.
func (c *Client) UserInfo(ctx context.Context, region models.Region, userToken string) (models.UserIdentity, error) {
	body, err := c.get(ctx, region, userInfoEndpoint, nil, userToken)
	if err != nil {
		return models.UserIdentity{}, err
	}

	var resp struct {
		envelope
		Data struct {
			Name   string `json:"name"`
			Email  string `json:"email"`
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.UserIdentity{}, fmt.Errorf("parsing user info response: %w", err)
	}
	if resp.Code != 0 {
		return models.UserIdentity{}, fmt.Errorf("%w: user info request failed (code %d): %s", errors.ErrAuthentication, resp.Code, resp.Msg)
	}

	return models.UserIdentity{Name: resp.Data.Name, Email: resp.Data.Email, UserID: resp.Data.UserID}, nil
}
