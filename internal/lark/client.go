// Package lark talks to the Lark/Feishu open platform REST API: the
// server-to-server and OAuth token endpoints, wiki node resolution,
// document content, and document comments.
package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/richardk1992-boop/larkdoc/internal/models"
)

// Client talks to the platform open API gateways. One client serves
// all regions; the gateway host is selected per call.
type Client struct {
	httpClient *http.Client
	endpoints  map[models.Region]string
}

// NewClient creates an API client with the given http.Client and
// per-region gateway base URLs. If httpClient is nil,
// http.DefaultClient is used.
func NewClient(httpClient *http.Client, feishuBase, larkBase string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		endpoints: map[models.Region]string{
			models.RegionFeishu: feishuBase,
			// ByteDance serves both international brandings from one gateway.
			models.RegionLark:       larkBase,
			models.RegionLarkOffice: larkBase,
		},
	}
}

// BaseURL returns the gateway base URL for a region, defaulting to the
// feishu gateway for unknown regions.
func (c *Client) BaseURL(region models.Region) string {
	if base, ok := c.endpoints[region]; ok {
		return base
	}

	return c.endpoints[models.RegionFeishu]
}

// envelope is the common response wrapper: code 0 means success, any
// other value is an application-level failure described by msg.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// get sends a bearer-authenticated GET and returns the raw body after
// checking the HTTP status. Application codes are left to the caller
// because their semantics differ per endpoint.
func (c *Client) get(ctx context.Context, region models.Region, endpoint string, query url.Values, bearer string) ([]byte, error) {
	u := c.BaseURL(region) + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return c.do(req, endpoint)
}

// post sends a JSON POST, optionally bearer-authenticated, and returns
// the raw body after checking the HTTP status.
func (c *Client) post(ctx context.Context, region models.Region, endpoint string, body any, bearer string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL(region)+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return c.do(req, endpoint)
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	// The platform reports application errors as 200 with a non-zero
	// code, but gateways still emit plain HTTP errors on bad routes.
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API %s returned status %d: %s", endpoint, resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
