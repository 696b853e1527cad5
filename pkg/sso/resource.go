package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/websignon/ssokit/pkg/oauth2"
)

// ResourceClient fetches the identity document from the resource server
// using a held access token, refreshing it once on expiry.
type ResourceClient struct {
	config       ResourceServerConfig
	registration *ClientRegistration
	exchange     *TokenExchangeClient
	httpClient   *http.Client
}

func NewResourceClient(config ResourceServerConfig, registration *ClientRegistration, exchange *TokenExchangeClient) *ResourceClient {
	return &ResourceClient{
		config:       config,
		registration: registration,
		exchange:     exchange,
		httpClient: &http.Client{
			Timeout: registration.Timeout,
		},
	}
}

// FetchPrincipal resolves the identity behind the token context. On a 401
// it attempts exactly one refresh and retries once; a second 401 is fatal.
// The returned token context is the one that finally worked and must
// replace the caller's copy.
func (c *ResourceClient) FetchPrincipal(ctx context.Context, tc *TokenContext) (*Principal, *TokenContext, error) {
	principal, status, err := c.fetch(ctx, tc)
	if err != nil {
		return nil, tc, err
	}
	if status != http.StatusUnauthorized {
		return principal, tc, nil
	}

	slog.Debug("Resource server rejected access token, refreshing", "user_info_url", c.config.UserInfoURL)

	fresh, err := c.exchange.Refresh(ctx, tc)
	if err != nil {
		return nil, tc, fmt.Errorf("%w: %s", ErrUnauthenticated, err)
	}

	principal, status, err = c.fetch(ctx, fresh)
	if err != nil {
		return nil, fresh, err
	}
	if status == http.StatusUnauthorized {
		return nil, fresh, fmt.Errorf("%w: resource server rejected refreshed token", ErrUnauthenticated)
	}

	return principal, fresh, nil
}

// fetch performs one authenticated GET. A 401 is reported via the status
// return, not as an error, so the caller can decide about refreshing.
func (c *ResourceClient) fetch(ctx context.Context, tc *TokenContext) (*Principal, int, error) {
	userInfoURL := c.config.UserInfoURL
	if c.registration.BearerIn == oauth2.BearerInQuery {
		query := url.Values{}
		query.Set("access_token", tc.AccessToken)
		userInfoURL = userInfoURL + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.registration.BearerIn == oauth2.BearerInHeader {
		req.Header.Set("Authorization", "Bearer "+tc.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to fetch identity document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return nil, http.StatusUnauthorized, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("resource server returned status %d", resp.StatusCode)
	}

	var attrs map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&attrs); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unable to decode identity document: %w", err)
	}

	principal, err := NewPrincipalFromAttributes(attrs)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return principal, resp.StatusCode, nil
}
