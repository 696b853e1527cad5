package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/websignon/ssokit/pkg/oauth2"
)

const retryBaseDelay = 250 * time.Millisecond

// TokenExchangeClient performs the back-channel grants against the token
// endpoint: authorization_code and refresh_token.
type TokenExchangeClient struct {
	registration *ClientRegistration
	httpClient   *http.Client
	now          func() time.Time
}

type ExchangeOption func(*TokenExchangeClient)

func WithHTTPClient(httpClient *http.Client) ExchangeOption {
	return func(c *TokenExchangeClient) {
		c.httpClient = httpClient
	}
}

func NewTokenExchangeClient(registration *ClientRegistration, opts ...ExchangeOption) *TokenExchangeClient {
	c := &TokenExchangeClient{
		registration: registration,
		httpClient: &http.Client{
			Timeout: registration.Timeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange swaps an authorization code for a token context. The state must
// already have been redeemed by the caller; this is pure back channel.
func (c *TokenExchangeClient) Exchange(ctx context.Context, code, redirectURI, verifier string) (*TokenContext, error) {
	params := url.Values{}
	params.Set("grant_type", "authorization_code")
	params.Set("code", code)
	params.Set("redirect_uri", redirectURI)
	if verifier != "" {
		params.Set("code_verifier", verifier)
	}

	resp, err := c.postToken(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenExchange, err)
	}

	return NewTokenContext(resp, c.now()), nil
}

// Refresh swaps a refresh token for a fresh token context. The previous
// context is left untouched so a failed refresh never corrupts it.
func (c *TokenExchangeClient) Refresh(ctx context.Context, tc *TokenContext) (*TokenContext, error) {
	if tc == nil || tc.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefresh)
	}

	params := url.Values{}
	params.Set("grant_type", "refresh_token")
	params.Set("refresh_token", tc.RefreshToken)

	resp, err := c.postToken(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRefresh, err)
	}

	fresh := NewTokenContext(resp, c.now())
	if fresh.RefreshToken == "" {
		// providers may omit the refresh token on rotation
		fresh.RefreshToken = tc.RefreshToken
	}
	return fresh, nil
}

// postToken sends the form-encoded grant request, placing the client
// credentials according to the registration's auth scheme. Network-level
// failures are retried with backoff up to the configured bound; any
// response from the server, success or rejection, ends the loop.
func (c *TokenExchangeClient) postToken(ctx context.Context, params url.Values) (*oauth2.TokenResponse, error) {
	tokenURL := c.registration.TokenURL

	switch c.registration.AuthScheme {
	case oauth2.ClientAuthSchemeForm:
		params.Set("client_id", c.registration.ClientID)
		if c.registration.ClientSecret != "" {
			params.Set("client_secret", c.registration.ClientSecret)
		}
	case oauth2.ClientAuthSchemeQuery:
		query := url.Values{}
		query.Set("client_id", c.registration.ClientID)
		if c.registration.ClientSecret != "" {
			query.Set("client_secret", c.registration.ClientSecret)
		}
		tokenURL = tokenURL + "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.registration.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			slog.Debug("Retrying token request", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if c.registration.AuthScheme == oauth2.ClientAuthSchemeBasic {
			req.SetBasicAuth(c.registration.ClientID, c.registration.ClientSecret)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// timeouts, connection resets etc. are worth another attempt
			lastErr = err
			continue
		}

		return decodeTokenResponse(resp)
	}

	return nil, fmt.Errorf("token endpoint unreachable after %d attempts: %w", c.registration.MaxRetries, lastErr)
}

func decodeTokenResponse(resp *http.Response) (*oauth2.TokenResponse, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr oauth2.Error
		if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Code == "" {
			return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		return nil, &oauthErr
	}

	var tokenResponse oauth2.TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}
	if tokenResponse.AccessToken == "" {
		return nil, fmt.Errorf("token response contains no access token")
	}

	return &tokenResponse, nil
}
