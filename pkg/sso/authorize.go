package sso

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/websignon/ssokit/pkg/oauth2"
)

// AuthCodeURL builds the front-channel redirect target for the
// authorization endpoint. The client secret must never appear here.
func (r *ClientRegistration) AuthCodeURL(state *AuthorizationState, redirectURI string, opts ...oauth2.ParameterOption) (string, error) {
	if r.AuthorizationURL == "" || r.ClientID == "" {
		return "", fmt.Errorf("%w: authorization_url and client_id are required", ErrConfiguration)
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", r.ClientID)
	query.Set("redirect_uri", redirectURI)
	if len(r.Scopes) > 0 {
		query.Set("scope", strings.Join(r.Scopes, r.ScopeSeparator))
	}
	query.Set("state", state.Token)
	if state.Nonce != "" {
		query.Set("nonce", state.Nonce)
	}
	if state.Verifier != "" {
		query.Set("code_challenge", oauth2.S256ChallengeFromVerifier(state.Verifier))
		query.Set("code_challenge_method", string(oauth2.CodeChallengeMethodS256))
	}

	for _, opt := range opts {
		opt(query)
	}

	return fmt.Sprintf("%s?%s", r.AuthorizationURL, query.Encode()), nil
}
