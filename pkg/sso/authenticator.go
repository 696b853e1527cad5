package sso

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/websignon/ssokit/pkg/oauth2"
	"github.com/websignon/ssokit/pkg/oidc"
)

// Authenticator drives the login state machine for one client
// registration. It owns no HTTP handling; the web layer feeds it the
// callback parameters and renders its outcome.
type Authenticator struct {
	registration *ClientRegistration
	redirectURI  string
	states       StateStore
	sessions     SessionStore
	tokens       TokenStore
	exchange     *TokenExchangeClient
	resources    *ResourceClient
	verifier     *oidc.Verifier
}

type Option func(*Authenticator) error

func WithStateStore(states StateStore) Option {
	return func(a *Authenticator) error {
		a.states = states
		return nil
	}
}

func WithSessionStore(sessions SessionStore) Option {
	return func(a *Authenticator) error {
		a.sessions = sessions
		return nil
	}
}

func WithTokenStore(tokens TokenStore) Option {
	return func(a *Authenticator) error {
		a.tokens = tokens
		return nil
	}
}

func WithExchangeClient(exchange *TokenExchangeClient) Option {
	return func(a *Authenticator) error {
		a.exchange = exchange
		return nil
	}
}

// WithIDTokenVerification enables the OpenID Connect extras. Requires the
// registration to name its issuer.
func WithIDTokenVerification(ctx context.Context) Option {
	return func(a *Authenticator) error {
		if a.registration.Issuer == "" {
			return fmt.Errorf("%w: id token verification requires an issuer", ErrConfiguration)
		}
		verifier, err := oidc.NewVerifier(ctx, a.registration.Issuer, a.registration.ClientID)
		if err != nil {
			return fmt.Errorf("unable to create id token verifier: %w", err)
		}
		a.verifier = verifier
		return nil
	}
}

// NewAuthenticator wires the SSO core for one registration. baseURL is the
// externally reachable origin of this application; the redirect URI is
// derived from it and the registration's redirect path.
func NewAuthenticator(config *Config, opts ...Option) (*Authenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registration := config.Registration
	if err := registration.Normalize(); err != nil {
		return nil, err
	}

	a := &Authenticator{
		registration: registration,
		redirectURI:  strings.TrimRight(config.BaseURL, "/") + registration.RedirectPath,
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if a.states == nil {
		a.states = NewMemoryStateStore()
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore()
	}
	if a.tokens == nil {
		a.tokens = NewMemoryTokenStore()
	}
	if a.exchange == nil {
		a.exchange = NewTokenExchangeClient(registration)
	}
	a.resources = NewResourceClient(config.ResourceServer, registration, a.exchange)

	return a, nil
}

func (a *Authenticator) Registration() *ClientRegistration {
	return a.registration
}

func (a *Authenticator) RedirectURI() string {
	return a.redirectURI
}

func (a *Authenticator) Sessions() SessionStore {
	return a.sessions
}

func (a *Authenticator) Tokens() TokenStore {
	return a.tokens
}

// Begin starts a login attempt: issues a fresh authorization state bound
// to the session and returns the front-channel redirect target. The
// session transitions to AWAITING_CALLBACK.
func (a *Authenticator) Begin(session *Session, returnTo string) (string, error) {
	now := time.Now()
	state := &AuthorizationState{
		Token:     oauth2.GenerateState(),
		Verifier:  oauth2.GenerateCodeVerifier(),
		Nonce:     oauth2.GenerateState(),
		SessionID: session.ID,
		ReturnTo:  returnTo,
		CreatedAt: now,
		ExpiresAt: now.Add(a.registration.StateTTL),
	}

	if err := a.states.Issue(state); err != nil {
		return "", fmt.Errorf("unable to issue authorization state: %w", err)
	}

	authURL, err := a.registration.AuthCodeURL(state, a.redirectURI)
	if err != nil {
		return "", err
	}

	session.Status = StatusAwaitingCallback
	session.ReturnTo = returnTo
	if err := a.sessions.SaveSession(session); err != nil {
		return "", fmt.Errorf("unable to save session: %w", err)
	}

	slog.Info("Redirecting to authorization server", "provider", a.registration.Name, "session_id", session.ID)

	return authURL, nil
}

// CompleteCallback consumes the provider callback: redeems the state,
// exchanges the code, verifies the id token when configured, and resolves
// the principal. Any failure moves the session to FAILED with no partial
// authentication left behind.
func (a *Authenticator) CompleteCallback(ctx context.Context, session *Session, code, stateToken string) error {
	state, err := a.states.Redeem(stateToken)
	if err != nil {
		// forged or replayed callback; the token endpoint is never called
		return a.fail(session, err)
	}
	if state.SessionID != session.ID {
		return a.fail(session, ErrInvalidState)
	}

	tokenContext, err := a.exchange.Exchange(ctx, code, a.redirectURI, state.Verifier)
	if err != nil {
		return a.fail(session, err)
	}

	if a.verifier != nil {
		if tokenContext.IDToken == "" {
			return a.fail(session, fmt.Errorf("%w: missing id token", ErrTokenExchange))
		}
		if _, err := a.verifier.VerifyIDToken(ctx, tokenContext.IDToken, state.Nonce); err != nil {
			return a.fail(session, fmt.Errorf("%w: %s", ErrTokenExchange, err))
		}
	}

	principal, tokenContext, err := a.resources.FetchPrincipal(ctx, tokenContext)
	if err != nil {
		return a.fail(session, err)
	}

	if err := a.tokens.SaveToken(session.ID, tokenContext); err != nil {
		return a.fail(session, err)
	}

	session.Status = StatusAuthenticated
	session.Principal = principal
	session.ReturnTo = state.ReturnTo
	if err := a.sessions.SaveSession(session); err != nil {
		return err
	}

	slog.Info("Login completed", "provider", a.registration.Name, "session_id", session.ID, "subject", principal.Subject)

	return nil
}

// FailCallback handles a callback that carries an error parameter: the
// user denied consent or the provider failed. The token endpoint is not
// called.
func (a *Authenticator) FailCallback(session *Session, oauthErr *oauth2.Error) error {
	return a.fail(session, oauthErr)
}

// Logout discards the token context and principal and returns the session
// to ANONYMOUS.
func (a *Authenticator) Logout(session *Session) error {
	if err := a.tokens.DeleteToken(session.ID); err != nil {
		return err
	}
	session.Status = StatusAnonymous
	session.Principal = nil
	session.ReturnTo = ""
	return a.sessions.SaveSession(session)
}

func (a *Authenticator) fail(session *Session, cause error) error {
	slog.Error("Login failed", "provider", a.registration.Name, "session_id", session.ID, "error", cause)

	a.tokens.DeleteToken(session.ID)
	session.Status = StatusFailed
	session.Principal = nil
	if err := a.sessions.SaveSession(session); err != nil {
		return err
	}
	return cause
}
