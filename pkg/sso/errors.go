package sso

import "errors"

// Error taxonomy of the SSO core. Every failure maps to exactly one of
// these sentinels so callers can branch with errors.Is without knowing
// provider internals.
var (
	// ErrConfiguration marks a registration that is unusable. Fatal at
	// startup, never raised per-request.
	ErrConfiguration = errors.New("invalid client registration")

	// ErrInvalidState marks a callback whose state token is unknown,
	// already redeemed or expired. Treated as a forged callback.
	ErrInvalidState = errors.New("invalid or expired state")

	// ErrTokenExchange marks a rejection of the authorization code by the
	// token endpoint, or a network failure after all retries.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrRefresh marks a missing or rejected refresh token. The caller
	// must force a full re-authentication.
	ErrRefresh = errors.New("token refresh failed")

	// ErrUnauthenticated marks a resource request that stayed unauthorized
	// after one refresh attempt.
	ErrUnauthenticated = errors.New("resource request unauthenticated")

	// ErrAuthenticationRequired is the typed signal raised when a
	// protected resource is accessed without an authenticated principal.
	// The redirect filter converts it into a login redirect; nothing else
	// may raise or catch it.
	ErrAuthenticationRequired = errors.New("authentication required")
)
