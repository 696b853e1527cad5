package sso

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/websignon/ssokit/pkg/mockidp"
	"github.com/websignon/ssokit/pkg/oauth2"
)

type authFixture struct {
	idp           *mockidp.Server
	server        *httptest.Server
	authenticator *Authenticator
}

func newAuthFixture(t *testing.T) *authFixture {
	idp := mockidp.New("demo-app", "demo-secret", oauth2.ClientAuthSchemeForm)

	root := echo.New()
	idp.MountRoutes(root.Group(""))
	server := httptest.NewServer(root)
	t.Cleanup(server.Close)
	idp.Issuer = server.URL

	config := &Config{
		BaseURL: "http://app.example",
		Registration: &ClientRegistration{
			Name:             "mock",
			ClientID:         "demo-app",
			ClientSecret:     "demo-secret",
			AuthorizationURL: server.URL + "/authorize",
			TokenURL:         server.URL + "/token",
			Scopes:           []string{"openid", "profile"},
		},
		ResourceServer: ResourceServerConfig{
			UserInfoURL: server.URL + "/userinfo",
		},
	}

	authenticator, err := NewAuthenticator(config)
	if err != nil {
		t.Fatal(err)
	}

	return &authFixture{idp: idp, server: server, authenticator: authenticator}
}

// authorize follows the front-channel redirect to the mock provider and
// returns the code and state it sends back.
func (f *authFixture) authorize(t *testing.T, authURL string) (code, state string) {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("authorization endpoint answered %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	return location.Query().Get("code"), location.Query().Get("state")
}

func TestLoginFlow(t *testing.T) {
	f := newAuthFixture(t)

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != StatusAwaitingCallback {
		t.Fatalf("expected AWAITING_CALLBACK, got %s", session.Status)
	}

	code, state := f.authorize(t, authURL)

	if err := f.authenticator.CompleteCallback(context.Background(), session, code, state); err != nil {
		t.Fatal(err)
	}

	if session.Status != StatusAuthenticated {
		t.Fatalf("expected AUTHENTICATED, got %s", session.Status)
	}
	if session.Principal == nil || session.Principal.Subject != "user-1" {
		t.Errorf("unexpected principal: %+v", session.Principal)
	}
	if session.ReturnTo != "/dashboard" {
		t.Errorf("return target lost, got %q", session.ReturnTo)
	}
	if _, err := f.authenticator.Tokens().GetToken(session.ID); err != nil {
		t.Errorf("token context not stored: %v", err)
	}
}

func TestForgedStateNeverReachesTokenEndpoint(t *testing.T) {
	f := newAuthFixture(t)

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/")
	if err != nil {
		t.Fatal(err)
	}
	code, _ := f.authorize(t, authURL)

	err = f.authenticator.CompleteCallback(context.Background(), session, code, "forged-state")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if session.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", session.Status)
	}
	if n := f.idp.Calls("token"); n != 0 {
		t.Errorf("token endpoint must not be called for a forged state, got %d calls", n)
	}
}

func TestStateIsConsumedOnce(t *testing.T) {
	f := newAuthFixture(t)

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/")
	if err != nil {
		t.Fatal(err)
	}
	code, state := f.authorize(t, authURL)

	if err := f.authenticator.CompleteCallback(context.Background(), session, code, state); err != nil {
		t.Fatal(err)
	}

	// replaying the same callback must fail without a second token call
	tokenCalls := f.idp.Calls("token")
	err = f.authenticator.CompleteCallback(context.Background(), session, code, state)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on replay, got %v", err)
	}
	if n := f.idp.Calls("token"); n != tokenCalls {
		t.Errorf("replayed callback reached the token endpoint")
	}
}

func TestStateBoundToSession(t *testing.T) {
	f := newAuthFixture(t)

	victim := NewSession()
	authURL, err := f.authenticator.Begin(victim, "/")
	if err != nil {
		t.Fatal(err)
	}
	code, state := f.authorize(t, authURL)

	attacker := NewSession()
	err = f.authenticator.CompleteCallback(context.Background(), attacker, code, state)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("state issued to another session must be rejected, got %v", err)
	}
	if n := f.idp.Calls("token"); n != 0 {
		t.Errorf("token endpoint must not be called, got %d calls", n)
	}
}

func TestProviderErrorCallback(t *testing.T) {
	f := newAuthFixture(t)
	f.idp.DenyAuthorization = true

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/")
	if err != nil {
		t.Fatal(err)
	}

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	location, _ := url.Parse(resp.Header.Get("Location"))
	if location.Query().Get("error") != "access_denied" {
		t.Fatalf("expected access_denied redirect, got %q", location.RawQuery)
	}

	oauthErr := &oauth2.Error{
		Code:        location.Query().Get("error"),
		Description: location.Query().Get("error_description"),
	}
	if err := f.authenticator.FailCallback(session, oauthErr); err == nil {
		t.Fatal("expected the provider error back")
	}
	if session.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", session.Status)
	}
	if n := f.idp.Calls("token"); n != 0 {
		t.Errorf("token endpoint must not be called on a denied authorization, got %d calls", n)
	}
}

func TestRejectedCodeFailsSession(t *testing.T) {
	f := newAuthFixture(t)
	f.idp.RejectCodes = true

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/")
	if err != nil {
		t.Fatal(err)
	}
	code, state := f.authorize(t, authURL)

	err = f.authenticator.CompleteCallback(context.Background(), session, code, state)
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("expected ErrTokenExchange, got %v", err)
	}
	if session.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", session.Status)
	}
	if _, err := f.authenticator.Tokens().GetToken(session.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("failed login must not leave a token context behind, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/")
	if err != nil {
		t.Fatal(err)
	}
	code, state := f.authorize(t, authURL)
	if err := f.authenticator.CompleteCallback(context.Background(), session, code, state); err != nil {
		t.Fatal(err)
	}

	if err := f.authenticator.Logout(session); err != nil {
		t.Fatal(err)
	}
	if session.Status != StatusAnonymous || session.Principal != nil {
		t.Errorf("logout left session in %s with principal %+v", session.Status, session.Principal)
	}
	if _, err := f.authenticator.Tokens().GetToken(session.ID); err == nil {
		t.Error("token context survived logout")
	}
}

func TestExpiredTokenRefreshDuringLogin(t *testing.T) {
	f := newAuthFixture(t)

	session := NewSession()
	authURL, err := f.authenticator.Begin(session, "/")
	if err != nil {
		t.Fatal(err)
	}
	code, state := f.authorize(t, authURL)
	if err := f.authenticator.CompleteCallback(context.Background(), session, code, state); err != nil {
		t.Fatal(err)
	}

	// revoke the stored access token, then resolve the principal again:
	// the resource client should transparently refresh
	tc, err := f.authenticator.Tokens().GetToken(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.idp.RevokeAccessToken(tc.AccessToken)

	principal, fresh, err := f.authenticator.resources.FetchPrincipal(context.Background(), tc)
	if err != nil {
		t.Fatal(err)
	}
	if principal.Subject != "user-1" {
		t.Errorf("unexpected principal %+v", principal)
	}
	if fresh.AccessToken == tc.AccessToken {
		t.Error("access token was not rotated by the refresh")
	}
}
