package sso

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/websignon/ssokit/pkg/oauth2"
)

func TestAuthCodeURL(t *testing.T) {
	reg := testRegistration("https://auth.example/token", oauth2.ClientAuthSchemeForm)
	reg.Scopes = []string{"openid", "profile"}

	state := &AuthorizationState{
		Token:    "state-1",
		Verifier: "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk",
		Nonce:    "nonce-1",
	}

	authURL, err := reg.AuthCodeURL(state, "https://app.example/sso/callback")
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	query := parsed.Query()

	if query.Get("response_type") != "code" {
		t.Errorf("response_type = %q", query.Get("response_type"))
	}
	if query.Get("client_id") != "X" {
		t.Errorf("client_id = %q", query.Get("client_id"))
	}
	if query.Get("state") != "state-1" || query.Get("nonce") != "nonce-1" {
		t.Errorf("state/nonce missing: %v", query)
	}
	if query.Get("scope") != "openid profile" {
		t.Errorf("scope = %q", query.Get("scope"))
	}
	if query.Get("code_challenge") != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cC" {
		t.Errorf("code_challenge = %q", query.Get("code_challenge"))
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q", query.Get("code_challenge_method"))
	}
	if strings.Contains(authURL, "topsecret") {
		t.Error("client secret leaked into the authorization URL")
	}
}

func TestAuthCodeURLScopeSeparator(t *testing.T) {
	reg := testRegistration("https://auth.example/token", oauth2.ClientAuthSchemeForm)
	reg.Scopes = []string{"read:user", "user:email"}
	reg.ScopeSeparator = ","

	authURL, err := reg.AuthCodeURL(&AuthorizationState{Token: "s"}, "https://app.example/cb")
	if err != nil {
		t.Fatal(err)
	}
	parsed, _ := url.Parse(authURL)
	if got := parsed.Query().Get("scope"); got != "read:user,user:email" {
		t.Errorf("scope = %q", got)
	}
}

func TestAuthCodeURLRequiresConfiguration(t *testing.T) {
	reg := &ClientRegistration{Name: "broken"}
	_, err := reg.AuthCodeURL(&AuthorizationState{Token: "s"}, "https://app.example/cb")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestAuthCodeURLExtraParameters(t *testing.T) {
	reg := testRegistration("https://auth.example/token", oauth2.ClientAuthSchemeForm)

	authURL, err := reg.AuthCodeURL(&AuthorizationState{Token: "s"}, "https://app.example/cb",
		oauth2.WithParameter("prompt", "consent"))
	if err != nil {
		t.Fatal(err)
	}
	parsed, _ := url.Parse(authURL)
	if parsed.Query().Get("prompt") != "consent" {
		t.Errorf("extra parameter not carried: %q", parsed.RawQuery)
	}
}
