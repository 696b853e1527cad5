package ssoweb

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/websignon/ssokit/pkg/mockidp"
	"github.com/websignon/ssokit/pkg/oauth2"
	"github.com/websignon/ssokit/pkg/sso"
)

type webFixture struct {
	idp     *mockidp.Server
	server  *httptest.Server
	handler *Handler
}

// newWebFixture wires a complete demo app on one httptest server: the
// mock provider under /idp, the login routes and a protected resource.
func newWebFixture(t *testing.T) *webFixture {
	root := echo.New()
	server := httptest.NewServer(root)
	t.Cleanup(server.Close)

	idp := mockidp.New("demo-app", "demo-secret", oauth2.ClientAuthSchemeForm)
	idp.Issuer = server.URL + "/idp"
	idp.MountRoutes(root.Group("/idp"))

	config := &sso.Config{
		BaseURL: server.URL,
		Registration: &sso.ClientRegistration{
			Name:             "mock",
			ClientID:         "demo-app",
			ClientSecret:     "demo-secret",
			AuthorizationURL: server.URL + "/idp/authorize",
			TokenURL:         server.URL + "/idp/token",
			Scopes:           []string{"profile"},
		},
		ResourceServer: sso.ResourceServerConfig{
			UserInfoURL: server.URL + "/idp/userinfo",
		},
	}

	authenticator, err := sso.NewAuthenticator(config)
	if err != nil {
		t.Fatal(err)
	}

	handler := NewHandler(authenticator.Sessions(), []byte("0123456789abcdef0123456789abcdef"))
	handler.Register(authenticator)

	web := root.Group("")
	handler.MountRoutes(web)

	web.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "home")
	})

	protected := web.Group("/protected", handler.RedirectOnAuthRequired, handler.RequireAuth)
	protected.GET("/userinfo", func(c echo.Context) error {
		principal := c.Get("principal").(*sso.Principal)
		return c.String(http.StatusOK, principal.DisplayName)
	})

	return &webFixture{idp: idp, server: server, handler: handler}
}

func newBrowser(t *testing.T, followRedirects bool) *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar}
	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

func get(t *testing.T, client *http.Client, target string) *http.Response {
	resp, err := client.Get(target)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func TestProtectedResourceLoginRoundTrip(t *testing.T) {
	f := newWebFixture(t)
	browser := newBrowser(t, true)

	resp, err := browser.Get(f.server.URL + "/protected/userinfo")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after the login round trip, got %d", resp.StatusCode)
	}
	if resp.Request.URL.Path != "/protected/userinfo" {
		t.Errorf("login did not resume at the requested resource, ended at %s", resp.Request.URL.Path)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Test User" {
		t.Errorf("unexpected protected response %q", body)
	}
}

func TestCallbackWithoutLoginInProgress(t *testing.T) {
	f := newWebFixture(t)
	browser := newBrowser(t, false)

	resp := get(t, browser, f.server.URL+"/sso/callback?code=x&state=y")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a callback without a pending login, got %d", resp.StatusCode)
	}
	if n := f.idp.Calls("token"); n != 0 {
		t.Errorf("token endpoint called %d times", n)
	}
}

func TestCallbackWithForgedState(t *testing.T) {
	f := newWebFixture(t)
	browser := newBrowser(t, false)

	resp := get(t, browser, f.server.URL+"/login/mock")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login entry point answered %d", resp.StatusCode)
	}

	resp = get(t, browser, f.server.URL+"/sso/callback?code=x&state=forged")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a forged state, got %d", resp.StatusCode)
	}
	if n := f.idp.Calls("token"); n != 0 {
		t.Errorf("token endpoint called %d times for a forged state", n)
	}
}

func TestCallbackMissingParameters(t *testing.T) {
	f := newWebFixture(t)
	browser := newBrowser(t, false)

	resp := get(t, browser, f.server.URL+"/sso/callback")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a callback without code and state, got %d", resp.StatusCode)
	}
}

func TestDeniedConsentRedirectsToLoginFailed(t *testing.T) {
	f := newWebFixture(t)
	f.idp.DenyAuthorization = true
	browser := newBrowser(t, false)

	resp := get(t, browser, f.server.URL+"/login/mock")
	authorizeURL := resp.Header.Get("Location")

	resp = get(t, browser, authorizeURL)
	callbackURL := resp.Header.Get("Location")
	if !strings.Contains(callbackURL, "error=access_denied") {
		t.Fatalf("expected a denial redirect, got %q", callbackURL)
	}

	resp = get(t, browser, callbackURL)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected a redirect after the denied callback, got %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location != "/?error=login_failed" {
		t.Errorf("unexpected failure redirect %q", location)
	}
	if n := f.idp.Calls("token"); n != 0 {
		t.Errorf("token endpoint called %d times on a denied authorization", n)
	}

	// the failure target must be a routable page
	resp = get(t, browser, f.server.URL+location)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("failure redirect target answered %d", resp.StatusCode)
	}
}

func TestLogoutClearsAuthentication(t *testing.T) {
	f := newWebFixture(t)
	browser := newBrowser(t, true)

	resp, err := browser.Get(f.server.URL + "/protected/userinfo")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login round trip failed with %d", resp.StatusCode)
	}

	resp, err = browser.Get(f.server.URL + "/logout")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Request.URL.Path != "/" {
		t.Errorf("logout should land on the home page, ended at %s", resp.Request.URL.Path)
	}

	// the next protected request starts a fresh login
	stepper := newBrowser(t, false)
	stepper.Jar = browser.Jar
	denied := get(t, stepper, f.server.URL+"/protected/userinfo")
	if denied.StatusCode != http.StatusFound {
		t.Errorf("expected a login redirect after logout, got %d", denied.StatusCode)
	}
	location, err := url.Parse(denied.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if location.Path != "/login/mock" {
		t.Errorf("unexpected redirect target %q", denied.Header.Get("Location"))
	}
	if location.Query().Get("return_to") != "/protected/userinfo" {
		t.Errorf("requested path not preserved, got %q", location.Query().Get("return_to"))
	}
}

func TestReturnToCannotLeaveTheApp(t *testing.T) {
	f := newWebFixture(t)
	browser := newBrowser(t, true)

	resp, err := browser.Get(f.server.URL + "/login/mock?return_to=https://evil.example/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.Request.URL.Host != strings.TrimPrefix(f.server.URL, "http://") {
		t.Fatalf("login left the application, ended at %s", resp.Request.URL)
	}
	if resp.Request.URL.Path != "/" {
		t.Errorf("absolute return_to should fall back to /, ended at %s", resp.Request.URL.Path)
	}
}
