// Package ssoweb mounts the SSO login flow on an echo server: the login
// and callback handlers driving the authenticator state machine, and the
// redirect filter for protected resources.
package ssoweb

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/websignon/ssokit/pkg/oauth2"
	"github.com/websignon/ssokit/pkg/sso"
)

const (
	cookieName       = "ssokit_session"
	sessionIDKey     = "session_id"
	defaultLoginPath = "/login"
)

type Handler struct {
	authenticators map[string]*sso.Authenticator
	defaultName    string
	sessions       sso.SessionStore
	cookieStore    sessions.Store
	loginPath      string
}

type HandlerOption func(*Handler)

func WithLoginPath(path string) HandlerOption {
	return func(h *Handler) {
		h.loginPath = path
	}
}

// NewHandler creates the web layer over one or more authenticators. All
// authenticators must share the given session store. The first registered
// provider is the default target of the redirect filter.
func NewHandler(sessionStore sso.SessionStore, cookieSecret []byte, opts ...HandlerOption) *Handler {
	h := &Handler{
		authenticators: map[string]*sso.Authenticator{},
		sessions:       sessionStore,
		cookieStore:    sessions.NewCookieStore(cookieSecret),
		loginPath:      defaultLoginPath,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(authn *sso.Authenticator) {
	name := authn.Registration().Name
	if len(h.authenticators) == 0 {
		h.defaultName = name
	}
	h.authenticators[name] = authn
}

// MountRoutes registers the login entry point, one callback route per
// provider and the logout route. The callback paths come from the client
// registrations, so they match the redirect URIs on file with the
// providers.
func (h *Handler) MountRoutes(g *echo.Group) {
	g.Use(session.Middleware(h.cookieStore))
	g.GET(h.loginPath+"/:provider", h.login)
	g.GET("/logout", h.logout)

	for name, authn := range h.authenticators {
		callbackPath := authn.Registration().RedirectPath
		g.GET(callbackPath, h.callbackHandler(name))
	}
}

func (h *Handler) login(c echo.Context) error {
	authn, ok := h.authenticators[c.Param("provider")]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}

	loginSession, err := h.currentSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	returnTo := c.QueryParam("return_to")
	if returnTo == "" || !isLocalPath(returnTo) {
		returnTo = "/"
	}

	authURL, err := authn.Begin(loginSession, returnTo)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	return c.Redirect(http.StatusFound, authURL)
}

func (h *Handler) callbackHandler(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		authn := h.authenticators[name]

		loginSession, err := h.currentSession(c)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err)
		}

		if errorCode := c.QueryParam("error"); errorCode != "" {
			// consent denied or provider failure; never call the token
			// endpoint, never surface provider internals to the user
			authn.FailCallback(loginSession, &oauth2.Error{
				Code:        errorCode,
				Description: c.QueryParam("error_description"),
			})
			return h.redirectFailed(c)
		}

		code := c.QueryParam("code")
		stateToken := c.QueryParam("state")
		if code == "" || stateToken == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "missing code or state parameter")
		}

		if loginSession.Status != sso.StatusAwaitingCallback {
			return echo.NewHTTPError(http.StatusBadRequest, "no login in progress")
		}

		err = authn.CompleteCallback(c.Request().Context(), loginSession, code, stateToken)
		if errors.Is(err, sso.ErrInvalidState) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid state")
		}
		if err != nil {
			return h.redirectFailed(c)
		}

		returnTo := loginSession.ReturnTo
		if returnTo == "" {
			returnTo = "/"
		}
		return c.Redirect(http.StatusFound, returnTo)
	}
}

func (h *Handler) logout(c echo.Context) error {
	loginSession, err := h.currentSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err)
	}

	for _, authn := range h.authenticators {
		if err := authn.Logout(loginSession); err != nil {
			slog.Error("Logout failed", "session_id", loginSession.ID, "error", err)
		}
	}

	httpSession, _ := session.Get(cookieName, c)
	httpSession.Options = &sessions.Options{Path: "/", MaxAge: -1, HttpOnly: true}
	httpSession.Save(c.Request(), c.Response())

	return c.Redirect(http.StatusFound, "/")
}

// redirectFailed sends the browser back to the home page with a generic
// failure marker. The login entry points live under loginPath/:provider,
// so the bare login path is not a routable target.
func (h *Handler) redirectFailed(c echo.Context) error {
	return c.Redirect(http.StatusFound, "/?error=login_failed")
}

// currentSession resolves the server-side session behind the cookie,
// creating both when absent.
func (h *Handler) currentSession(c echo.Context) (*sso.Session, error) {
	httpSession, err := session.Get(cookieName, c)
	if err != nil {
		return nil, fmt.Errorf("unable to get cookie session: %w", err)
	}

	if id, ok := httpSession.Values[sessionIDKey].(string); ok {
		if loginSession, err := h.sessions.GetSession(id); err == nil {
			return loginSession, nil
		}
	}

	loginSession := sso.NewSession()
	if err := h.sessions.SaveSession(loginSession); err != nil {
		return nil, fmt.Errorf("unable to save session: %w", err)
	}

	httpSession.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
	}
	httpSession.Values[sessionIDKey] = loginSession.ID
	if err := httpSession.Save(c.Request(), c.Response()); err != nil {
		return nil, fmt.Errorf("unable to save cookie session: %w", err)
	}

	return loginSession, nil
}

// isLocalPath rejects absolute URLs so return_to cannot become an open
// redirect.
func isLocalPath(p string) bool {
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && len(p) > 0 && p[0] == '/'
}
