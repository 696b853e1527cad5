package ssoweb

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/websignon/ssokit/pkg/sso"
)

// CurrentSession resolves the login session behind the request cookie,
// creating a fresh anonymous one when absent. Call before hijacking the
// connection; afterwards the cookie can no longer be written.
func (h *Handler) CurrentSession(c echo.Context) (*sso.Session, error) {
	return h.currentSession(c)
}

// CurrentPrincipal is the capability check for protected handlers: it
// returns the authenticated principal of the requesting session, or
// sso.ErrAuthenticationRequired when there is none.
func (h *Handler) CurrentPrincipal(c echo.Context) (*sso.Principal, error) {
	loginSession, err := h.currentSession(c)
	if err != nil {
		return nil, err
	}
	if loginSession.Status != sso.StatusAuthenticated || loginSession.Principal == nil {
		return nil, sso.ErrAuthenticationRequired
	}
	return loginSession.Principal, nil
}

// RedirectOnAuthRequired converts the authentication-required signal into
// a redirect to the login entry point, preserving the originally
// requested path so it resumes after login. Any other error passes
// through untouched. Mount it ahead of the general authorization layer.
func (h *Handler) RedirectOnAuthRequired(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil || !errors.Is(err, sso.ErrAuthenticationRequired) {
			return err
		}

		returnTo := c.Request().URL.RequestURI()
		target := h.loginPath + "/" + h.defaultName + "?return_to=" + url.QueryEscape(returnTo)
		return c.Redirect(http.StatusFound, target)
	}
}

// RequireAuth performs the capability check before the handler runs and
// stores the principal in the echo context under "principal".
func (h *Handler) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		principal, err := h.CurrentPrincipal(c)
		if err != nil {
			return err
		}
		c.Set("principal", principal)
		return next(c)
	}
}
