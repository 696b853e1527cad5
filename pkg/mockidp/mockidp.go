// Package mockidp is an in-process authorization and resource server used
// by tests and the demo application. It auto-approves every authorization
// request for a configurable test user.
package mockidp

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/segmentio/ksuid"
	"github.com/websignon/ssokit/pkg/oauth2"
	"github.com/websignon/ssokit/pkg/oidc"
)

type issuedCode struct {
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Nonce         string
	Subject       string
	IssuedAt      time.Time
}

type issuedToken struct {
	Subject   string
	ExpiresAt time.Time
	Revoked   bool
}

type Server struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	AuthScheme   oauth2.ClientAuthScheme

	// User is the identity document served by /userinfo.
	User map[string]any

	// Knobs for failure injection in tests.
	DenyAuthorization bool
	RejectCodes       bool
	RejectRefresh     bool

	AccessTokenTTL time.Duration

	sigKey jwk.Key
	jwks   jwk.Set

	codes    map[string]*issuedCode
	tokens   map[string]*issuedToken
	refresh  map[string]string // refresh token -> subject
	requests map[string]int    // per-endpoint call counters
	lock     sync.Mutex
}

func New(clientID, clientSecret string, scheme oauth2.ClientAuthScheme) *Server {
	return &Server{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthScheme:   scheme,
		User: map[string]any{
			"sub":   "user-1",
			"name":  "Test User",
			"email": "user@example.test",
		},
		AccessTokenTTL: time.Hour,
		codes:          map[string]*issuedCode{},
		tokens:         map[string]*issuedToken{},
		refresh:        map[string]string{},
		requests:       map[string]int{},
	}
}

func (s *Server) MountRoutes(g *echo.Group) {
	g.GET("/.well-known/openid-configuration", s.DiscoveryEndpoint)
	g.GET("/authorize", s.AuthorizationEndpoint)
	g.POST("/token", s.TokenEndpoint)
	g.GET("/userinfo", s.UserInfoEndpoint)
	g.GET("/jwks", s.JWKS)
}

// Calls reports how often the named endpoint was hit. Used by tests to
// assert that forged callbacks never reach the token endpoint.
func (s *Server) Calls(endpoint string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.requests[endpoint]
}

func (s *Server) count(endpoint string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.requests[endpoint]++
}

func (s *Server) DiscoveryEndpoint(c echo.Context) error {
	return c.JSON(http.StatusOK, &oidc.DiscoveryDocument{
		Issuer:                           s.Issuer,
		AuthorizationEndpoint:            s.Issuer + "/authorize",
		TokenEndpoint:                    s.Issuer + "/token",
		JwksURI:                          s.Issuer + "/jwks",
		UserinfoEndpoint:                 s.Issuer + "/userinfo",
		ResponseTypesSupported:           []string{"code"},
		IdTokenSigningAlgValuesSupported: []string{"ES256"},
	})
}

func (s *Server) AuthorizationEndpoint(c echo.Context) error {
	s.count("authorize")

	redirectURI := c.QueryParam("redirect_uri")
	state := c.QueryParam("state")
	if c.QueryParam("client_id") == "" || redirectURI == "" {
		return echo.NewHTTPError(http.StatusBadRequest, &oauth2.Error{
			Code:        "invalid_request",
			Description: "client_id and redirect_uri are required",
		})
	}

	params := url.Values{}
	params.Set("state", state)

	if s.DenyAuthorization {
		params.Set("error", "access_denied")
		params.Set("error_description", "user denied consent")
		return c.Redirect(http.StatusFound, redirectURI+"?"+params.Encode())
	}

	code := ksuid.New().String()
	s.lock.Lock()
	s.codes[code] = &issuedCode{
		ClientID:      c.QueryParam("client_id"),
		RedirectURI:   redirectURI,
		CodeChallenge: c.QueryParam("code_challenge"),
		Nonce:         c.QueryParam("nonce"),
		Subject:       fmt.Sprintf("%v", s.User["sub"]),
		IssuedAt:      time.Now(),
	}
	s.lock.Unlock()

	params.Set("code", code)
	return c.Redirect(http.StatusFound, redirectURI+"?"+params.Encode())
}

func (s *Server) TokenEndpoint(c echo.Context) error {
	s.count("token")

	if err := s.checkClientAuth(c); err != nil {
		return c.JSON(http.StatusUnauthorized, &oauth2.Error{
			Code:        "invalid_client",
			Description: err.Error(),
		})
	}

	switch c.FormValue("grant_type") {
	case "authorization_code":
		return s.codeGrant(c)
	case "refresh_token":
		return s.refreshGrant(c)
	default:
		return c.JSON(http.StatusBadRequest, &oauth2.Error{
			Code:        "unsupported_grant_type",
			Description: "unsupported grant_type",
		})
	}
}

func (s *Server) codeGrant(c echo.Context) error {
	code := c.FormValue("code")

	s.lock.Lock()
	issued, ok := s.codes[code]
	delete(s.codes, code)
	s.lock.Unlock()

	if !ok || s.RejectCodes {
		return c.JSON(http.StatusBadRequest, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "unknown or expired code",
		})
	}

	if issued.RedirectURI != c.FormValue("redirect_uri") {
		return c.JSON(http.StatusBadRequest, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "redirect_uri mismatch",
		})
	}

	if issued.CodeChallenge != "" {
		challenge := oauth2.S256ChallengeFromVerifier(c.FormValue("code_verifier"))
		if subtle.ConstantTimeCompare([]byte(challenge), []byte(issued.CodeChallenge)) != 1 {
			return c.JSON(http.StatusBadRequest, &oauth2.Error{
				Code:        "invalid_grant",
				Description: "code verifier mismatch",
			})
		}
	}

	return c.JSON(http.StatusOK, s.issueTokens(issued.Subject, issued.Nonce))
}

func (s *Server) refreshGrant(c echo.Context) error {
	refreshToken := c.FormValue("refresh_token")

	s.lock.Lock()
	subject, ok := s.refresh[refreshToken]
	if ok {
		delete(s.refresh, refreshToken)
	}
	rejected := s.RejectRefresh
	s.lock.Unlock()

	if !ok || rejected {
		return c.JSON(http.StatusBadRequest, &oauth2.Error{
			Code:        "invalid_grant",
			Description: "unknown refresh token",
		})
	}

	return c.JSON(http.StatusOK, s.issueTokens(subject, ""))
}

func (s *Server) issueTokens(subject, nonce string) *oauth2.TokenResponse {
	accessToken := ksuid.New().String()
	refreshToken := ksuid.New().String()

	s.lock.Lock()
	s.tokens[accessToken] = &issuedToken{
		Subject:   subject,
		ExpiresAt: time.Now().Add(s.AccessTokenTTL),
	}
	s.refresh[refreshToken] = subject
	s.lock.Unlock()

	response := &oauth2.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.AccessTokenTTL / time.Second),
		RefreshToken: refreshToken,
	}

	if s.sigKey != nil {
		if idToken, err := s.signIDToken(subject, nonce); err == nil {
			response.IDToken = idToken
		}
	}

	return response
}

// RevokeAccessToken makes the resource server answer 401 for the given
// token, forcing clients through a refresh.
func (s *Server) RevokeAccessToken(accessToken string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if t, ok := s.tokens[accessToken]; ok {
		t.Revoked = true
	}
}

// ActiveAccessTokens lists the issued, unrevoked tokens. Test helper.
func (s *Server) ActiveAccessTokens() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var active []string
	for token, issued := range s.tokens {
		if !issued.Revoked {
			active = append(active, token)
		}
	}
	return active
}

func (s *Server) UserInfoEndpoint(c echo.Context) error {
	s.count("userinfo")

	accessToken := bearerToken(c)

	s.lock.Lock()
	issued, ok := s.tokens[accessToken]
	s.lock.Unlock()

	if !ok || issued.Revoked || time.Now().After(issued.ExpiresAt) {
		return c.JSON(http.StatusUnauthorized, &oauth2.Error{
			Code:        "invalid_token",
			Description: "access token invalid or expired",
		})
	}

	return c.JSON(http.StatusOK, s.User)
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return c.QueryParam("access_token")
}

func (s *Server) checkClientAuth(c echo.Context) error {
	var clientID, clientSecret string

	switch s.AuthScheme {
	case oauth2.ClientAuthSchemeBasic:
		var ok bool
		clientID, clientSecret, ok = c.Request().BasicAuth()
		if !ok {
			return fmt.Errorf("missing basic auth header")
		}
	case oauth2.ClientAuthSchemeQuery:
		clientID = c.QueryParam("client_id")
		clientSecret = c.QueryParam("client_secret")
	default:
		clientID = c.FormValue("client_id")
		clientSecret = c.FormValue("client_secret")
	}

	if clientID != s.ClientID {
		return fmt.Errorf("unknown client_id")
	}
	if s.ClientSecret != "" && subtle.ConstantTimeCompare([]byte(clientSecret), []byte(s.ClientSecret)) != 1 {
		return fmt.Errorf("bad client credentials")
	}
	return nil
}

func (s *Server) JWKS(c echo.Context) error {
	if s.jwks == nil {
		return c.JSON(http.StatusOK, jwk.NewSet())
	}
	return c.JSON(http.StatusOK, s.jwks)
}

// UseRandomSigningKey enables ID tokens signed with a fresh ES256 key,
// published on /jwks.
func (s *Server) UseRandomSigningKey() error {
	sigKey, err := randomSigningKey()
	if err != nil {
		return err
	}
	sigPuK, err := sigKey.PublicKey()
	if err != nil {
		return err
	}
	s.sigKey = sigKey
	s.jwks = jwk.NewSet()
	s.jwks.AddKey(sigPuK)
	return nil
}

func (s *Server) signIDToken(subject, nonce string) (string, error) {
	idToken := jwt.New()
	idToken.Set(jwt.IssuerKey, s.Issuer)
	idToken.Set(jwt.SubjectKey, subject)
	idToken.Set(jwt.AudienceKey, s.ClientID)
	idToken.Set(jwt.IssuedAtKey, time.Now().Unix())
	idToken.Set(jwt.ExpirationKey, time.Now().Add(time.Hour).Unix())
	if nonce != "" {
		idToken.Set("nonce", nonce)
	}

	signed, err := jwt.Sign(idToken, jwt.WithKey(jwa.ES256, s.sigKey))
	if err != nil {
		return "", fmt.Errorf("unable to sign id token: %w", err)
	}
	return string(signed), nil
}
