package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/websignon/ssokit/pkg/mockidp"
	"github.com/websignon/ssokit/pkg/prettylog"
	"github.com/websignon/ssokit/pkg/sso"
	"github.com/websignon/ssokit/pkg/ssoweb"
	"github.com/websignon/ssokit/pkg/util"
)

const homeTemplate = `<html><body>
<h1>ssokit demo</h1>
<p><a href="/login/%s">Login with %s</a></p>
<p><a href="/protected/userinfo">Protected user info</a></p>
<p><a href="/logout">Logout</a></p>
</body></html>`

func main() {
	godotenv.Load()

	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}

	address := os.Getenv("SSOKIT_ADDRESS")
	if address == "" {
		address = ":8080"
	}

	root := echo.New()
	root.HideBanner = true

	config, err := loadOrDemoConfig(root, address)
	if err != nil {
		slog.Error("Unable to load configuration", "error", err)
		os.Exit(1)
	}

	authenticator, err := sso.NewAuthenticator(config)
	if err != nil {
		slog.Error("Unable to create authenticator", "error", err)
		os.Exit(1)
	}

	cookieSecret := os.Getenv("SSOKIT_COOKIE_SECRET")
	if cookieSecret == "" {
		cookieSecret = util.GenerateRandomString(32)
		slog.Warn("SSOKIT_COOKIE_SECRET not set, sessions will not survive restarts")
	}

	handler := ssoweb.NewHandler(authenticator.Sessions(), []byte(cookieSecret))
	handler.Register(authenticator)

	web := root.Group("")
	handler.MountRoutes(web)

	providerName := config.Registration.Name
	web.GET("/", func(c echo.Context) error {
		return c.HTML(http.StatusOK, fmt.Sprintf(homeTemplate, providerName, providerName))
	})

	protected := web.Group("/protected", handler.RedirectOnAuthRequired, handler.RequireAuth)
	protected.GET("/userinfo", func(c echo.Context) error {
		principal := c.Get("principal").(*sso.Principal)
		return c.JSON(http.StatusOK, map[string]any{
			"subject":      principal.Subject,
			"display_name": principal.DisplayName,
			"attributes":   principal.RawAttributes,
		})
	})

	mountLoginStatus(web, handler, authenticator.Sessions())

	slog.Info("Starting demo app", "address", address, "provider", providerName)
	if err := root.Start(address); err != nil && err != http.ErrServerClosed {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

// loadOrDemoConfig reads the yaml configuration, or, when none is given,
// embeds a mock identity provider into the app so the demo works without
// any external account.
func loadOrDemoConfig(root *echo.Echo, address string) (*sso.Config, error) {
	if path := os.Getenv("SSOKIT_CONFIG"); path != "" {
		return sso.LoadConfigFile(path)
	}

	slog.Info("SSOKIT_CONFIG not set, running with embedded mock identity provider")

	baseURL := "http://127.0.0.1" + address
	if address[0] != ':' {
		baseURL = "http://" + address
	}

	idp := mockidp.New("demo-app", "demo-secret", "form")
	idp.MountRoutes(root.Group("/idp"))

	config := &sso.Config{
		BaseURL: baseURL,
		Registration: &sso.ClientRegistration{
			Name:             "mock",
			ClientID:         "demo-app",
			ClientSecret:     "demo-secret",
			AuthorizationURL: baseURL + "/idp/authorize",
			TokenURL:         baseURL + "/idp/token",
			Scopes:           []string{"profile"},
		},
		ResourceServer: sso.ResourceServerConfig{
			UserInfoURL: baseURL + "/idp/userinfo",
		},
	}
	return config, nil
}
