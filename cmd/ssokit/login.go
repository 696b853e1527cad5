package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/websignon/ssokit/pkg/oauth2"
	"github.com/websignon/ssokit/pkg/sso"
	"github.com/websignon/ssokit/pkg/util"
)

var loginFlags struct {
	configPath       string
	clientID         string
	clientSecret     string
	authorizationURL string
	tokenURL         string
	userInfoURL      string
	scopes           string
	authScheme       string
	listenAddress    string
	timeout          time.Duration
	noBrowser        bool
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Perform an interactive Authorization Code login using a loopback callback server",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginFlags.configPath, "config", "c", "", "path to a yaml config file (flags override it)")
	loginCmd.Flags().StringVar(&loginFlags.clientID, "client-id", "", "OAuth2 client id")
	loginCmd.Flags().StringVar(&loginFlags.clientSecret, "client-secret", "", "OAuth2 client secret")
	loginCmd.Flags().StringVar(&loginFlags.authorizationURL, "authorization-url", "", "authorization endpoint")
	loginCmd.Flags().StringVar(&loginFlags.tokenURL, "token-url", "", "token endpoint")
	loginCmd.Flags().StringVar(&loginFlags.userInfoURL, "userinfo-url", "", "user info endpoint")
	loginCmd.Flags().StringVar(&loginFlags.scopes, "scopes", "", "comma separated scopes")
	loginCmd.Flags().StringVar(&loginFlags.authScheme, "auth-scheme", "form", "client auth scheme: query, form or basic")
	loginCmd.Flags().StringVar(&loginFlags.listenAddress, "listen", "127.0.0.1:8089", "loopback callback address")
	loginCmd.Flags().DurationVar(&loginFlags.timeout, "timeout", 5*time.Minute, "how long to wait for the callback")
	loginCmd.Flags().BoolVar(&loginFlags.noBrowser, "no-browser", false, "print the login URL instead of opening a browser")
	rootCmd.AddCommand(loginCmd)
}

func loginConfig() (*sso.Config, error) {
	if loginFlags.configPath != "" {
		return sso.LoadConfigFile(loginFlags.configPath)
	}

	var scopes []string
	if loginFlags.scopes != "" {
		scopes = strings.Split(loginFlags.scopes, ",")
	}

	config := &sso.Config{
		BaseURL: "http://" + loginFlags.listenAddress,
		Registration: &sso.ClientRegistration{
			Name:             "cli",
			ClientID:         loginFlags.clientID,
			ClientSecret:     loginFlags.clientSecret,
			AuthorizationURL: loginFlags.authorizationURL,
			TokenURL:         loginFlags.tokenURL,
			RedirectPath:     "/callback",
			Scopes:           scopes,
			AuthScheme:       oauth2.ClientAuthScheme(loginFlags.authScheme),
		},
		ResourceServer: sso.ResourceServerConfig{
			UserInfoURL: loginFlags.userInfoURL,
		},
	}

	// fail on missing flags before the callback server starts
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	godotenv.Load()

	config, err := loginConfig()
	if err != nil {
		return err
	}

	authenticator, err := sso.NewAuthenticator(config)
	if err != nil {
		return err
	}

	session := sso.NewSession()
	authURL, err := authenticator.Begin(session, "/")
	if err != nil {
		return err
	}

	callbacks := startCallbackServer(loginFlags.listenAddress, config.Registration.RedirectPath, loginFlags.timeout)

	if loginFlags.noBrowser {
		fmt.Println(authURL)
	} else {
		fmt.Println("Opening browser for login:", authURL)
		if err := util.OpenBrowser(authURL); err != nil {
			fmt.Println("Open this URL to login:", authURL)
		}
	}

	cb := <-callbacks
	if cb.Err != nil {
		return cb.Err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := authenticator.CompleteCallback(ctx, session, cb.Code, cb.State); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (%s)\n", session.Principal.DisplayName, session.Principal.Subject)
	attrs, _ := json.MarshalIndent(session.Principal.RawAttributes, "", "  ")
	os.Stdout.Write(attrs)
	fmt.Println()

	if tc, err := authenticator.Tokens().GetToken(session.ID); err == nil && tc.IDToken != "" {
		fmt.Println("ID token:", util.JWSToText(tc.IDToken))
	}
	return nil
}
