package main

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/websignon/ssokit/pkg/mockidp"
	"github.com/websignon/ssokit/pkg/oauth2"
)

var mockIdpFlags struct {
	address      string
	clientID     string
	clientSecret string
	authScheme   string
	signIDTokens bool
}

var mockIdpCmd = &cobra.Command{
	Use:   "mock-idp",
	Short: "Run a standalone mock identity provider for development",
	RunE: func(cmd *cobra.Command, args []string) error {
		idp := mockidp.New(mockIdpFlags.clientID, mockIdpFlags.clientSecret, oauth2.ClientAuthScheme(mockIdpFlags.authScheme))
		idp.Issuer = "http://" + mockIdpFlags.address

		if mockIdpFlags.signIDTokens {
			if err := idp.UseRandomSigningKey(); err != nil {
				return err
			}
		}

		root := echo.New()
		root.HideBanner = true
		idp.MountRoutes(root.Group(""))

		slog.Info("Starting mock identity provider", "address", mockIdpFlags.address, "client_id", mockIdpFlags.clientID)
		err := root.Start(mockIdpFlags.address)
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	mockIdpCmd.Flags().StringVar(&mockIdpFlags.address, "address", "127.0.0.1:8091", "listen address")
	mockIdpCmd.Flags().StringVar(&mockIdpFlags.clientID, "client-id", "demo-app", "accepted client id")
	mockIdpCmd.Flags().StringVar(&mockIdpFlags.clientSecret, "client-secret", "demo-secret", "accepted client secret")
	mockIdpCmd.Flags().StringVar(&mockIdpFlags.authScheme, "auth-scheme", "form", "client auth scheme: query, form or basic")
	mockIdpCmd.Flags().BoolVar(&mockIdpFlags.signIDTokens, "sign-id-tokens", false, "issue signed ID tokens")
	rootCmd.AddCommand(mockIdpCmd)
}
