package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/websignon/ssokit/pkg/prettylog"
)

var rootCmd = &cobra.Command{
	Use:     "ssokit",
	Short:   "OAuth2 SSO client toolkit",
	Version: "0.1.0",
}

func main() {
	if os.Getenv("PRETTY_LOGS") != "false" {
		logger := slog.New(prettylog.NewHandler(slog.LevelDebug))
		slog.SetDefault(logger)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
