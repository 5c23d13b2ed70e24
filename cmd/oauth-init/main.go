// Command oauth-init obtains a Google OAuth user token for the Sheets
// exporter and writes it to GOOGLE_OAUTH_TOKEN_FILE.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing/internal/cli"
	"billing/internal/config"
	applog "billing/internal/log"
	gsheet "billing/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()
	level, _ := applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := applog.New(applog.Config{Level: level, Component: applog.ComponentCLI})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", applog.FieldError, err)
		os.Exit(1)
	}
	oauthCfg, err := gsheet.OAuthConfig(cfg.GoogleOAuthClientJSON, cfg.GoogleOAuthClientFile)
	if err != nil {
		logger.Error("Invalid OAuth client", applog.FieldError, err)
		os.Exit(1)
	}

	// The redirect URI http://localhost:<port>/callback must be registered
	// on the OAuth client.
	port := os.Getenv("OAUTH_REDIRECT_PORT")
	if port == "" {
		port = "8085"
	}
	tokenFile := cfg.GoogleOAuthTokenFile
	if tokenFile == "" {
		tokenFile = "token.json"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	tok, err := gsheet.Authorize(ctx, oauthCfg, "localhost:"+port, func(url string) {
		fmt.Printf("Open this URL to authorize:\n%s\n", url)
	})
	if err != nil {
		logger.Error("Authorization failed", applog.FieldError, err)
		os.Exit(1)
	}
	if err := gsheet.SaveToken(tokenFile, tok); err != nil {
		logger.Error("Failed to save token", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Saved OAuth token", "path", tokenFile)
}
