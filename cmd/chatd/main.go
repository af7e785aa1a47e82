// chatd serves one MCP chat session over HTTP: server management, the
// delegated-authorization callback, session state streaming, and chat turns.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyonlabs/mcpchat/pkg/chat"
	"github.com/halcyonlabs/mcpchat/pkg/mcpauth"
	"github.com/halcyonlabs/mcpchat/pkg/mcpconn"
	"github.com/halcyonlabs/mcpchat/pkg/openai"
	"github.com/halcyonlabs/mcpchat/pkg/session"
	"github.com/halcyonlabs/mcpchat/pkg/webapi"
)

const version = "0.1.0"

var (
	addr           string
	dbPath         string
	sessionID      string
	redirectURL    string
	model          string
	openaiBaseURL  string
	allowedOrigins []string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:          "chatd",
	Short:        "MCP multi-server chat session daemon",
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8484", "listen address")
	rootCmd.Flags().StringVar(&dbPath, "db", "chatd.db", "credential database path")
	rootCmd.Flags().StringVar(&sessionID, "session", "default", "session identity scoping stored credentials")
	rootCmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8484/oauth/callback",
		"OAuth redirect URL registered with authorization servers")
	rootCmd.Flags().StringVar(&model, "model", "", "OpenAI model for chat turns (default gpt-4o)")
	rootCmd.Flags().StringVar(&openaiBaseURL, "openai-base-url", "", "override the OpenAI API endpoint")
	rootCmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origin", nil, "CORS origin allowlist (default: any)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func run(ctx context.Context) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	credentials, err := mcpauth.NewSQLiteStore(dbPath, sessionID)
	if err != nil {
		return err
	}
	defer credentials.Close()

	coordinator := mcpauth.NewCoordinator(credentials, &mcpauth.CoordinatorOptions{
		RedirectURL: redirectURL,
		ClientName:  "mcpchat",
		Logger:      logger,
	})

	registry := mcpconn.NewRegistry(&mcpconn.Options{
		ClientName:    "mcpchat",
		ClientVersion: version,
		Authorizer:    coordinator,
		AuthHeader:    coordinator.AuthorizationHeader,
		Logger:        logger,
	})
	agent := session.NewAgent(registry, coordinator, session.NewStore(), logger)
	defer agent.Close()

	var languageModel chat.LanguageModel
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		languageModel = openai.NewModel(openai.Options{
			APIKey:  apiKey,
			Model:   model,
			BaseURL: openaiBaseURL,
		})
	} else {
		logger.Warn("OPENAI_API_KEY is not set; chat turns are disabled")
	}

	server := &http.Server{
		Addr: addr,
		Handler: webapi.New(&webapi.Options{
			Agent:          agent,
			Model:          languageModel,
			AllowedOrigins: allowedOrigins,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
