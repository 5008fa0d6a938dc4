// Package cmd provides the lumen CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - migrate: apply pending database migrations
//   - version: show build information
//
// All commands handle SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lumenchat/lumen/internal/config"
	"github.com/lumenchat/lumen/internal/log"
)

var rootCmd = &cobra.Command{
	Use:           "lumen",
	Short:         "Lumen - resumable streaming AI chat server",
	Long:          "Lumen serves an AI chat API with server-sent event streaming,\ngeneration resume after disconnect, and a tool-calling model loop.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and builds the logger from it.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{
		Level: parseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
