// Package main provides the CLI entry point for joingate, a bot that holds
// group join requests for review.
//
// New requests from the source groups are announced in a review group, where
// reviewers approve or reject them with short commands. Requests nobody
// answers are approved automatically once their countdown runs out.
//
// # Basic Usage
//
// Start the bot:
//
//	joingate serve --config joingate.yaml
//
// Check a config file without connecting anywhere:
//
//	joingate validate --config joingate.yaml
//
// Print the config JSON Schema for editor integration:
//
//	joingate schema > joingate.schema.json
//
// # Environment Variables
//
//   - JOINGATE_CONFIG: Path to the configuration file (default: joingate.yaml)
//
// Config files may reference any variable as ${NAME} or ${NAME:-fallback},
// which keeps access tokens out of the file.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "joingate.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "joingate",
		Short: "joingate - join request review bot",
		Long: `joingate holds group join requests for review.

Supported platforms: OneBot v11 (NapCat, Lagrange, go-cqhttp), Telegram`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
		buildSchemaCmd(),
		buildHistoryCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit flag, then JOINGATE_CONFIG.
func resolveConfigPath(path string) string {
	if path != "" && path != defaultConfigName {
		return path
	}
	if env := os.Getenv("JOINGATE_CONFIG"); env != "" {
		return env
	}
	return defaultConfigName
}
