// Command nexusd is the daemon entry point: it loads a YAML configuration
// file and runs the gateway, dispatch, and scheduler described in
// internal/config, internal/dispatch, and internal/scheduler.
//
// # Basic usage
//
//	nexusd serve --config nexusd.yaml
//	nexusd agents list
//	nexusd cron list --agent my-agent
//	nexusd doctor
package main

import (
	"log/slog"
	"os"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
