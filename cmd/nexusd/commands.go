package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./nexusd.yaml"

// buildRootCmd wires the full command tree. Separated from main so tests
// (and a future CLI harness) can build it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "nexusd",
		Short:        "nexusd - channel-to-agent gateway daemon",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAgentsCmd(),
		buildCronCmd(),
		buildDoctorCmd(),
		buildAuthCmd(),
	)

	return rootCmd
}

// resolveConfigPath falls back to defaultConfigPath when the --config flag
// was left empty.
func resolveConfigPath(path string) string {
	if path == "" {
		return defaultConfigPath
	}
	return path
}
