package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Audit the configuration and local environment before serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "config: FAIL (%v)\n", err)
		return err
	}
	fmt.Fprintf(out, "config: OK (%s, %d agent(s))\n", configPath, len(cfg.Agents))

	auditPort(out, "http", cfg.Server.Host, cfg.Server.HTTPPort)
	if cfg.Server.MetricsPort != 0 {
		auditPort(out, "metrics", cfg.Server.Host, cfg.Server.MetricsPort)
	}

	for _, a := range cfg.Agents {
		root := cfg.AgentWorkspace(a.ID)
		if _, err := os.Stat(root); err != nil {
			fmt.Fprintf(out, "agent %s: workspace missing at %s (will be created on serve)\n", a.ID, root)
		} else {
			fmt.Fprintf(out, "agent %s: workspace OK at %s\n", a.ID, root)
		}
	}

	if cfg.Channels.Discord.BotToken == "" && cfg.Channels.Telegram.BotToken == "" && cfg.Channels.Slack.BotToken == "" {
		fmt.Fprintln(out, "channels: no outbound connector configured (discord/telegram/slack bot tokens all empty)")
	}
	fmt.Fprintln(out, "provider: no LLM provider.Manager is built into this binary; one must be plugged in before turns can run")

	return nil
}

// auditPort reports whether addr:port is free to bind, without holding the
// listener open past the check.
func auditPort(out io.Writer, label, host string, port int) {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(out, "%s port %s: in use or unavailable (%v)\n", label, addr, err)
		return
	}
	ln.Close()
	fmt.Fprintf(out, "%s port %s: available\n", label, addr)
}
