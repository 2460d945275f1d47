package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
)

func buildAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage configured agents",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	cmd.AddCommand(
		buildAgentsListCmd(&configPath),
		buildAgentsAddCmd(&configPath),
		buildAgentsRemoveCmd(&configPath),
	)
	return cmd
}

func buildAgentsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(cfg.Agents) == 0 {
				fmt.Fprintln(out, "no agents configured")
				return nil
			}
			for _, a := range cfg.Agents {
				marker := ""
				if a.IsDefault {
					marker = " (default)"
				}
				fmt.Fprintf(out, "%s%s  model=%s  cron_jobs=%d\n", a.ID, marker, a.Model, len(a.CronJobs))
			}
			return nil
		},
	}
}

func buildAgentsAddCmd(configPath *string) *cobra.Command {
	var (
		name       string
		model      string
		isDefault  bool
		defChannel string
	)
	cmd := &cobra.Command{
		Use:   "add <agent_id>",
		Short: "Add a new agent entry to the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			id := args[0]
			if cfg.AgentByID(id) != nil {
				return fmt.Errorf("agent %q already exists", id)
			}
			cfg.Agents = append(cfg.Agents, config.AgentConfig{
				ID:             id,
				Name:           name,
				Model:          model,
				IsDefault:      isDefault,
				DefaultChannel: defChannel,
			})
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %q added\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&model, "model", "", "model identifier")
	cmd.Flags().BoolVar(&isDefault, "default", false, "mark this agent as the default")
	cmd.Flags().StringVar(&defChannel, "default-channel", "", "default outbound channel")
	return cmd
}

func buildAgentsRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <agent_id>",
		Short: "Remove an agent entry from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			id := args[0]
			idx := -1
			for i, a := range cfg.Agents {
				if a.ID == id {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("agent %q not found", id)
			}
			cfg.Agents = append(cfg.Agents[:idx], cfg.Agents[idx+1:]...)
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %q removed\n", id)
			return nil
		},
	}
}
