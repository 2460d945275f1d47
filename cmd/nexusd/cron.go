package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/scheduler"
	"github.com/haasonsaas/nexus/pkg/models"
)

func buildCronCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage an agent's persisted cron jobs",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	cmd.AddCommand(
		buildCronListCmd(&configPath),
		buildCronAddCmd(&configPath),
		buildCronRemoveCmd(&configPath),
	)
	return cmd
}

func buildCronListCmd(configPath *string) *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an agent's persisted cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			if cfg.AgentByID(agentID) == nil {
				return fmt.Errorf("agent %q not found", agentID)
			}
			jobs, err := scheduler.ReadCronJobs(cfg.AgentWorkspace(agentID))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "no cron jobs persisted")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%s  schedule=%q  kind=%s\n", j.Name, j.Schedule, j.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cobra.CheckErr(cmd.MarkFlagRequired("agent"))
	return cmd
}

func buildCronAddCmd(configPath *string) *cobra.Command {
	var (
		agentID  string
		name     string
		schedule string
		message  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Persist and register a new cron job for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			if cfg.AgentByID(agentID) == nil {
				return fmt.Errorf("agent %q not found", agentID)
			}
			job := models.PersistedCronJob{
				AgentID:  agentID,
				Name:     name,
				Schedule: schedule,
				Message:  message,
				Kind:     models.JobKindRecurring,
			}
			sched := scheduler.New(nil, nil, nil)
			root := cfg.AgentWorkspace(agentID)
			if err := sched.RegisterJob(context.Background(), scheduler.CronConfig{AgentID: agentID, Workspace: root}, job); err != nil {
				return err
			}
			sched.Shutdown()
			fmt.Fprintf(cmd.OutOrStdout(), "cron job %q persisted for agent %q; will run once `nexusd serve` is (re)started\n", name, agentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&name, "name", "", "job name (required)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "6-field cron schedule, sec min hour dom mon dow (required)")
	cmd.Flags().StringVar(&message, "message", "", "message text delivered as the turn's inbound content")
	cobra.CheckErr(cmd.MarkFlagRequired("agent"))
	cobra.CheckErr(cmd.MarkFlagRequired("name"))
	cobra.CheckErr(cmd.MarkFlagRequired("schedule"))
	return cmd
}

func buildCronRemoveCmd(configPath *string) *cobra.Command {
	var agentID, name string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a persisted cron job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			if cfg.AgentByID(agentID) == nil {
				return fmt.Errorf("agent %q not found", agentID)
			}
			if err := scheduler.RemovePersistedCronJob(cfg.AgentWorkspace(agentID), name, agentID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cron job %q removed for agent %q\n", name, agentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&name, "name", "", "job name (required)")
	cobra.CheckErr(cmd.MarkFlagRequired("agent"))
	cobra.CheckErr(cmd.MarkFlagRequired("name"))
	return cmd
}
