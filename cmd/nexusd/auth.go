package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/nexus/internal/config"
)

// buildAuthCmd groups gateway credential management: minting short-lived
// JWT bearer tokens and setting the static shared-secret token, per the
// server.auth_token/server.jwt_secret pair in ServerConfig.
func buildAuthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage gateway API credentials",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	cmd.AddCommand(
		buildAuthMintCmd(&configPath),
		buildAuthSetTokenCmd(&configPath),
	)
	return cmd
}

func buildAuthMintCmd(configPath *string) *cobra.Command {
	var (
		agent string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Print a signed bearer token for the gateway HTTP/WS API",
		Long: "Signs an HS256 JWT against server.jwt_secret and prints it to stdout.\n" +
			"Requires server.jwt_secret to already be configured (see 'auth set-token --jwt-secret').",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured; run 'nexusd auth set-token --jwt-secret' first")
			}
			claims := struct {
				Agent string `json:"agent"`
				jwt.RegisteredClaims
			}{
				Agent: agent,
				RegisteredClaims: jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(time.Now()),
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
				},
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Server.JWTSecret))
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "*", "agent id this token is minted for (\"*\" for any)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func buildAuthSetTokenCmd(configPath *string) *cobra.Command {
	var useSecret bool
	cmd := &cobra.Command{
		Use:   "set-token",
		Short: "Set server.auth_token (or, with --jwt-secret, server.jwt_secret) without echoing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), "value: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("read value: %w", err)
			}
			value := string(raw)
			if value == "" {
				return fmt.Errorf("value must not be empty")
			}

			if useSecret {
				cfg.Server.JWTSecret = value
			} else {
				cfg.Server.AuthToken = value
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			if useSecret {
				fmt.Fprintln(cmd.OutOrStdout(), "server.jwt_secret updated")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "server.auth_token updated")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSecret, "jwt-secret", false, "set server.jwt_secret instead of server.auth_token")
	return cmd
}
