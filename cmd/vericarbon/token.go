package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"carbon-scribe/vericarbon-engine/internal/auth"
	"carbon-scribe/vericarbon-engine/internal/config"
	"carbon-scribe/vericarbon-engine/internal/domain"
)

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Sign a bearer token for account with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return errors.New("security.jwt_secret is not set")
			}

			account := domain.NewAccount(args[0])
			if account.IsZero() || account.IsReserved() {
				return fmt.Errorf("%q: %w", args[0], domain.ErrInvalidAccount)
			}

			token, err := auth.IssueToken(cfg.Security.JWTSecret, account, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
