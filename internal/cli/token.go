package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-resume-service/internal/auth"
	"quiz-resume-service/internal/config"
)

// NewTokenCmd issues a signed session token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a development session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Secret == "" {
				return fmt.Errorf("auth secret not configured")
			}
			provider := auth.NewProvider(cfg.Auth.Secret, cfg.Auth.SignInURL, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour), nil)
			token, err := provider.IssueToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
