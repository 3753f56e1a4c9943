package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/service"
)

func newIssueTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue-token <user-id>",
		Short: "Sign a candidate token (local testing and load tests)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.IsProduction() {
				a.log.Warn().Str("user_id", args[0]).Msg("Issuing a candidate token against production config")
			}
			token, err := service.NewAuthService(a.cfg).GenerateCandidateToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	return cmd
}
