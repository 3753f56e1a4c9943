package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newEnrollCmd(a *app) *cobra.Command {
	var testIDStr string

	cmd := &cobra.Command{
		Use:   "enroll --test <test-id> <user-id>...",
		Short: "Grant users access to an enrolled-only test",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			testID, err := uuid.Parse(testIDStr)
			if err != nil {
				return fmt.Errorf("invalid --test: %w", err)
			}

			stores, err := a.openStores(ctx)
			if err != nil {
				return err
			}
			for _, userID := range args {
				if err := stores.Tests.Enroll(ctx, userID, testID); err != nil {
					return fmt.Errorf("enroll %s: %w", userID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %d user(s) in %s\n", len(args), testID)
			return nil
		},
	}
	cmd.Flags().StringVar(&testIDStr, "test", "", "Test id")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}
