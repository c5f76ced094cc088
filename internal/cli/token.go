package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/passculture/pass-culture-core/internal/middleware"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var userID int64

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.AuthSecret == "" {
				return errors.New("auth secret is not configured")
			}
			if userID <= 0 {
				return errors.New("user id must be positive")
			}
			auth, err := middleware.NewAuthMiddleware(opts.cfg.AuthSecret)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), auth.Token(userID))
			return err
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "user the token is issued for")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}
