package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cometkim/dotunnel/internal/auth"
	"github.com/cometkim/dotunnel/internal/config"
)

var logoutForce bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out from DOtunnel service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		creds, err := config.LoadCredentials()
		if err != nil {
			return err
		}
		pc, ok := creds.Profile(profile)
		if !ok {
			fmt.Printf("Not logged in to profile '%s'\n", profile)
			return nil
		}

		// Revoke server-side unless forced; local logout proceeds
		// either way.
		if !logoutForce {
			cfg, err := config.Load()
			if err == nil {
				if p, ok := cfg.Profile(profile); ok {
					if err := auth.RevokeToken(cmd.Context(), p.ServiceURL, pc.Token); err != nil {
						logger.Debug().Err(err).Msg("failed to revoke token on server")
					} else {
						logger.Debug().Msg("token revoked on server")
					}
				}
			}
		}

		creds.RemoveProfile(profile)
		if err := creds.Save(); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}

		fmt.Printf("Logged out from profile '%s'\n", profile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
	logoutCmd.Flags().BoolVar(&logoutForce, "force", false, "Force logout without revoking token on server")
}
