package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cometkim/dotunnel/internal/auth"
	"github.com/cometkim/dotunnel/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current login status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadCredentials()
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		pc, ok := creds.Profile(profile)
		if !ok {
			fmt.Printf("Not logged in to profile '%s'\n\n", profile)
			fmt.Println("Run 'dotunnel login' to authenticate.")
			return nil
		}

		profileCfg, ok := cfg.Profile(profile)
		if !ok {
			fmt.Printf("Profile '%s' has credentials but no config\n", profile)
			return nil
		}

		fmt.Printf("Profile: %s\n", profile)
		fmt.Printf("Service: %s\n\n", profileCfg.ServiceURL)

		user, err := auth.FetchUser(cmd.Context(), profileCfg.ServiceURL, pc.Token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				fmt.Println("Your session has expired or been revoked.")
				fmt.Println()
				fmt.Println("Run 'dotunnel logout' and then 'dotunnel login' to re-authenticate.")
				return nil
			}
			return err
		}

		fmt.Println("Logged in as:")
		fmt.Printf("  Name:  %s\n", user.Name)
		fmt.Printf("  Email: %s\n", user.Email)
		if !user.EmailVerified {
			fmt.Println("  (email not verified)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
