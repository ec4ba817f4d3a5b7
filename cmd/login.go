package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cometkim/dotunnel/internal/auth"
	"github.com/cometkim/dotunnel/internal/config"
)

var loginServiceURL string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to DOtunnel service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		creds, err := config.LoadCredentials()
		if err != nil {
			return err
		}
		if _, ok := creds.Profile(profile); ok {
			fmt.Printf("You are already logged in to profile '%s'. Use 'dotunnel logout' first to log out.\n", profile)
			return nil
		}

		serviceURL := loginServiceURL
		if serviceURL == "" {
			if p, ok := cfg.Profile(profile); ok {
				serviceURL = p.ServiceURL
			}
		}
		if serviceURL == "" {
			serviceURL = DefaultServiceURL
		}

		fmt.Printf("Logging in to DOtunnel service at %s\n\n", serviceURL)

		token, err := auth.Login(cmd.Context(), auth.LoginOptions{
			ServiceURL: serviceURL,
			Out:        os.Stdout,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		creds.SetProfile(profile, config.ProfileCredentials{Token: token})
		if err := creds.Save(); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		cfg.SetProfile(profile, config.ProfileConfig{ServiceURL: serviceURL})
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Printf("\nSuccessfully logged in!\n\n")
		fmt.Printf("Your credentials have been saved to %s\n", config.CredentialsPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVar(&loginServiceURL, "service-url", os.Getenv("DOTUNNEL_SERVICE_URL"), "The DOtunnel service URL")
}
