package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cometkim/dotunnel/internal/config"
	"github.com/cometkim/dotunnel/internal/tunnel"
)

var (
	tunnelPort       int
	tunnelHost       string
	tunnelSubdomain  string
	tunnelServiceURL string
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Start a tunnel to expose a local server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

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
			return fmt.Errorf("not logged in to profile '%s', run 'dotunnel login' first", profile)
		}

		serviceURL := tunnelServiceURL
		if serviceURL == "" {
			if p, ok := cfg.Profile(profile); ok {
				serviceURL = p.ServiceURL
			}
		}

		client, err := tunnel.NewClient(tunnel.Options{
			ServiceURL: serviceURL,
			Token:      pc.Token,
			LocalHost:  tunnelHost,
			LocalPort:  tunnelPort,
			Subdomain:  tunnelSubdomain,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return client.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(tunnelCmd)
	tunnelCmd.Flags().IntVarP(&tunnelPort, "port", "p", 0, "Local port to forward to")
	tunnelCmd.Flags().StringVar(&tunnelHost, "host", "127.0.0.1", "Local host")
	tunnelCmd.Flags().StringVarP(&tunnelSubdomain, "subdomain", "s", "", "Use named tunnel (subdomain)")
	tunnelCmd.Flags().StringVar(&tunnelServiceURL, "service-url", os.Getenv("DOTUNNEL_SERVICE_URL"), "Service URL override")
	tunnelCmd.MarkFlagRequired("port")
}
