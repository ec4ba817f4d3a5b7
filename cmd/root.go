package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// DefaultServiceURL is used when neither a flag nor a stored profile
// provides a service URL.
const DefaultServiceURL = "http://localhost:5173"

var (
	profile   string
	verbosity int
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:           "dotunnel",
	Short:         "Expose your local servers to the public internet easily and reliably.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		newLogger().Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "default", "Configuration profile to use")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv, -vvv)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Silence all log output")
}

// newLogger builds the CLI logger. The base level is error, raised by
// repeated -v flags; DOTUNNEL_LOG overrides both.
func newLogger() zerolog.Logger {
	level := zerolog.ErrorLevel
	switch verbosity {
	case 0:
	case 1:
		level = zerolog.InfoLevel
	case 2:
		level = zerolog.DebugLevel
	default:
		level = zerolog.TraceLevel
	}
	if env := os.Getenv("DOTUNNEL_LOG"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	if quiet {
		level = zerolog.Disabled
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
