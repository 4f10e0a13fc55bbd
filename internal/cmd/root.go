package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/illmade-knight/backpack/pkg/app"
	"github.com/illmade-knight/backpack/pkg/config"
)

// errDispatchFailed is returned by commands whose outcome has already been
// rendered; Execute exits non-zero without printing it again.
var errDispatchFailed = errors.New("dispatch failed")

// rootOptions carries the persistent flags and the configuration loaded from them.
type rootOptions struct {
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "backpack",
		Short: "Collect records from external data providers and publish them to the telemetry platform.",
		Long: `backpack fetches records from external data providers, drops the ones
already published, and delivers the rest to the telemetry platform through a
streaming broker or the REST proxy.

Configuration is read from flags, BACKPACK_ environment variables and an
optional backpack.yaml, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			opts.cfg = cfg

			// Use a console writer for human-readable CLI output.
			consoleWriter := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}
			log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				log.Warn().Str("provided_level", cfg.LogLevel).Msg("Invalid log level provided. Defaulting to 'info'.")
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)
			opts.logger = log.Logger
			log.Debug().Str("namespace", cfg.Namespace).Msg("Configuration loaded")
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.cfgFile, "config", "c", "", "Path to a YAML configuration file (default: ./backpack.yaml or $HOME/.config/backpack/backpack.yaml)")
	flags.String("log-level", "info", "Set the logging level (trace, debug, info, warn, error, fatal, panic)")
	flags.String("namespace", config.DefaultNamespace, "Namespace qualifying topics and schemas")
	flags.String("rest-proxy-url", config.DefaultRESTProxyURL, "Base URL of the telemetry REST proxy")
	flags.String("keystore", "redis", "Key store used for deduplication (redis, firestore, nats, memory, none)")
	flags.String("keystore-url", config.DefaultRedisURL, "Redis or NATS URL of the key store")

	rootCmd.AddCommand(
		newUSGSCmd(opts),
		newServeCmd(opts),
		newSchemaCmd(opts),
		newTopicCmd(opts),
		newDedupCmd(opts),
	)
	return rootCmd
}

// Execute runs the command tree. This is called by cmd/backpack/main.go.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errDispatchFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// openApp builds the application from the loaded configuration. The caller closes it.
func (o *rootOptions) openApp(cmd *cobra.Command) (*app.App, error) {
	return app.New(cmd.Context(), o.cfg, o.logger)
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close application resources")
	}
}
