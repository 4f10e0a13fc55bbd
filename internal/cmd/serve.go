package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/illmade-knight/backpack/pkg/apiserver"
	"github.com/illmade-knight/backpack/pkg/sources/usgs"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var usgsURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sources as HTTP endpoints",
		Long: `The serve command starts the HTTP API. Each source is exposed as a POST
endpoint that runs one dispatch cycle and reports its outcome; Prometheus
metrics are served at /metrics. The server stops gracefully on SIGINT or SIGTERM.`,
		Example: `  backpack serve --listen :8080 --keystore redis --keystore-url redis://localhost:6379/0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := apiserver.NewServer(a, a.Registry(), apiserver.Config{
				Namespace:   root.cfg.Namespace,
				USGSBaseURL: usgsURL,
			}, root.logger)
			return server.ListenAndServe(ctx, root.cfg.HTTP.ListenAddr)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "Address the HTTP server listens on")
	flags.String("method", "", "Transport used when a request does not name one (default from configuration)")
	flags.String("broker", "", "Broker for the direct transport: pubsub or jetstream (default from configuration)")
	flags.StringVar(&usgsURL, "usgs-url", usgs.DefaultBaseURL, "USGS FDSN event service URL")
	_ = flags.MarkHidden("usgs-url")
	return cmd
}
