package cmd

import (
	"github.com/spf13/cobra"

	"github.com/illmade-knight/backpack/pkg/dispatcher"
	"github.com/illmade-knight/backpack/pkg/sources/usgs"
	"github.com/illmade-knight/backpack/pkg/transport"
)

type usgsOptions struct {
	days, hours  int
	radius       int
	latitude     float64
	longitude    float64
	lower, upper int
	post         bool
	baseURL      string
}

func newUSGSCmd(root *rootOptions) *cobra.Command {
	opts := &usgsOptions{}
	cmd := &cobra.Command{
		Use:   "usgs",
		Short: "Search the USGS catalog for earthquakes and optionally publish them",
		Long: `The usgs command searches the USGS event catalog for earthquakes around a
point and prints the ones not yet published. With --post the new events are
delivered to the telemetry platform and recorded in the key store; without it
the cycle runs as a dry run and nothing is sent or recorded.`,
		Example: `  backpack usgs --days 1
  backpack usgs --days 10 --hours 12 --radius 1000 --lower 4 --post --method direct`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := usgs.Config{
				Duration:     usgs.DurationFrom(opts.days, opts.hours),
				Radius:       opts.radius,
				Latitude:     opts.latitude,
				Longitude:    opts.longitude,
				MinMagnitude: opts.lower,
				MaxMagnitude: opts.upper,
				Namespace:    root.cfg.Namespace,
				BaseURL:      opts.baseURL,
			}
			src, err := usgs.NewSource(cfg, root.logger)
			if err != nil {
				return err
			}

			mode := transport.ModeNone
			if opts.post {
				// --method, when given, is already merged into the configuration.
				if mode, err = transport.ParseMode(root.cfg.Transport.Mode); err != nil {
					return err
				}
			}

			p := newPrinter(cmd.OutOrStdout())
			if opts.post {
				p.printf("Querying USGS with post mode enabled (%s transport)...\n", mode)
			} else {
				p.println("Querying USGS with post mode disabled...")
			}

			a, err := root.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			d, err := a.Dispatcher(cmd.Context(), mode)
			if err != nil {
				return err
			}
			out := d.Publish(cmd.Context(), src)
			renderUSGS(p, out)
			if out.Status == dispatcher.StatusError {
				return errDispatchFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.days, "days", "d", 0, "Days back from now to search")
	flags.IntVar(&opts.hours, "hours", 0, "Hours back from now to search, added to --days")
	flags.IntVarP(&opts.radius, "radius", "r", usgs.DefaultRadius, "Radius of the search around the center, in km")
	flags.Float64Var(&opts.latitude, "latitude", usgs.DefaultLatitude, "Latitude of the center (default Cerro Pachon)")
	flags.Float64Var(&opts.longitude, "longitude", usgs.DefaultLongitude, "Longitude of the center (default Cerro Pachon)")
	flags.IntVar(&opts.lower, "lower", usgs.DefaultMinMagnitude, "Lower magnitude bound")
	flags.IntVar(&opts.upper, "upper", usgs.DefaultMaxMagnitude, "Upper magnitude bound")
	flags.BoolVar(&opts.post, "post", false, "Publish the new events instead of a dry run")
	flags.String("method", "", "Transport used with --post: direct, rest or none (default from configuration)")
	flags.String("broker", "", "Broker for the direct transport: pubsub or jetstream (default from configuration)")
	flags.StringVar(&opts.baseURL, "usgs-url", usgs.DefaultBaseURL, "USGS FDSN event service URL")
	_ = flags.MarkHidden("usgs-url")
	return cmd
}

func renderUSGS(p *printer, out dispatcher.Outcome) {
	p.printf("Fetched %d events: %d already published, %d dropped\n", out.Fetched, out.Duplicates, out.Dropped)
	if len(out.Delivered) > 0 {
		if out.DryRun {
			p.println("Post mode is disabled: the following events would be sent:")
		} else {
			p.println("The following events were sent:")
		}
		p.rule()
		for _, r := range out.Delivered {
			p.earthquake(r)
		}
		p.rule()
	} else if out.Status == dispatcher.StatusSuccess {
		p.println("No new events found for the provided criteria.")
	}
	p.outcome(out)
}
