package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/illmade-knight/backpack/pkg/transport"
)

func newTopicCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Administer the topics sources publish to",
	}

	create := &cobra.Command{
		Use:   "create <source>",
		Short: "Create the topic a source publishes to",
		Long: `The create command creates <namespace>.<topic> for the named source on the
configured transport: through the REST proxy's v3 API for the rest method, or
on the broker for the direct method. Creating an existing Pub/Sub topic or
JetStream stream is not an error.`,
		Example: `  backpack topic create usgs --method rest
  backpack topic create usgs --method direct --broker jetstream`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := lookupSource(args[0])
			if err != nil {
				return err
			}
			mode, err := transport.ParseMode(root.cfg.Transport.Mode)
			if err != nil {
				return err
			}

			a, err := root.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			creator, err := a.TopicCreator(cmd.Context(), mode)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), root.cfg.Timeouts.Send)
			defer cancel()

			topic := root.cfg.Namespace + "." + info.topic
			result, err := creator.CreateTopic(ctx, topic)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout())
			p.colored(colorGreen, "Topic "+topic+" is ready")
			p.println(result)
			return nil
		},
	}
	create.Flags().String("method", "", "Transport to create the topic on: direct or rest (default from configuration)")
	create.Flags().String("broker", "", "Broker for the direct transport: pubsub or jetstream (default from configuration)")

	cmd.AddCommand(create)
	return cmd
}
