package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// schemaDocument is what the schema command prints.
type schemaDocument struct {
	Topic       string         `json:"topic" yaml:"topic"`
	Schema      map[string]any `json:"schema" yaml:"schema"`
	Boilerplate map[string]any `json:"boilerplate" yaml:"boilerplate"`
}

func newSchemaCmd(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "schema [source]",
		Short: "Print a source's Avro schema and boilerplate record",
		Example: `  backpack schema usgs
  backpack schema usgs --output yaml --namespace lsst.example`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "usgs"
			if len(args) == 1 {
				name = args[0]
			}
			info, err := lookupSource(name)
			if err != nil {
				return err
			}

			desc := info.schema(root.cfg.Namespace)
			raw, err := desc.AvroJSON()
			if err != nil {
				return err
			}
			doc := schemaDocument{Topic: root.cfg.Namespace + "." + info.topic}
			if err := json.Unmarshal([]byte(raw), &doc.Schema); err != nil {
				return fmt.Errorf("decoding schema %s: %w", desc.FullName(), err)
			}
			if doc.Boilerplate, err = desc.Instance(nil); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			case "yaml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(doc); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown output format %q: use json or yaml", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json or yaml")
	return cmd
}
