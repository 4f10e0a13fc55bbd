package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/illmade-knight/backpack/pkg/keystore"
	"github.com/illmade-knight/backpack/pkg/types"
)

// dedupKeyFlags are shared by the dedup subcommands.
type dedupKeyFlags struct {
	topic string
	id    string
}

func (f *dedupKeyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.topic, "topic", "", "Short topic name the key belongs to, e.g. usgs_earthquake_data")
	cmd.Flags().StringVar(&f.id, "id", "", "Record identifier")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("id")
}

func (f *dedupKeyFlags) key() (types.DedupKey, error) {
	key := types.NewDedupKey(f.topic, f.id)
	if f.topic == "" || key.IsZero() {
		return types.DedupKey{}, errors.New("--topic and --id must not be empty")
	}
	return key, nil
}

func newDedupCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Inspect and edit the deduplication key store",
	}

	// withStore opens the configured key store and runs fn against it.
	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store keystore.KeyStore) error) error {
		a, err := root.openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)
		store := a.KeyStore()
		if store == nil {
			return keystore.ErrNotConfigured
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), root.cfg.Timeouts.Store)
		defer cancel()
		return fn(ctx, store)
	}

	var checkFlags dedupKeyFlags
	check := &cobra.Command{
		Use:     "check",
		Short:   "Report whether a key has been recorded",
		Example: `  backpack dedup check --topic usgs_earthquake_data --id us7000abc1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := checkFlags.key()
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store keystore.KeyStore) error {
				found, err := store.Contains(ctx, key)
				if err != nil {
					return err
				}
				p := newPrinter(cmd.OutOrStdout())
				if found {
					p.colored(colorYellow, key.String()+" is recorded: the record will not be sent again")
				} else {
					p.colored(colorGreen, key.String()+" is not recorded")
				}
				return nil
			})
		},
	}
	checkFlags.register(check)

	var addFlags dedupKeyFlags
	add := &cobra.Command{
		Use:     "add",
		Short:   "Record a key so the matching record is never sent",
		Example: `  backpack dedup add --topic usgs_earthquake_data --id us7000abc1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := addFlags.key()
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, store keystore.KeyStore) error {
				if err := store.Insert(ctx, key); err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).colored(colorGreen, "Recorded "+key.String())
				return nil
			})
		},
	}
	addFlags.register(add)

	cmd.AddCommand(check, add)
	return cmd
}
