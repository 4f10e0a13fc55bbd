package keystore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects and configures a KeyStore implementation.
type Config struct {
	Kind            Kind
	URL             string // redis or nats url
	ProjectID       string // firestore
	Collection      string // firestore collection
	Bucket          string // nats kv bucket
	CredentialsFile string // firestore, optional
}

// Open builds the configured KeyStore. KindNone yields a nil store and no error:
// sources that do not deduplicate keep working, and sources that do fail fast
// in the dispatcher with ErrNotConfigured.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (KeyStore, error) {
	switch cfg.Kind {
	case KindNone, "":
		logger.Info().Msg("No key store configured, deduplication is disabled")
		return nil, nil
	case KindMemory:
		return NewMemory(), nil
	case KindRedis:
		return NewRedis(cfg.URL, logger)
	case KindFirestore:
		return NewFirestore(ctx, FirestoreConfig{
			ProjectID:       cfg.ProjectID,
			CollectionName:  cfg.Collection,
			CredentialsFile: cfg.CredentialsFile,
		}, logger)
	case KindNATS:
		return NewNATSKV(ctx, NATSKVConfig{URL: cfg.URL, Bucket: cfg.Bucket}, logger)
	default:
		return nil, fmt.Errorf("unknown key store kind %q", cfg.Kind)
	}
}
