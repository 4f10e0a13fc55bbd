package keystore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/illmade-knight/backpack/pkg/types"
)

// FirestoreConfig holds configuration for the Firestore key store.
type FirestoreConfig struct {
	ProjectID       string
	CollectionName  string // e.g., "backpack-dedup-keys"
	CredentialsFile string // Optional, for specific service account
}

// Firestore is a KeyStore keeping one document per dedup key.
type Firestore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestore creates a new key store that uses Firestore.
// For the emulator, ensure FIRESTORE_EMULATOR_HOST environment variable is set.
func NewFirestore(ctx context.Context, cfg FirestoreConfig, logger zerolog.Logger, opts ...option.ClientOption) (*Firestore, error) {
	logger = logger.With().Str("component", "FirestoreKeyStore").Logger()
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore key store: project id is required")
	}
	if cfg.CollectionName == "" {
		return nil, errors.New("firestore key store: collection name is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Firestore")
	} else if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Firestore")
	}

	// The Firestore client library automatically detects FIRESTORE_EMULATOR_HOST.
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", cfg.ProjectID).Msg("Failed to create Firestore client")
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("Firestore key store initialized")
	return &Firestore{client: client, collectionName: cfg.CollectionName, logger: logger}, nil
}

// docID maps a key to a legal document id; ids may not contain '/'.
func docID(key types.DedupKey) string {
	return url.PathEscape(key.String())
}

func (f *Firestore) Contains(ctx context.Context, key types.DedupKey) (bool, error) {
	_, err := f.client.Collection(f.collectionName).Doc(docID(key)).Get(ctx)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	f.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to read dedup key from Firestore")
	return false, unavailable("contains", key, err)
}

func (f *Firestore) Insert(ctx context.Context, key types.DedupKey) error {
	_, err := f.client.Collection(f.collectionName).Doc(docID(key)).Set(ctx, map[string]any{
		"topic":       key.Topic,
		"id":          key.ID,
		"recorded_at": firestore.ServerTimestamp,
	})
	if err != nil {
		f.logger.Error().Err(err).Str("key", key.String()).Msg("Failed to write dedup key to Firestore")
		return unavailable("insert", key, err)
	}
	return nil
}

// Close closes the Firestore client.
func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
