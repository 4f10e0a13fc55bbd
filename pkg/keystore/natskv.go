package keystore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/backpack/pkg/types"
)

// NATSKVConfig holds configuration for the JetStream key-value store.
type NATSKVConfig struct {
	URL    string
	Bucket string
}

// NATSKV is a KeyStore backed by a JetStream key-value bucket.
type NATSKV struct {
	conn   *nats.Conn
	bucket jetstream.KeyValue
	logger zerolog.Logger
}

// NewNATSKV connects to NATS and opens (creating if needed) the bucket.
func NewNATSKV(ctx context.Context, cfg NATSKVConfig, logger zerolog.Logger) (*NATSKV, error) {
	logger = logger.With().Str("component", "NATSKeyStore").Logger()
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Bucket == "" {
		return nil, errors.New("nats key store: bucket is required")
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("backpack-keystore"))
	if err != nil {
		return nil, &StoreUnavailableError{Op: "connect", Err: err}
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream.New: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "backpack dedup keys",
	})
	if err != nil {
		nc.Close()
		return nil, &StoreUnavailableError{Op: "open bucket", Err: err}
	}

	logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("NATS key store initialized")
	return &NATSKV{conn: nc, bucket: kv, logger: logger}, nil
}

// kvKey encodes both halves of the key into the subject-safe alphabet KV keys allow.
func kvKey(key types.DedupKey) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(key.Topic)) + "." + enc.EncodeToString([]byte(key.ID))
}

func (n *NATSKV) Contains(ctx context.Context, key types.DedupKey) (bool, error) {
	_, err := n.bucket.Get(ctx, kvKey(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return false, nil
	}
	n.logger.Error().Err(err).Str("key", key.String()).Msg("KV get failed")
	return false, unavailable("contains", key, err)
}

func (n *NATSKV) Insert(ctx context.Context, key types.DedupKey) error {
	if _, err := n.bucket.Put(ctx, kvKey(key), []byte(key.String())); err != nil {
		n.logger.Error().Err(err).Str("key", key.String()).Msg("KV put failed")
		return unavailable("insert", key, err)
	}
	return nil
}

func (n *NATSKV) Close() error {
	if n.conn != nil {
		return n.conn.Drain()
	}
	return nil
}
