package keystore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/backpack/pkg/types"
)

// storedValue is the value written for every key; only presence matters.
const storedValue = "value"

// Redis is a KeyStore backed by a Redis server.
type Redis struct {
	client  *redis.Client
	address string
	logger  zerolog.Logger
}

// NewRedis creates a Redis key store from a URL such as redis://localhost:6379/0.
// No connection is made until the first operation.
func NewRedis(address string, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	logger = logger.With().Str("component", "RedisKeyStore").Logger()
	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis key store configured")
	return &Redis{
		client:  redis.NewClient(opts),
		address: address,
		logger:  logger,
	}, nil
}

// Address is the URL the store was created with.
func (r *Redis) Address() string { return r.address }

func (r *Redis) Contains(ctx context.Context, key types.DedupKey) (bool, error) {
	n, err := r.client.Exists(ctx, key.String()).Result()
	if err != nil {
		r.logger.Error().Err(err).Str("key", key.String()).Msg("Redis EXISTS failed")
		return false, unavailable("contains", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Insert(ctx context.Context, key types.DedupKey) error {
	if err := r.client.Set(ctx, key.String(), storedValue, 0).Err(); err != nil {
		r.logger.Error().Err(err).Str("key", key.String()).Msg("Redis SET failed")
		return unavailable("insert", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &StoreUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
