package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/backpack/pkg/types"
)

// ====================================================================================
// This file defines the key store gateway: a durable set of dedup keys that records
// which records have already been delivered downstream.
// ====================================================================================

// KeyStore is a durable set-membership store. Both operations are idempotent and
// return a *StoreUnavailableError when the backing store cannot be reached.
type KeyStore interface {
	Contains(ctx context.Context, key types.DedupKey) (bool, error)
	Insert(ctx context.Context, key types.DedupKey) error
	Close() error
}

// Kind selects a KeyStore implementation.
type Kind string

const (
	KindNone      Kind = "none"
	KindMemory    Kind = "memory"
	KindRedis     Kind = "redis"
	KindFirestore Kind = "firestore"
	KindNATS      Kind = "nats"
)

// ParseKind maps a configuration value to a Kind. The empty string means none.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindNone, nil
	case KindNone, KindMemory, KindRedis, KindFirestore, KindNATS:
		return k, nil
	default:
		return "", fmt.Errorf("unknown key store kind %q", s)
	}
}

// ErrNotConfigured is returned when a source needs deduplication but no key store
// was configured for the process.
var ErrNotConfigured = errors.New("key store not configured")

// StoreUnavailableError reports that the backing store could not be reached.
type StoreUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("key store unavailable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("key store unavailable during %s of %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

func unavailable(op string, key types.DedupKey, err error) error {
	return &StoreUnavailableError{Op: op, Key: key.String(), Err: err}
}

// IsUnavailable reports whether err is, or wraps, a *StoreUnavailableError.
func IsUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}
