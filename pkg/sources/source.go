package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/illmade-knight/backpack/pkg/schema"
	"github.com/illmade-knight/backpack/pkg/types"
)

// ====================================================================================
// This file defines the Source abstraction: anything that can fetch records from an
// external provider and describe them (schema + dedup key) for the dispatcher.
// ====================================================================================

// Source produces records for one topic. A Source is created fresh for every
// invocation and holds no long-lived connections.
type Source interface {
	// TopicName is the short topic name, without the deployment namespace.
	TopicName() string
	// UsesKeyStore reports whether records from this source are deduplicated.
	UsesKeyStore() bool
	// FetchRecords performs the external call. Failures are returned as *FetchError.
	// The source must not retry internally.
	FetchRecords(ctx context.Context) ([]types.Record, error)
	// Schema is the descriptor bound to the topic at construction time.
	Schema() *schema.Descriptor
	// SchemaFor renders a record into its schema instance, or the boilerplate
	// instance when record is nil.
	SchemaFor(record types.Record) (schema.Instance, error)
	// DedupKey derives the record's key; the zero key means "do not deduplicate".
	DedupKey(record types.Record) types.DedupKey
}

// SourceConfig is the immutable configuration a Source is built from.
type SourceConfig struct {
	Topic        string
	Schema       *schema.Descriptor
	UsesKeyStore bool
	// IDField names the record field that identifies a record within the topic.
	IDField string
}

// Validate checks the configuration before a source is built from it.
func (c SourceConfig) Validate() error {
	if c.Topic == "" {
		return errors.New("source topic name is required")
	}
	if c.Schema == nil {
		return fmt.Errorf("source %s: schema descriptor is required", c.Topic)
	}
	if c.UsesKeyStore && c.IDField == "" {
		return fmt.Errorf("source %s: an id field is required when the key store is used", c.Topic)
	}
	return nil
}

// Base implements every Source method except FetchRecords from a SourceConfig.
// Provider implementations embed it.
type Base struct {
	cfg SourceConfig
}

// NewBase validates the configuration and takes ownership of it.
func NewBase(cfg SourceConfig) (Base, error) {
	if err := cfg.Validate(); err != nil {
		return Base{}, err
	}
	// Own a private copy of the descriptor so later changes by the caller are not seen.
	cfg.Schema = cfg.Schema.WithNamespace(cfg.Schema.Namespace)
	return Base{cfg: cfg}, nil
}

func (b Base) TopicName() string { return b.cfg.Topic }

func (b Base) UsesKeyStore() bool { return b.cfg.UsesKeyStore }

func (b Base) Schema() *schema.Descriptor { return b.cfg.Schema }

func (b Base) SchemaFor(record types.Record) (schema.Instance, error) {
	return b.cfg.Schema.Instance(record)
}

func (b Base) DedupKey(record types.Record) types.DedupKey {
	if !b.cfg.UsesKeyStore || record == nil {
		return types.DedupKey{}
	}
	id, ok := record[b.cfg.IDField]
	if !ok || id == nil {
		return types.DedupKey{}
	}
	return types.NewDedupKey(b.cfg.Topic, formatID(id))
}

// formatID renders an id field as text. Floats are written in plain decimal so an
// id decoded from JSON as 1e+06 still keys as "1000000".
func formatID(id any) string {
	switch v := id.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(id)
	}
}

// FetchError wraps an upstream failure: the provider was unreachable, timed out,
// or returned something that could not be parsed.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err unless it already is a *FetchError.
func NewFetchError(source string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Source: source, Err: err}
}
