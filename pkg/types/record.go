package types

import (
	"encoding/json"
	"fmt"
)

// ====================================================================================
// This file contains the data types shared by every stage of a dispatch cycle:
// the raw Record a source produces and the DedupKey used for at-most-once bookkeeping.
// ====================================================================================

// Record is a single datapoint fetched from an external provider. It maps field
// names to scalar values (string, bool, int64, float64). Records are treated as
// immutable once a source has returned them.
type Record map[string]any

// String returns the named field if it holds a string.
func (r Record) String(field string) (string, bool) {
	v, ok := r[field].(string)
	return v, ok
}

// Clone returns a shallow copy of the record, safe to hand to code that may modify it.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// MarshalJSON renders a nil record as an empty object rather than null.
func (r Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(r))
}

// DedupKey identifies a record within a topic's namespace. It is kept as two
// separate fields so identifiers containing the separator can never collide;
// the "topic:id" form is only produced at the key store boundary.
// A key with an empty ID is the sentinel for "do not deduplicate this record".
type DedupKey struct {
	Topic string
	ID    string
}

// NewDedupKey builds a key for the given topic and record identifier.
func NewDedupKey(topic, id string) DedupKey {
	return DedupKey{Topic: topic, ID: id}
}

// IsZero reports whether this is the "do not deduplicate" sentinel.
func (k DedupKey) IsZero() bool {
	return k.ID == ""
}

// String formats the key the way it is stored, "<topic>:<id>".
func (k DedupKey) String() string {
	if k.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s", k.Topic, k.ID)
}
