package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/hamba/avro/v2"

	"github.com/illmade-knight/backpack/pkg/types"
)

// ====================================================================================
// This file contains the schema descriptor carried from a source through to the
// transport. A single function, Instance, produces both the boilerplate form (used
// for registration and introspection) and the populated form (one per record), so
// the two can never drift apart.
// ====================================================================================

// FieldType is an Avro primitive type name.
type FieldType string

const (
	String  FieldType = "string"
	Long    FieldType = "long"
	Int     FieldType = "int"
	Double  FieldType = "double"
	Float   FieldType = "float"
	Boolean FieldType = "boolean"
)

// Field describes one named, typed field of a record schema.
type Field struct {
	Name  string
	Type  FieldType
	Doc   string
	Units string
}

// Descriptor is a record schema: a namespace, a name and an ordered set of fields.
type Descriptor struct {
	Namespace string
	Name      string
	Doc       string
	Fields    []Field
}

// Instance is a schema-conformant value built from a Descriptor.
type Instance map[string]any

// SerializationError reports a record that does not satisfy its own schema.
type SerializationError struct {
	Schema string
	Field  string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record does not conform to schema %s: %v", e.Schema, e.Err)
	}
	return fmt.Sprintf("record does not conform to schema %s: field %q: %v", e.Schema, e.Field, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

var (
	errMissingField = errors.New("missing required field")
	errWrongType    = errors.New("value has the wrong type")
)

// FullName is the namespace-qualified schema name.
func (d *Descriptor) FullName() string {
	if d.Namespace == "" {
		return d.Name
	}
	return d.Namespace + "." + d.Name
}

// WithNamespace returns a copy of the descriptor bound to another namespace.
func (d *Descriptor) WithNamespace(namespace string) *Descriptor {
	cp := *d
	cp.Namespace = namespace
	cp.Fields = append([]Field(nil), d.Fields...)
	return &cp
}

// AvroJSON renders the descriptor as an Avro record schema.
func (d *Descriptor) AvroJSON() (string, error) {
	type avroField struct {
		Name  string    `json:"name"`
		Type  FieldType `json:"type"`
		Doc   string    `json:"doc,omitempty"`
		Units string    `json:"units,omitempty"`
	}
	type avroRecord struct {
		Type      string      `json:"type"`
		Name      string      `json:"name"`
		Namespace string      `json:"namespace,omitempty"`
		Doc       string      `json:"doc,omitempty"`
		Fields    []avroField `json:"fields"`
	}

	rec := avroRecord{Type: "record", Name: d.Name, Namespace: d.Namespace, Doc: d.Doc, Fields: make([]avroField, 0, len(d.Fields))}
	for _, f := range d.Fields {
		rec.Fields = append(rec.Fields, avroField{Name: f.Name, Type: f.Type, Doc: f.Doc, Units: f.Units})
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal avro schema %s: %w", d.FullName(), err)
	}
	return string(data), nil
}

// Avro parses the descriptor into an avro.Schema.
func (d *Descriptor) Avro() (avro.Schema, error) {
	raw, err := d.AvroJSON()
	if err != nil {
		return nil, err
	}
	// A private cache keeps descriptors that share a name from seeing each other.
	s, err := avro.ParseWithCache(raw, "", &avro.SchemaCache{})
	if err != nil {
		return nil, fmt.Errorf("parse avro schema %s: %w", d.FullName(), err)
	}
	return s, nil
}

// Instance substitutes a record's fields into the schema. When record is nil the
// boilerplate form is returned, with a zero placeholder for every field. Either way
// the result is checked against the Avro schema before it is returned.
func (d *Descriptor) Instance(record types.Record) (Instance, error) {
	out := make(Instance, len(d.Fields))
	for _, f := range d.Fields {
		if record == nil {
			out[f.Name] = placeholder(f.Type)
			continue
		}
		raw, ok := record[f.Name]
		if !ok || raw == nil {
			return nil, &SerializationError{Schema: d.FullName(), Field: f.Name, Err: errMissingField}
		}
		v, err := coerce(f.Type, raw)
		if err != nil {
			return nil, &SerializationError{Schema: d.FullName(), Field: f.Name, Err: err}
		}
		out[f.Name] = v
	}

	if err := d.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks that an instance can be encoded with the descriptor's Avro schema.
func (d *Descriptor) Validate(instance Instance) error {
	s, err := d.Avro()
	if err != nil {
		return &SerializationError{Schema: d.FullName(), Err: err}
	}
	if _, err := avro.Marshal(s, map[string]any(instance)); err != nil {
		return &SerializationError{Schema: d.FullName(), Err: err}
	}
	return nil
}

func placeholder(t FieldType) any {
	switch t {
	case String:
		return ""
	case Long:
		return int64(0)
	case Int:
		return int32(0)
	case Double:
		return float64(0)
	case Float:
		return float32(0)
	case Boolean:
		return false
	default:
		return nil
	}
}

// coerce converts the loosely typed values sources produce (JSON numbers arrive as
// float64, Go code tends to use int) into the exact Go types the Avro encoder expects.
func coerce(t FieldType, v any) (any, error) {
	switch t {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case Long:
		if n, ok := asInt(v); ok {
			return n, nil
		}
	case Int:
		if n, ok := asInt(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
	case Double:
		if f, ok := asFloat(v); ok {
			return f, nil
		}
	case Float:
		if f, ok := asFloat(v); ok {
			return float32(f), nil
		}
	default:
		return nil, fmt.Errorf("unsupported field type %q", t)
	}
	return nil, fmt.Errorf("%w: want %s, got %T", errWrongType, t, v)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
