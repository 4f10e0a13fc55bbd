package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/illmade-knight/backpack/pkg/schema"
)

// ====================================================================================
// This file defines the contract shared by every delivery mechanism, so the
// dispatcher never needs to know which one it is talking to.
// ====================================================================================

// Message is one serialized record.
type Message struct {
	Value schema.Instance `json:"value"`
}

// Batch is everything a transport needs for one send.
type Batch struct {
	// Topic is the fully qualified topic, "<namespace>.<topic>".
	Topic    string
	Schema   *schema.Descriptor
	Messages []Message
}

// Receipt reports which messages of a batch the remote confirmed.
type Receipt struct {
	// Delivered holds indices into Batch.Messages, in order.
	Delivered []int
	// DryRun is set when nothing was actually sent; the delivered messages only
	// "would have been" delivered and must not be recorded as sent.
	DryRun bool
}

// Transport delivers batches to the telemetry platform. On failure the receipt
// still lists whatever was confirmed before the failure.
type Transport interface {
	Name() string
	Send(ctx context.Context, batch Batch) (Receipt, error)
	Close() error
}

// TopicCreator provisions a topic on the platform ahead of the first send.
// It returns a human-readable description of the result.
type TopicCreator interface {
	CreateTopic(ctx context.Context, topic string) (string, error)
}

// all returns the indices 0..n-1.
func all(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Mode selects a Transport at dispatcher construction time.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeREST   Mode = "rest"
	ModeNone   Mode = "none"
)

// ParseMode accepts the canonical names as well as the labels used by older
// clients ("Direct Connection", "REST_API", ...).
func ParseMode(s string) (Mode, error) {
	norm := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case "direct", "directconnection":
		return ModeDirect, nil
	case "rest", "restapi", "requestresponse":
		return ModeREST, nil
	case "none", "noop", "dryrun", "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown publish method %q: valid methods are direct, rest and none", s)
	}
}

// Kind classifies a transport failure.
type Kind int

const (
	// KindRejected: the remote refused the batch (bad schema or records). Not retryable.
	KindRejected Kind = iota
	// KindServerError: the remote failed while handling the batch. Retryable by the caller.
	KindServerError
	// KindPartial: the remote confirmed only some of the batch.
	KindPartial
	// KindUnavailable: the remote could not be reached, or the connection dropped
	// before anything was confirmed.
	KindUnavailable
	// KindConfig: the batch could not be prepared; raised before any network activity.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindServerError:
		return "server error"
	case KindPartial:
		return "partial"
	case KindUnavailable:
		return "unavailable"
	case KindConfig:
		return "configuration error"
	default:
		return "unknown"
	}
}

// Error is the classified error every transport returns.
type Error struct {
	Kind      Kind
	Transport string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transport %s: %v", e.Transport, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may reasonably try the batch again.
func (e *Error) Retryable() bool {
	return e.Kind == KindServerError || e.Kind == KindUnavailable
}

// KindOf returns the classification of err, or false if err is not a transport error.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

func newError(name string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Transport: name, Err: err}
}
