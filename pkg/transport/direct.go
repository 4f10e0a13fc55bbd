package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the direct streaming transport. It is broker-agnostic: a
// Dialer opens a Stream for the duration of one Send, and every message is
// published and acknowledged individually. The broker's acknowledgment is the
// confirmation boundary, so a dropped connection leaves a confirmed prefix.
// ====================================================================================

// Stream is an open connection to a broker.
type Stream interface {
	// Publish sends one message and blocks until the broker acknowledges it.
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) error
	Close() error
}

// Dialer opens streams. Implementations exist for Google Pub/Sub and NATS JetStream.
// Dial may return a *Error to classify its failure; any other error is treated
// as the broker being unavailable.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, topic string) (Stream, error)
	Close() error
}

// Direct streams each message of a batch as a discrete broker message.
type Direct struct {
	dialer Dialer
	logger zerolog.Logger
}

// NewDirect creates a direct streaming transport over the given dialer.
func NewDirect(dialer Dialer, logger zerolog.Logger) *Direct {
	return &Direct{
		dialer: dialer,
		logger: logger.With().Str("component", "DirectTransport").Str("broker", dialer.Name()).Logger(),
	}
}

func (d *Direct) Name() string { return string(ModeDirect) + "/" + d.dialer.Name() }

// Close releases the underlying broker connection.
func (d *Direct) Close() error { return d.dialer.Close() }

func (d *Direct) Send(ctx context.Context, batch Batch) (Receipt, error) {
	if len(batch.Messages) == 0 {
		return Receipt{}, nil
	}

	// Everything is serialized up front so a non-convertible batch fails before
	// any connection is opened.
	if batch.Schema == nil {
		return Receipt{}, newError(d.Name(), KindConfig, errors.New("batch has no schema"))
	}
	attrs := map[string]string{
		"content-type": "application/json",
		"schema":       batch.Schema.FullName(),
	}
	payloads := make([][]byte, len(batch.Messages))
	for i, m := range batch.Messages {
		data, err := json.Marshal(m.Value)
		if err != nil {
			return Receipt{}, newError(d.Name(), KindConfig, fmt.Errorf("message %d is not JSON-representable: %w", i, err))
		}
		payloads[i] = data
	}

	stream, err := d.dialer.Dial(ctx, batch.Topic)
	if err != nil {
		d.logger.Error().Err(err).Str("topic", batch.Topic).Msg("Failed to open broker stream")
		var te *Error
		if errors.As(err, &te) {
			return Receipt{}, te
		}
		return Receipt{}, newError(d.Name(), KindUnavailable, err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			d.logger.Warn().Err(cerr).Msg("Error closing broker stream")
		}
	}()

	receipt := Receipt{Delivered: make([]int, 0, len(payloads))}
	for i, data := range payloads {
		if err := stream.Publish(ctx, batch.Topic, data, attrs); err != nil {
			d.logger.Error().Err(err).
				Str("topic", batch.Topic).
				Int("confirmed", len(receipt.Delivered)).
				Int("total", len(payloads)).
				Msg("Broker publish failed, stopping stream")
			if len(receipt.Delivered) == 0 {
				return receipt, newError(d.Name(), KindUnavailable, err)
			}
			return receipt, newError(d.Name(), KindPartial, fmt.Errorf("%d of %d messages confirmed: %w", len(receipt.Delivered), len(payloads), err))
		}
		receipt.Delivered = append(receipt.Delivered, i)
	}

	d.logger.Info().Str("topic", batch.Topic).Int("messages", len(receipt.Delivered)).Msg("Batch streamed to broker")
	return receipt, nil
}

// CreateTopic provisions the topic on the broker when the dialer supports it.
func (d *Direct) CreateTopic(ctx context.Context, topic string) (string, error) {
	creator, ok := d.dialer.(TopicCreator)
	if !ok {
		return "", fmt.Errorf("%s broker does not support topic creation", d.dialer.Name())
	}
	return creator.CreateTopic(ctx, topic)
}
