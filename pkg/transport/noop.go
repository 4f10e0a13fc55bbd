package transport

import (
	"context"

	"github.com/rs/zerolog"
)

// Noop accepts every batch without any network activity. It reports all messages
// as would-have-been delivered and marks the receipt as a dry run.
type Noop struct {
	logger zerolog.Logger
}

func NewNoop(logger zerolog.Logger) *Noop {
	return &Noop{logger: logger.With().Str("component", "NoopTransport").Logger()}
}

func (n *Noop) Name() string { return string(ModeNone) }

func (n *Noop) Send(_ context.Context, batch Batch) (Receipt, error) {
	n.logger.Info().Str("topic", batch.Topic).Int("messages", len(batch.Messages)).Msg("Dry run: batch not sent")
	return Receipt{Delivered: all(len(batch.Messages)), DryRun: true}, nil
}

func (n *Noop) Close() error { return nil }
