package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/backpack/pkg/keystore"
	"github.com/illmade-knight/backpack/pkg/sources"
	"github.com/illmade-knight/backpack/pkg/transport"
	"github.com/illmade-knight/backpack/pkg/types"
)

// ====================================================================================
// This file contains the dispatch cycle:
//
//	Fetching -> Filtering -> Serializing -> Sending -> Recording -> Done
//
// Fetching, Sending and the read half of Filtering can end the cycle early with an
// Error outcome. Everything else degrades to annotations on the outcome.
// ====================================================================================

// Default step timeouts.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultStoreTimeout = 5 * time.Second
	DefaultSendTimeout  = 30 * time.Second
)

// Config holds the dispatcher settings.
type Config struct {
	// Namespace qualifies every topic on the wire: "<namespace>.<topic>".
	Namespace    string
	FetchTimeout time.Duration
	StoreTimeout time.Duration
	SendTimeout  time.Duration
}

// Archiver keeps a copy of delivered records.
type Archiver interface {
	Archive(ctx context.Context, topic string, records []types.Record) error
}

// Option configures optional collaborators.
type Option func(*Dispatcher)

// WithArchiver archives delivered records after every cycle that sent something.
func WithArchiver(a Archiver) Option {
	return func(d *Dispatcher) { d.archiver = a }
}

// WithMetrics records cycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher runs dispatch cycles. It holds no per-cycle state and is safe for
// concurrent use; concurrent cycles on the same topic may both send a record that
// neither has recorded yet.
type Dispatcher struct {
	cfg       Config
	transport transport.Transport
	store     keystore.KeyStore
	archiver  Archiver
	metrics   *Metrics
	logger    zerolog.Logger
}

// New creates a dispatcher. store may be nil, in which case only sources that do
// not deduplicate can be published.
func New(cfg Config, tr transport.Transport, store keystore.KeyStore, logger zerolog.Logger, opts ...Option) *Dispatcher {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	d := &Dispatcher{
		cfg:       cfg,
		transport: tr,
		store:     store,
		logger:    logger.With().Str("component", "Dispatcher").Str("transport", tr.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// QualifiedTopic is the topic name used on the wire.
func (d *Dispatcher) QualifiedTopic(topic string) string {
	if d.cfg.Namespace == "" {
		return topic
	}
	return d.cfg.Namespace + "." + topic
}

// pending is a record that survived filtering, with its key and its position in
// the fetched batch.
type pending struct {
	record types.Record
	key    types.DedupKey
	index  int
}

// Publish runs one full cycle for src. It never returns an error: every failure is
// classified into the outcome.
func (d *Dispatcher) Publish(ctx context.Context, src sources.Source) Outcome {
	start := time.Now()
	topic := src.TopicName()
	logger := d.logger.With().Str("topic", topic).Logger()

	out := d.publish(ctx, src, logger)

	d.metrics.observeCycle(topic, out, time.Since(start))
	ev := logger.Info()
	switch out.Status {
	case StatusWarning:
		ev = logger.Warn()
	case StatusError:
		ev = logger.Error()
	}
	ev.Str("outcome", out.Message).
		Int("fetched", out.Fetched).
		Int("duplicates", out.Duplicates).
		Int("dropped", out.Dropped).
		Int("delivered", len(out.Delivered)).
		Bool("dry_run", out.DryRun).
		Dur("elapsed", time.Since(start)).
		Msg("Dispatch cycle finished")
	return out
}

func (d *Dispatcher) publish(ctx context.Context, src sources.Source, logger zerolog.Logger) Outcome {
	out := success()
	out.Delivered = []types.Record{}
	topic := src.TopicName()

	if src.UsesKeyStore() && d.store == nil {
		out.fail(fmt.Sprintf("%v: source %s requires deduplication", keystore.ErrNotConfigured, topic))
		return out
	}

	// Fetching
	records, err := d.fetch(ctx, src)
	if err != nil {
		cause := err
		var fe *sources.FetchError
		if errors.As(err, &fe) {
			cause = fe.Err
		}
		out.fail("fetch failed: " + cause.Error())
		return out
	}
	out.Fetched = len(records)
	d.metrics.addRecords(topic, stageFetched, len(records))
	if len(records) == 0 {
		logger.Info().Msg("Source returned no records")
		return out
	}

	// Filtering
	kept, err := d.filter(ctx, src, records, &out)
	if err != nil {
		// Fail closed: without dedup state nothing is sent.
		out.fail("deduplication check failed: " + err.Error())
		return out
	}
	d.metrics.addRecords(topic, stageDuplicate, out.Duplicates)

	// Serializing
	batch, sent := d.serialize(src, kept, &out)
	d.metrics.addRecords(topic, stageDropped, out.Dropped)
	if len(sent) == 0 {
		logger.Info().Msg("Nothing new to send")
		return out
	}

	// Sending
	d.metrics.addRecords(topic, stageSent, len(sent))
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	receipt, sendErr := d.transport.Send(sendCtx, batch)
	cancel()

	delivered := make([]pending, 0, len(receipt.Delivered))
	for _, i := range receipt.Delivered {
		if i >= 0 && i < len(sent) {
			delivered = append(delivered, sent[i])
		}
	}
	for _, p := range delivered {
		out.Delivered = append(out.Delivered, p.record)
	}
	out.DryRun = receipt.DryRun
	if !receipt.DryRun {
		d.metrics.addRecords(topic, stageDelivered, len(delivered))
	}

	if sendErr != nil {
		if kind, ok := transport.KindOf(sendErr); ok && kind == transport.KindPartial {
			out.warn("partial")
			out.annotate(sendErr.Error())
		} else {
			out.fail(sendErr.Error())
		}
	}

	// Recording. Runs even when the caller's context is done: a confirmed send
	// that is never recorded would be sent again next cycle.
	if receipt.DryRun {
		out.annotate(fmt.Sprintf("dry run: %d records would have been sent", len(delivered)))
		return out
	}
	recordCtx := context.WithoutCancel(ctx)
	d.record(recordCtx, topic, delivered, &out, logger)

	if d.archiver != nil && len(out.Delivered) > 0 {
		archiveCtx, cancel := context.WithTimeout(recordCtx, d.cfg.SendTimeout)
		if err := d.archiver.Archive(archiveCtx, d.QualifiedTopic(topic), out.Delivered); err != nil {
			logger.Warn().Err(err).Msg("Failed to archive delivered records")
			out.annotate("archive failed: " + err.Error())
		}
		cancel()
	}
	return out
}

func (d *Dispatcher) fetch(ctx context.Context, src sources.Source) ([]types.Record, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()
	records, err := src.FetchRecords(fetchCtx)
	if err != nil {
		return nil, sources.NewFetchError(src.TopicName(), err)
	}
	return records, nil
}

// filter drops records already in the key store and repeats within the batch.
// Any store failure aborts.
func (d *Dispatcher) filter(ctx context.Context, src sources.Source, records []types.Record, out *Outcome) ([]pending, error) {
	kept := make([]pending, 0, len(records))
	seen := make(map[types.DedupKey]struct{}, len(records))
	for i, r := range records {
		var key types.DedupKey
		if src.UsesKeyStore() {
			key = src.DedupKey(r)
		}
		if key.IsZero() {
			kept = append(kept, pending{record: r, index: i})
			continue
		}
		if _, dup := seen[key]; dup {
			out.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		storeCtx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
		found, err := d.store.Contains(storeCtx, key)
		cancel()
		if err != nil {
			return nil, err
		}
		if found {
			out.Duplicates++
			continue
		}
		kept = append(kept, pending{record: r, key: key, index: i})
	}
	return kept, nil
}

// serialize renders each record against the source schema. Records that do not
// conform are dropped individually.
func (d *Dispatcher) serialize(src sources.Source, kept []pending, out *Outcome) (transport.Batch, []pending) {
	batch := transport.Batch{
		Topic:    d.QualifiedTopic(src.TopicName()),
		Schema:   src.Schema(),
		Messages: make([]transport.Message, 0, len(kept)),
	}
	sent := make([]pending, 0, len(kept))
	for _, p := range kept {
		inst, err := src.SchemaFor(p.record)
		if err != nil {
			out.Dropped++
			label := p.key.ID
			if label == "" {
				label = fmt.Sprintf("#%d", p.index)
			}
			d.logger.Warn().Err(err).Str("record", label).Msg("Dropping record that does not match its schema")
			out.annotate(fmt.Sprintf("dropped record %s: %v", label, err))
			continue
		}
		batch.Messages = append(batch.Messages, transport.Message{Value: inst})
		sent = append(sent, p)
	}
	return batch, sent
}

// record inserts the keys of delivered records. Failures never change the status.
func (d *Dispatcher) record(ctx context.Context, topic string, delivered []pending, out *Outcome, logger zerolog.Logger) {
	if d.store == nil {
		return
	}
	var (
		failed   int
		firstErr error
	)
	for _, p := range delivered {
		if p.key.IsZero() {
			continue
		}
		storeCtx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
		err := d.store.Insert(storeCtx, p.key)
		cancel()
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		d.metrics.addRecords(topic, stageRecorded, 1)
	}
	if failed > 0 {
		logger.Warn().Err(firstErr).Int("failed", failed).Msg("Delivered records could not be recorded in the key store")
		out.annotate(fmt.Sprintf("warning: %d delivered records not recorded in key store: %v", failed, firstErr))
	}
}
