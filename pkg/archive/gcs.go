package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/backpack/pkg/types"
)

// ====================================================================================
// This file contains the Google Cloud Storage archive for delivered records. Every
// call writes one gzip-compressed JSON-lines object under
//
//	<prefix>/<topic>/<YYYY>/<MM>/<DD>/<uuid>.jsonl.gz
// ====================================================================================

// --- Interfaces over the storage client so the archiver can be tested with mocks ---

type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

type GCSWriter interface {
	io.WriteCloser
}

// Config holds configuration for the GCS archive.
type Config struct {
	BucketName   string
	ObjectPrefix string // e.g. "backpack/delivered"
}

// Line is one archived record.
type Line struct {
	Topic      string       `json:"topic"`
	ArchivedAt time.Time    `json:"archived_at"`
	Record     types.Record `json:"record"`
}

// GCSArchiver writes delivered records to a bucket.
type GCSArchiver struct {
	client GCSClient
	closer io.Closer
	config Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewGCSArchiver wraps an existing client.
func NewGCSArchiver(client GCSClient, config Config, logger zerolog.Logger) (*GCSArchiver, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		config: config,
		now:    time.Now,
		logger: logger.With().Str("component", "GCSArchiver").Logger(),
	}, nil
}

// NewStorageArchiver creates a storage client and an archiver that owns it.
func NewStorageArchiver(ctx context.Context, config Config, logger zerolog.Logger, opts ...option.ClientOption) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	a, err := NewGCSArchiver(NewGCSClientAdapter(client), config, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	a.closer = client
	return a, nil
}

// ObjectName is where a batch for topic lands at time t.
func (a *GCSArchiver) ObjectName(topic string, t time.Time, id string) string {
	return path.Join(a.config.ObjectPrefix, topic, t.UTC().Format("2006/01/02"), id+".jsonl.gz")
}

// Archive writes records as a single compressed object.
func (a *GCSArchiver) Archive(ctx context.Context, topic string, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	now := a.now()
	objectName := a.ObjectName(topic, now, uuid.New().String())
	a.logger.Debug().Str("object_name", objectName).Int("record_count", len(records)).Msg("Starting archive upload")

	gcsWriter := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	// The producer closes the pipe with its error, which unblocks io.Copy below.
	encoded := make(chan struct{})
	go func() {
		var err error
		defer func() {
			pw.CloseWithError(err)
			close(encoded)
		}()

		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, rec := range records {
			if err = enc.Encode(Line{Topic: topic, ArchivedAt: now.UTC(), Record: rec}); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
		if err = gz.Close(); err != nil {
			err = fmt.Errorf("gzip writer close failed for %s: %w", objectName, err)
		}
	}()

	bytesWritten, pipeErr := io.Copy(gcsWriter, pr)
	// A failed copy leaves the producer blocked in Write until the read side closes.
	pr.CloseWithError(pipeErr)
	<-encoded
	// Close finalizes (or aborts) the upload and must always be called.
	closeErr := gcsWriter.Close()

	if pipeErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, pipeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	a.logger.Info().
		Str("object_name", objectName).
		Int("record_count", len(records)).
		Int64("bytes_written", bytesWritten).
		Msg("Archived delivered records")
	return nil
}

// Close releases the storage client when the archiver created it.
func (a *GCSArchiver) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// --- Adapters for the Google Cloud Storage client ---

type gcsClientAdapter struct{ client *storage.Client }

// NewGCSClientAdapter wraps a *storage.Client in the GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &bucketHandleAdapter{BucketHandle: a.client.Bucket(name)}
}

type bucketHandleAdapter struct{ *storage.BucketHandle }

func (a *bucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &objectHandleAdapter{ObjectHandle: a.BucketHandle.Object(name)}
}

type objectHandleAdapter struct{ *storage.ObjectHandle }

func (a *objectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	w := a.ObjectHandle.NewWriter(ctx)
	w.ContentType = "application/gzip"
	return w
}

var (
	_ GCSClient       = &gcsClientAdapter{}
	_ GCSBucketHandle = &bucketHandleAdapter{}
	_ GCSObjectHandle = &objectHandleAdapter{}
)
