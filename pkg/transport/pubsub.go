package transport

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// PubSubConfig holds configuration for the Google Pub/Sub broker.
type PubSubConfig struct {
	ProjectID       string
	CredentialsFile string
}

// PubSubDialer opens publish streams on Google Pub/Sub topics.
type PubSubDialer struct {
	client *pubsub.Client
	logger zerolog.Logger
}

// NewPubSubDialer creates the Pub/Sub client. Extra client options (an emulator
// endpoint or an in-process test server connection) are appended after the
// configured credentials.
func NewPubSubDialer(ctx context.Context, cfg PubSubConfig, logger zerolog.Logger, opts ...option.ClientOption) (*PubSubDialer, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub dialer: project id is required")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	logger = logger.With().Str("component", "PubSubDialer").Str("project_id", cfg.ProjectID).Logger()
	logger.Info().Msg("Pub/Sub client initialized")
	return &PubSubDialer{client: client, logger: logger}, nil
}

func (p *PubSubDialer) Name() string { return "pubsub" }

// Dial checks that the topic exists; publishing to a missing topic would
// otherwise fail on every message.
func (p *PubSubDialer) Dial(ctx context.Context, topic string) (Stream, error) {
	t := p.client.Topic(topic)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence of topic '%s': %w", topic, err)
	}
	if !exists {
		return nil, newError("direct/pubsub", KindRejected, fmt.Errorf("topic '%s' does not exist", topic))
	}
	// One message per bundle: each publish is acknowledged before the next one is sent.
	t.PublishSettings.CountThreshold = 1
	return &pubsubStream{topic: t}, nil
}

func (p *PubSubDialer) Close() error { return p.client.Close() }

// CreateTopic creates the topic if it does not yet exist.
func (p *PubSubDialer) CreateTopic(ctx context.Context, topic string) (string, error) {
	t := p.client.Topic(topic)
	exists, err := t.Exists(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check existence of topic '%s': %w", topic, err)
	}
	if exists {
		p.logger.Info().Str("topic_id", topic).Msg("Topic already exists")
		return fmt.Sprintf("topic %s already exists", t.String()), nil
	}
	created, err := p.client.CreateTopic(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("failed to create topic '%s': %w", topic, err)
	}
	p.logger.Info().Str("topic_id", created.ID()).Msg("Topic created successfully")
	return fmt.Sprintf("created topic %s", created.String()), nil
}

type pubsubStream struct {
	topic *pubsub.Topic
}

// Publish blocks on the server ack.
func (s *pubsubStream) Publish(ctx context.Context, _ string, data []byte, attrs map[string]string) error {
	result := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err := result.Get(ctx)
	return err
}

func (s *pubsubStream) Close() error {
	s.topic.Stop()
	return nil
}
