package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// JetStreamDialer publishes to NATS JetStream. The fully qualified topic is used
// as the subject; a stream must capture it for publishes to be acknowledged.
type JetStreamDialer struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

// NewJetStreamDialer connects to the NATS server at url.
func NewJetStreamDialer(url string, logger zerolog.Logger) (*JetStreamDialer, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("backpack-transport"))
	if err != nil {
		return nil, fmt.Errorf("nats.Connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream.New: %w", err)
	}
	logger = logger.With().Str("component", "JetStreamDialer").Str("url", url).Logger()
	logger.Info().Msg("JetStream connection established")
	return &JetStreamDialer{conn: nc, js: js, logger: logger}, nil
}

func (j *JetStreamDialer) Name() string { return "jetstream" }

func (j *JetStreamDialer) Dial(ctx context.Context, topic string) (Stream, error) {
	if !j.conn.IsConnected() {
		return nil, fmt.Errorf("nats connection is %s", j.conn.Status())
	}
	if _, err := j.js.StreamNameBySubject(ctx, topic); err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, newError("direct/jetstream", KindRejected, fmt.Errorf("no stream captures subject '%s'", topic))
		}
		return nil, err
	}
	return &jetStreamStream{js: j.js}, nil
}

func (j *JetStreamDialer) Close() error {
	return j.conn.Drain()
}

// StreamName derives a valid JetStream stream name from a topic.
func StreamName(topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(topic)
}

// CreateTopic creates (or updates) a stream that captures the topic subject.
func (j *JetStreamDialer) CreateTopic(ctx context.Context, topic string) (string, error) {
	stream, err := j.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName(topic),
		Description: "backpack topic " + topic,
		Subjects:    []string{topic},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create stream for '%s': %w", topic, err)
	}
	name := stream.CachedInfo().Config.Name
	j.logger.Info().Str("stream", name).Str("subject", topic).Msg("Stream ensured")
	return fmt.Sprintf("stream %s captures %s", name, topic), nil
}

type jetStreamStream struct {
	js jetstream.JetStream
}

// Publish returns once the PubAck arrives.
func (s *jetStreamStream) Publish(ctx context.Context, subject string, data []byte, attrs map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range attrs {
		msg.Header.Set(k, v)
	}
	_, err := s.js.PublishMsg(ctx, msg)
	return err
}

func (s *jetStreamStream) Close() error { return nil }
