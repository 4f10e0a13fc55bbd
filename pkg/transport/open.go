package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Broker names for direct streaming.
const (
	BrokerPubSub    = "pubsub"
	BrokerJetStream = "jetstream"
)

// Config selects and configures a Transport.
type Config struct {
	Mode Mode

	// Direct streaming.
	Broker          string
	ProjectID       string
	CredentialsFile string
	NATSURL         string

	// Request/response.
	RESTProxyURL      string
	PartitionsCount   int
	ReplicationFactor int
	HTTPTimeout       time.Duration
}

// New builds the Transport for cfg.Mode. Client options are passed through to the
// Pub/Sub client.
func New(ctx context.Context, cfg Config, logger zerolog.Logger, opts ...option.ClientOption) (Transport, error) {
	switch cfg.Mode {
	case ModeNone, "":
		return NewNoop(logger), nil
	case ModeREST:
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = DefaultRESTTimeout
		}
		return NewREST(RESTConfig{
			BaseURL:           cfg.RESTProxyURL,
			PartitionsCount:   cfg.PartitionsCount,
			ReplicationFactor: cfg.ReplicationFactor,
			HTTPClient:        &http.Client{Timeout: timeout},
		}, logger)
	case ModeDirect:
		var (
			dialer Dialer
			err    error
		)
		switch cfg.Broker {
		case BrokerPubSub, "":
			dialer, err = NewPubSubDialer(ctx, PubSubConfig{ProjectID: cfg.ProjectID, CredentialsFile: cfg.CredentialsFile}, logger, opts...)
		case BrokerJetStream:
			dialer, err = NewJetStreamDialer(cfg.NATSURL, logger)
		default:
			return nil, fmt.Errorf("unknown broker %q: valid brokers are %s and %s", cfg.Broker, BrokerPubSub, BrokerJetStream)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s dialer: %w", cfg.Broker, err)
		}
		return NewDirect(dialer, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Mode)
	}
}
