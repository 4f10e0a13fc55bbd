package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ====================================================================================
// This file contains the request/response transport for the telemetry REST proxy
// (Kafka REST v2 produce API with Avro values) and the v3 topic administration call.
// ====================================================================================

const (
	restContentType = "application/vnd.kafka.avro.v2+json"
	restAccept      = "application/vnd.kafka.v2+json"

	// DefaultRESTTimeout bounds a single proxy request when no client is supplied.
	DefaultRESTTimeout = 10 * time.Second
	// maxErrorBody is how much of a failing response body is kept for the error message.
	maxErrorBody = 512
	// maxResponseBody caps how much of any proxy response is read.
	maxResponseBody = 1 << 20
)

// RESTConfig holds configuration for the REST proxy transport.
type RESTConfig struct {
	BaseURL           string
	PartitionsCount   int
	ReplicationFactor int
	// HTTPClient overrides the default client (tests, custom TLS).
	HTTPClient *http.Client
}

// REST posts a whole batch in one request to the telemetry REST proxy.
type REST struct {
	baseURL           string
	partitionsCount   int
	replicationFactor int
	client            *http.Client
	logger            zerolog.Logger
}

// NewREST creates the REST proxy transport.
func NewREST(cfg RESTConfig, logger zerolog.Logger) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest transport: proxy url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultRESTTimeout}
	}
	if cfg.PartitionsCount <= 0 {
		cfg.PartitionsCount = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 3
	}
	return &REST{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		partitionsCount:   cfg.PartitionsCount,
		replicationFactor: cfg.ReplicationFactor,
		client:            client,
		logger:            logger.With().Str("component", "RESTTransport").Logger(),
	}, nil
}

func (r *REST) Name() string { return string(ModeREST) }

func (r *REST) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

type produceRequest struct {
	ValueSchema string    `json:"value_schema"`
	Records     []Message `json:"records"`
}

type produceOffset struct {
	Partition *int    `json:"partition"`
	Offset    *int64  `json:"offset"`
	ErrorCode *int    `json:"error_code"`
	Error     *string `json:"error"`
}

func (o produceOffset) failed() bool {
	return o.ErrorCode != nil || (o.Error != nil && *o.Error != "")
}

type produceResponse struct {
	ValueSchemaID *int            `json:"value_schema_id"`
	Offsets       []produceOffset `json:"offsets"`
}

func (r *REST) Send(ctx context.Context, batch Batch) (Receipt, error) {
	if len(batch.Messages) == 0 {
		return Receipt{}, nil
	}
	if batch.Schema == nil {
		return Receipt{}, newError(r.Name(), KindConfig, errors.New("batch has no schema"))
	}
	avroJSON, err := batch.Schema.AvroJSON()
	if err != nil {
		return Receipt{}, newError(r.Name(), KindConfig, err)
	}
	body, err := json.Marshal(produceRequest{ValueSchema: avroJSON, Records: batch.Messages})
	if err != nil {
		return Receipt{}, newError(r.Name(), KindConfig, fmt.Errorf("failed to encode payload: %w", err))
	}

	url := fmt.Sprintf("%s/topics/%s", r.baseURL, batch.Topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, newError(r.Name(), KindConfig, err)
	}
	req.Header.Set("Content-Type", restContentType)
	req.Header.Set("Accept", restAccept)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error().Err(err).Str("url", url).Msg("REST proxy unreachable")
		return Receipt{}, newError(r.Name(), KindUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, err := readBody(resp)
	if err != nil {
		return Receipt{}, newError(r.Name(), KindUnavailable, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		r.logger.Error().Int("status", resp.StatusCode).Str("topic", batch.Topic).Msg("REST proxy server error")
		return Receipt{}, newError(r.Name(), KindServerError, httpError(resp, respBody))
	case resp.StatusCode >= 400:
		r.logger.Error().Int("status", resp.StatusCode).Str("topic", batch.Topic).Msg("REST proxy rejected batch")
		return Receipt{}, newError(r.Name(), KindRejected, httpError(resp, respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Receipt{}, newError(r.Name(), KindUnavailable, httpError(resp, respBody))
	}

	return r.receipt(batch, respBody)
}

// receipt reads per-record confirmations out of a 2xx response. A response without
// offsets, or one cut short at maxResponseBody, confirms the whole batch.
func (r *REST) receipt(batch Batch, respBody []byte) (Receipt, error) {
	total := len(batch.Messages)
	var pr produceResponse
	if err := json.Unmarshal(respBody, &pr); err != nil || len(pr.Offsets) == 0 {
		r.logger.Info().Str("topic", batch.Topic).Int("messages", total).Msg("Batch accepted by REST proxy")
		return Receipt{Delivered: all(total)}, nil
	}

	receipt := Receipt{Delivered: make([]int, 0, total)}
	var firstErr string
	for i := 0; i < total && i < len(pr.Offsets); i++ {
		if pr.Offsets[i].failed() {
			if firstErr == "" && pr.Offsets[i].Error != nil {
				firstErr = *pr.Offsets[i].Error
			}
			continue
		}
		receipt.Delivered = append(receipt.Delivered, i)
	}

	switch n := len(receipt.Delivered); {
	case n == total:
		r.logger.Info().Str("topic", batch.Topic).Int("messages", n).Msg("Batch accepted by REST proxy")
		return receipt, nil
	case n == 0:
		return receipt, newError(r.Name(), KindRejected, fmt.Errorf("no records confirmed: %s", firstErr))
	default:
		r.logger.Warn().Str("topic", batch.Topic).Int("confirmed", n).Int("total", total).Msg("REST proxy confirmed part of the batch")
		return receipt, newError(r.Name(), KindPartial, fmt.Errorf("%d of %d records confirmed: %s", n, total, firstErr))
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
}

func httpError(resp *http.Response, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return fmt.Errorf("%s: %s", resp.Status, text)
}

type clustersResponse struct {
	Data []struct {
		ClusterID string `json:"cluster_id"`
	} `json:"data"`
}

type createTopicRequest struct {
	TopicName         string `json:"topic_name"`
	PartitionsCount   int    `json:"partitions_count"`
	ReplicationFactor int    `json:"replication_factor"`
}

// CreateTopic registers a topic through the proxy's v3 admin API and returns the
// proxy's response text.
func (r *REST) CreateTopic(ctx context.Context, topic string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v3/clusters", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error getting cluster ID: %w", err)
	}
	body, err := readBody(resp)
	resp.Body.Close()
	if err != nil {
		return "", fmt.Errorf("error getting cluster ID: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("error getting cluster ID: %w", httpError(resp, body))
	}
	var clusters clustersResponse
	if err := json.Unmarshal(body, &clusters); err != nil || len(clusters.Data) == 0 || clusters.Data[0].ClusterID == "" {
		return "", errors.New("error getting cluster ID: response has no clusters")
	}
	clusterID := clusters.Data[0].ClusterID

	payload, err := json.Marshal(createTopicRequest{
		TopicName:         topic,
		PartitionsCount:   r.partitionsCount,
		ReplicationFactor: r.replicationFactor,
	})
	if err != nil {
		return "", err
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v3/clusters/%s/topics", r.baseURL, clusterID), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error creating topic: %w", err)
	}
	defer resp.Body.Close()
	body, err = readBody(resp)
	if err != nil {
		return "", fmt.Errorf("error creating topic: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("error creating topic: %w", httpError(resp, body))
	}
	r.logger.Info().Str("cluster_id", clusterID).Str("topic", topic).Msg("Topic created")
	return string(body), nil
}
