package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestREST(t *testing.T, handler http.HandlerFunc) *REST {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r, err := NewREST(RESTConfig{BaseURL: srv.URL + "/", HTTPClient: srv.Client()}, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestREST_Send_WireFormat(t *testing.T) {
	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	r := newTestREST(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotHeaders = req.Header.Clone()
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", restAccept)
		_, _ = w.Write([]byte(`{"key_schema_id":null,"value_schema_id":32,"offsets":[{"partition":0,"offset":10,"error_code":null,"error":null},{"partition":0,"offset":11,"error_code":null,"error":null}]}`))
	})

	receipt, err := r.Send(context.Background(), testBatch("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, receipt.Delivered)

	assert.Equal(t, "/topics/lsst.backpack.quakes", gotPath)
	assert.Equal(t, "application/vnd.kafka.avro.v2+json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "application/vnd.kafka.v2+json", gotHeaders.Get("Accept"))

	schemaJSON, ok := gotBody["value_schema"].(string)
	require.True(t, ok, "value_schema must be a JSON string")
	assert.Contains(t, schemaJSON, `"name":"quakes"`)
	records, ok := gotBody["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 2)
	assert.Equal(t, map[string]any{"value": map[string]any{"id": "a", "magnitude": 2.5}}, records[0])
}

func TestREST_Send_NoOffsetsConfirmsAll(t *testing.T) {
	r := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	receipt, err := r.Send(context.Background(), testBatch("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, receipt.Delivered)
}

func TestREST_Send_PerRecordErrors(t *testing.T) {
	testCases := []struct {
		name          string
		response      string
		wantDelivered []int
		wantKind      Kind
	}{
		{
			name:          "middle record failed",
			response:      `{"offsets":[{"partition":0,"offset":1},{"partition":null,"offset":null,"error_code":50002,"error":"broker timeout"},{"partition":0,"offset":2}]}`,
			wantDelivered: []int{0, 2},
			wantKind:      KindPartial,
		},
		{
			name:          "fewer offsets than records",
			response:      `{"offsets":[{"partition":0,"offset":1}]}`,
			wantDelivered: []int{0},
			wantKind:      KindPartial,
		},
		{
			name:          "every record failed",
			response:      `{"offsets":[{"error_code":40801,"error":"x"},{"error_code":40801,"error":"x"},{"error_code":40801,"error":"x"}]}`,
			wantDelivered: []int{},
			wantKind:      KindRejected,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.response))
			})
			receipt, err := r.Send(context.Background(), testBatch("a", "b", "c"))
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantKind, kind)
			assert.Equal(t, tc.wantDelivered, receipt.Delivered)
		})
	}
}

func TestREST_Send_StatusClassification(t *testing.T) {
	testCases := []struct {
		status   int
		wantKind Kind
	}{
		{status: http.StatusBadRequest, wantKind: KindRejected},
		{status: http.StatusUnprocessableEntity, wantKind: KindRejected},
		{status: http.StatusInternalServerError, wantKind: KindServerError},
		{status: http.StatusServiceUnavailable, wantKind: KindServerError},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			r := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error_code":42201,"message":"schema mismatch"}`, tc.status)
			})
			receipt, err := r.Send(context.Background(), testBatch("a"))
			require.Error(t, err)
			kind, _ := KindOf(err)
			assert.Equal(t, tc.wantKind, kind)
			assert.Empty(t, receipt.Delivered)
			assert.Contains(t, err.Error(), "schema mismatch")
		})
	}
}

func TestREST_Send_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewREST(RESTConfig{BaseURL: url}, zerolog.Nop())
	require.NoError(t, err)
	_, err = r.Send(context.Background(), testBatch("a"))
	kind, _ := KindOf(err)
	assert.Equal(t, KindUnavailable, kind)
}

func TestREST_Send_EmptyBatchMakesNoRequest(t *testing.T) {
	called := false
	r := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) { called = true })
	receipt, err := r.Send(context.Background(), Batch{Topic: "t", Schema: testSchema()})
	require.NoError(t, err)
	assert.Empty(t, receipt.Delivered)
	assert.False(t, called)
}

func TestREST_CreateTopic(t *testing.T) {
	var created createTopicRequest
	r := newTestREST(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/v3/clusters":
			_, _ = w.Write([]byte(`{"kind":"KafkaClusterList","data":[{"cluster_id":"abc-123"}]}`))
		case req.Method == http.MethodPost && req.URL.Path == "/v3/clusters/abc-123/topics":
			_ = json.NewDecoder(req.Body).Decode(&created)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"topic_name":"lsst.backpack.quakes"}`))
		default:
			http.NotFound(w, req)
		}
	})

	text, err := r.CreateTopic(context.Background(), "lsst.backpack.quakes")
	require.NoError(t, err)
	assert.Equal(t, `{"topic_name":"lsst.backpack.quakes"}`, text)
	assert.Equal(t, createTopicRequest{TopicName: "lsst.backpack.quakes", PartitionsCount: 1, ReplicationFactor: 3}, created)
}

func TestREST_CreateTopic_Errors(t *testing.T) {
	r := newTestREST(t, func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := r.CreateTopic(context.Background(), "t")
	assert.ErrorContains(t, err, "error getting cluster ID")

	r = newTestREST(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"data":[{"cluster_id":"c1"}]}`))
			return
		}
		http.Error(w, "topic already exists", http.StatusBadRequest)
	})
	_, err = r.CreateTopic(context.Background(), "t")
	assert.ErrorContains(t, err, "topic already exists")
}

// shortBody announces more bytes than it writes, so the client sees the body end early.
func shortBody(status int, partial string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(partial))
	}
}

func TestREST_Send_TruncatedResponse(t *testing.T) {
	r := newTestREST(t, shortBody(http.StatusOK, `{"offsets":[{"partition":0,`))

	_, err := r.Send(context.Background(), testBatch("a"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to read response")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnavailable, kind)
}

func TestREST_Send_OversizedResponseIsBounded(t *testing.T) {
	r := newTestREST(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"offsets":[{"partition":0,"offset":1}],"padding":"`))
		_, _ = w.Write([]byte(strings.Repeat("x", 2*maxResponseBody)))
		_, _ = w.Write([]byte(`"}`))
	})

	receipt, err := r.Send(context.Background(), testBatch("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, receipt.Delivered, "an unreadable 2xx receipt confirms the batch")
}

func TestREST_CreateTopic_TruncatedResponses(t *testing.T) {
	r := newTestREST(t, shortBody(http.StatusOK, `{"data":[{"cluster_id":`))
	_, err := r.CreateTopic(context.Background(), "t")
	assert.ErrorContains(t, err, "error getting cluster ID: failed to read response")

	r = newTestREST(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"data":[{"cluster_id":"c1"}]}`))
			return
		}
		shortBody(http.StatusCreated, `{"topic_na`)(w, req)
	})
	_, err = r.CreateTopic(context.Background(), "t")
	assert.ErrorContains(t, err, "error creating topic: failed to read response")
}
