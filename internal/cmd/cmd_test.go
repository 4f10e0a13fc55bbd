package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const usgsResponse = `{
  "type": "FeatureCollection",
  "features": [
    {"id": "us7000abc1", "properties": {"mag": 4.2, "time": 1700000000123},
     "geometry": {"type": "Point", "coordinates": [-71.1, -30.5, 35.2]}}
  ]
}`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newUSGSServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(usgsResponse))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUSGS_DryRun(t *testing.T) {
	usgsSrv := newUSGSServer(t)

	out, err := runCLI(t, "usgs", "--days", "1", "--keystore", "memory", "--usgs-url", usgsSrv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "post mode disabled")
	assert.Contains(t, out, "would be sent")
	assert.Contains(t, out, "us7000abc1  2023-11-14T22:13:20Z  mag 4.2")
	assert.Contains(t, out, "Success")
	assert.Contains(t, out, "dry run: 1 records would have been sent")
}

func TestUSGS_PostRecordsAndDeduplicates(t *testing.T) {
	usgsSrv := newUSGSServer(t)
	mr := miniredis.RunT(t)
	var posts atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		assert.Equal(t, "/topics/lsst.cli.usgs_earthquake_data", r.URL.Path)
		_, _ = w.Write([]byte(`{"offsets":[{"partition":0,"offset":7}]}`))
	}))
	defer proxy.Close()

	args := []string{
		"usgs", "--days", "2", "--post", "--method", "rest",
		"--namespace", "lsst.cli",
		"--rest-proxy-url", proxy.URL,
		"--keystore", "redis", "--keystore-url", "redis://" + mr.Addr() + "/0",
		"--usgs-url", usgsSrv.URL,
	}
	out, err := runCLI(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "post mode enabled (rest transport)")
	assert.Contains(t, out, "were sent")
	assert.EqualValues(t, 1, posts.Load())
	assert.True(t, mr.Exists("usgs_earthquake_data:us7000abc1"))

	out, err = runCLI(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 already published")
	assert.Contains(t, out, "No new events")
	assert.EqualValues(t, 1, posts.Load())
}

func TestUSGS_TransportErrorExitsNonZero(t *testing.T) {
	usgsSrv := newUSGSServer(t)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "schema rejected", http.StatusUnprocessableEntity)
	}))
	defer proxy.Close()

	out, err := runCLI(t, "usgs", "--days", "1", "--post", "--method", "rest",
		"--rest-proxy-url", proxy.URL, "--keystore", "memory", "--usgs-url", usgsSrv.URL)
	assert.ErrorIs(t, err, errDispatchFailed)
	assert.Contains(t, out, "Error: ")
	assert.Contains(t, out, "schema rejected")
}

func TestUSGS_InvalidParameters(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no duration", args: []string{"usgs"}, wantErr: "too small"},
		{name: "radius", args: []string{"usgs", "-d", "1", "-r", "9000"}, wantErr: "radius 9000"},
		{name: "magnitudes", args: []string{"usgs", "-d", "1", "--lower", "8", "--upper", "3"}, wantErr: "cannot exceed"},
		{name: "method", args: []string{"usgs", "-d", "1", "--post", "--method", "telegraph"}, wantErr: "telegraph"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := runCLI(t, append(tc.args, "--keystore", "memory")...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSchema_Output(t *testing.T) {
	out, err := runCLI(t, "schema", "usgs", "--namespace", "lsst.example")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "lsst.example.usgs_earthquake_data", doc["topic"])
	assert.Equal(t, "usgsEarthquakeData", doc["schema"].(map[string]any)["name"])
	assert.Contains(t, doc["boilerplate"], "magnitude")

	out, err = runCLI(t, "schema", "--output", "yaml", "--log-level", "shouting")
	require.NoError(t, err, "an invalid log level falls back to info")
	var yamlDoc schemaDocument
	require.NoError(t, yaml.Unmarshal([]byte(out), &yamlDoc))
	assert.Equal(t, "lsst.backpack.usgs_earthquake_data", yamlDoc.Topic)
	assert.Equal(t, "lsst.backpack", yamlDoc.Schema["namespace"])

	_, err = runCLI(t, "schema", "tides")
	assert.ErrorContains(t, err, "unknown source")
	_, err = runCLI(t, "schema", "--output", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestTopicCreate_REST(t *testing.T) {
	var created map[string]any
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v3/clusters":
			_, _ = w.Write([]byte(`{"data":[{"cluster_id":"k1"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v3/clusters/k1/topics":
			_ = json.NewDecoder(r.Body).Decode(&created)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"topic_name":"lsst.backpack.usgs_earthquake_data"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer proxy.Close()

	out, err := runCLI(t, "topic", "create", "usgs", "--method", "rest", "--rest-proxy-url", proxy.URL, "--keystore", "none")
	require.NoError(t, err)
	assert.Contains(t, out, "Topic lsst.backpack.usgs_earthquake_data is ready")
	assert.Equal(t, "lsst.backpack.usgs_earthquake_data", created["topic_name"])

	_, err = runCLI(t, "topic", "create", "usgs", "--method", "none", "--keystore", "none")
	assert.ErrorContains(t, err, "cannot create topics")
}

func TestDedup_AddThenCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	store := []string{"--keystore", "redis", "--keystore-url", "redis://" + mr.Addr() + "/0"}
	key := []string{"--topic", "usgs_earthquake_data", "--id", "us7000abc1"}

	out, err := runCLI(t, append(append([]string{"dedup", "check"}, key...), store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "usgs_earthquake_data:us7000abc1 is not recorded")

	out, err = runCLI(t, append(append([]string{"dedup", "add"}, key...), store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded usgs_earthquake_data:us7000abc1")

	out, err = runCLI(t, append(append([]string{"dedup", "check"}, key...), store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "is recorded")

	_, err = runCLI(t, "dedup", "add", "--topic", "usgs_earthquake_data", "--id", "x", "--keystore", "none")
	assert.ErrorContains(t, err, "key store not configured")
}
