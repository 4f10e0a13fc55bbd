package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/backpack/pkg/schema"
	"github.com/illmade-knight/backpack/pkg/sources"
	"github.com/illmade-knight/backpack/pkg/types"
)

// EarthquakeSchema describes one earthquake event.
func EarthquakeSchema(namespace string) *schema.Descriptor {
	return &schema.Descriptor{
		Namespace: namespace,
		Name:      "usgsEarthquakeData",
		Doc:       "Collection of earthquakes near the summit",
		Fields: []schema.Field{
			{Name: "timestamp", Type: schema.Long},
			{Name: "id", Type: schema.String, Doc: "unique earthquake id"},
			{Name: "latitude", Type: schema.Double, Units: "degree"},
			{Name: "longitude", Type: schema.Double, Units: "degree"},
			{Name: "depth", Type: schema.Double, Units: "km"},
			{Name: "magnitude", Type: schema.Double, Units: "u.richter_magnitudes"},
		},
	}
}

// Source fetches earthquakes from the USGS FDSN event service.
type Source struct {
	sources.Base
	cfg    Config
	client *http.Client
	now    func() time.Time
	logger zerolog.Logger
}

// Option customises a Source.
type Option func(*Source)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithClock replaces time.Now, used to anchor the query window.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// NewSource validates the query and builds a Source for it.
func NewSource(cfg Config, logger zerolog.Logger, opts ...Option) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	base, err := sources.NewBase(sources.SourceConfig{
		Topic:        cfg.Topic,
		Schema:       EarthquakeSchema(cfg.Namespace),
		UsesKeyStore: true,
		IDField:      "id",
	})
	if err != nil {
		return nil, err
	}

	s := &Source{
		Base:   base,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		logger: logger.With().Str("component", "USGSSource").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the query this source was built from.
func (s *Source) Config() Config { return s.cfg }

// geoJSON is the subset of the FDSN GeoJSON response the source reads.
type geoJSON struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Mag  *float64 `json:"mag"`
			Time int64    `json:"time"` // ms since epoch
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // lon, lat, depth
		} `json:"geometry"`
	} `json:"features"`
}

// FetchRecords queries the USGS API and converts each event into a record.
// Events with a missing magnitude are still returned; they fail schema conversion
// later and are dropped there with a diagnostic.
func (s *Source) FetchRecords(ctx context.Context) ([]types.Record, error) {
	queryURL := s.queryURL()
	s.logger.Debug().Str("url", queryURL).Msg("Querying USGS event service")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, sources.NewFetchError(s.TopicName(), fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, sources.NewFetchError(s.TopicName(), fmt.Errorf("a connection error occurred while fetching records: %w", err))
	}
	defer resp.Body.Close()

	// The service answers 204 when nothing matches the query.
	if resp.StatusCode == http.StatusNoContent {
		return []types.Record{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, sources.NewFetchError(s.TopicName(), fmt.Errorf("usgs returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var payload geoJSON
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, sources.NewFetchError(s.TopicName(), fmt.Errorf("decode response: %w", err))
	}

	records := make([]types.Record, 0, len(payload.Features))
	for _, f := range payload.Features {
		if f.ID == "" || len(f.Geometry.Coordinates) < 3 {
			s.logger.Warn().Str("id", f.ID).Msg("Skipping malformed earthquake feature")
			continue
		}
		r := types.Record{
			"timestamp": f.Properties.Time / 1000,
			"id":        f.ID,
			"latitude":  f.Geometry.Coordinates[1],
			"longitude": f.Geometry.Coordinates[0],
			"depth":     f.Geometry.Coordinates[2],
		}
		if f.Properties.Mag != nil {
			r["magnitude"] = *f.Properties.Mag
		}
		records = append(records, r)
	}

	s.logger.Info().Int("count", len(records)).Msg("Fetched earthquakes from USGS")
	return records, nil
}

func (s *Source) queryURL() string {
	end := s.now().UTC()
	start := end.Add(-s.cfg.Duration)
	const layout = "2006-01-02T15:04:05"

	q := url.Values{}
	q.Set("format", "geojson")
	q.Set("starttime", start.Format(layout))
	q.Set("endtime", end.Format(layout))
	q.Set("latitude", strconv.FormatFloat(s.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(s.cfg.Longitude, 'f', -1, 64))
	q.Set("maxradiuskm", strconv.Itoa(s.cfg.Radius))
	q.Set("minmagnitude", strconv.Itoa(s.cfg.MinMagnitude))
	q.Set("maxmagnitude", strconv.Itoa(s.cfg.MaxMagnitude))
	q.Set("orderby", "time-asc")
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/query?" + q.Encode()
}
