package apiserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/illmade-knight/backpack/pkg/sources/usgs"
	"github.com/illmade-knight/backpack/pkg/transport"
	"github.com/illmade-knight/backpack/pkg/types"
)

// EarthquakeRequest is the body of POST /sources/usgs/earthquake. Omitted fields
// take the same defaults as the command line.
type EarthquakeRequest struct {
	Days      int     `json:"days"`
	Hours     int     `json:"hours"`
	Radius    int     `json:"radius"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Lower     int     `json:"lower"`
	Upper     int     `json:"upper"`
	Publish   bool    `json:"publish"`
	Method    string  `json:"method"`
}

func defaultEarthquakeRequest() EarthquakeRequest {
	return EarthquakeRequest{
		Radius:    usgs.DefaultRadius,
		Latitude:  usgs.DefaultLatitude,
		Longitude: usgs.DefaultLongitude,
		Lower:     usgs.DefaultMinMagnitude,
		Upper:     usgs.DefaultMaxMagnitude,
	}
}

// PublishResponse reports one dispatch cycle.
type PublishResponse struct {
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	Annotations []string       `json:"annotations,omitempty"`
	DryRun      bool           `json:"dry_run"`
	Fetched     int            `json:"fetched"`
	Duplicates  int            `json:"duplicates"`
	Dropped     int            `json:"dropped"`
	Delivered   []types.Record `json:"delivered"`
}

// SchemaResponse describes a source's schema.
type SchemaResponse struct {
	Topic       string          `json:"topic"`
	Schema      json.RawMessage `json:"schema"`
	Boilerplate map[string]any  `json:"boilerplate"`
}

// USGSEarthquakeHandler queries USGS and, when asked to, publishes the results.
func (s *Server) USGSEarthquakeHandler(w http.ResponseWriter, r *http.Request) {
	req := defaultEarthquakeRequest()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	mode := transport.ModeNone
	if req.Publish {
		var err error
		if req.Method == "" {
			mode, err = s.backend.DefaultMode()
		} else {
			mode, err = transport.ParseMode(req.Method)
		}
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	cfg := usgs.Config{
		Duration:     usgs.DurationFrom(req.Days, req.Hours),
		Radius:       req.Radius,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		MinMagnitude: req.Lower,
		MaxMagnitude: req.Upper,
		Namespace:    s.cfg.Namespace,
		BaseURL:      s.cfg.USGSBaseURL,
	}
	src, err := usgs.NewSource(cfg, s.logger, usgs.WithHTTPClient(s.client))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	d, err := s.backend.Dispatcher(r.Context(), mode)
	if err != nil {
		s.logger.Error().Err(err).Str("mode", string(mode)).Msg("Failed to get dispatcher")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	out := d.Publish(r.Context(), src)
	s.writeJSON(w, StatusCode(out), PublishResponse{
		Status:      out.Status.String(),
		Message:     out.Message,
		Annotations: out.Annotations,
		DryRun:      out.DryRun,
		Fetched:     out.Fetched,
		Duplicates:  out.Duplicates,
		Dropped:     out.Dropped,
		Delivered:   out.Delivered,
	})
}

// USGSEarthquakeSchemaHandler returns the Avro schema and its boilerplate instance.
func (s *Server) USGSEarthquakeSchemaHandler(w http.ResponseWriter, r *http.Request) {
	desc := usgs.EarthquakeSchema(s.cfg.Namespace)
	raw, err := desc.AvroJSON()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	boilerplate, err := desc.Instance(nil)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, SchemaResponse{
		Topic:       s.cfg.Namespace + "." + usgs.DefaultTopic,
		Schema:      json.RawMessage(raw),
		Boilerplate: boilerplate,
	})
}
