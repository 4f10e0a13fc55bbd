package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/backpack/pkg/dispatcher"
	"github.com/illmade-knight/backpack/pkg/transport"
)

// Backend supplies dispatchers. *app.App implements it.
type Backend interface {
	Dispatcher(ctx context.Context, mode transport.Mode) (*dispatcher.Dispatcher, error)
	DefaultMode() (transport.Mode, error)
}

// Config holds settings for the API server.
type Config struct {
	// Namespace the source schemas are bound to.
	Namespace string
	// USGSBaseURL overrides the USGS event service, mainly for tests.
	USGSBaseURL string
	// RequestTimeout bounds every request; a dispatch cycle must fit inside it.
	RequestTimeout time.Duration
}

// Server exposes sources as HTTP endpoints. Handlers call the dispatcher directly.
type Server struct {
	backend  Backend
	gatherer prometheus.Gatherer
	cfg      Config
	client   *http.Client
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(backend Backend, gatherer prometheus.Gatherer, cfg Config, logger zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Server{
		backend:  backend,
		gatherer: gatherer,
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With().Str("component", "APIServer").Logger(),
	}
}

// Router builds the chi router with middleware and every route.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(s.cfg.RequestTimeout))

	router.Route("/sources/usgs/earthquake", func(r chi.Router) {
		r.Post("/", s.USGSEarthquakeHandler)
		r.Get("/schema", s.USGSEarthquakeSchemaHandler)
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", addr).Msg("Starting API server")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// StatusCode maps an outcome onto the HTTP status the endpoints return.
func StatusCode(o dispatcher.Outcome) int {
	switch o.Status {
	case dispatcher.StatusError:
		return http.StatusBadGateway
	case dispatcher.StatusWarning:
		return http.StatusMultiStatus
	}
	if o.DryRun || len(o.Delivered) == 0 {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode and write response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
