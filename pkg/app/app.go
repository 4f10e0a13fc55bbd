package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/backpack/pkg/archive"
	"github.com/illmade-knight/backpack/pkg/config"
	"github.com/illmade-knight/backpack/pkg/dispatcher"
	"github.com/illmade-knight/backpack/pkg/keystore"
	"github.com/illmade-knight/backpack/pkg/transport"
)

// ====================================================================================
// This file wires the long-lived collaborators (key store, transports, archive and
// metrics) from configuration. Dispatchers are built lazily, one per transport
// mode, and share everything else.
// ====================================================================================

// App owns every long-lived connection the process holds.
type App struct {
	cfg      *config.Config
	store    keystore.KeyStore
	archiver *archive.GCSArchiver
	metrics  *dispatcher.Metrics
	registry *prometheus.Registry
	root     zerolog.Logger
	logger   zerolog.Logger

	mu          sync.Mutex
	transports  map[transport.Mode]transport.Transport
	dispatchers map[transport.Mode]*dispatcher.Dispatcher

	pubsubOpts []option.ClientOption
}

// Option configures an App.
type Option func(*App)

// WithKeyStore uses store instead of opening the configured one.
func WithKeyStore(store keystore.KeyStore) Option {
	return func(a *App) { a.store = store }
}

// WithTransport pre-registers the transport used for mode.
func WithTransport(mode transport.Mode, tr transport.Transport) Option {
	return func(a *App) { a.transports[mode] = tr }
}

// WithPubSubOptions passes client options (emulator endpoints, test connections)
// to the Pub/Sub broker.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(a *App) { a.pubsubOpts = append(a.pubsubOpts, opts...) }
}

// New opens the key store and archive. Transports are opened on first use.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:         cfg,
		registry:    prometheus.NewRegistry(),
		root:        logger,
		logger:      logger.With().Str("component", "App").Logger(),
		transports:  make(map[transport.Mode]transport.Transport),
		dispatchers: make(map[transport.Mode]*dispatcher.Dispatcher),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := dispatcher.NewMetrics(a.registry)
	if err != nil {
		return nil, fmt.Errorf("app.New: registering metrics: %w", err)
	}
	a.metrics = metrics

	if a.store == nil {
		ksCfg, err := KeyStoreConfig(cfg)
		if err != nil {
			return nil, err
		}
		store, err := keystore.Open(ctx, ksCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("app.New: opening key store: %w", err)
		}
		a.store = store
	}

	if cfg.Archive.Bucket != "" {
		var archiveOpts []option.ClientOption
		if cfg.Archive.CredentialsFile != "" {
			archiveOpts = append(archiveOpts, option.WithCredentialsFile(cfg.Archive.CredentialsFile))
		}
		archiver, err := archive.NewStorageArchiver(ctx, archive.Config{
			BucketName:   cfg.Archive.Bucket,
			ObjectPrefix: cfg.Archive.Prefix,
		}, logger, archiveOpts...)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("app.New: creating archive: %w", err)
		}
		a.archiver = archiver
	}

	a.logger.Info().
		Str("namespace", cfg.Namespace).
		Str("keystore", cfg.KeyStore.Kind).
		Str("default_transport", cfg.Transport.Mode).
		Bool("archive", a.archiver != nil).
		Msg("Application initialized")
	return a, nil
}

// KeyStoreConfig converts the keystore section of cfg.
func KeyStoreConfig(cfg *config.Config) (keystore.Config, error) {
	kind, err := keystore.ParseKind(cfg.KeyStore.Kind)
	if err != nil {
		return keystore.Config{}, err
	}
	return keystore.Config{
		Kind:            kind,
		URL:             cfg.KeyStore.URL,
		ProjectID:       cfg.KeyStore.ProjectID,
		Collection:      cfg.KeyStore.Collection,
		Bucket:          cfg.KeyStore.Bucket,
		CredentialsFile: cfg.KeyStore.CredentialsFile,
	}, nil
}

// TransportConfig converts the transport sections of cfg for the given mode.
func TransportConfig(cfg *config.Config, mode transport.Mode) transport.Config {
	return transport.Config{
		Mode:              mode,
		Broker:            cfg.Transport.Broker,
		ProjectID:         cfg.Transport.ProjectID,
		CredentialsFile:   cfg.Transport.CredentialsFile,
		NATSURL:           cfg.Transport.NATSURL,
		RESTProxyURL:      cfg.RESTProxy.URL,
		PartitionsCount:   cfg.RESTProxy.PartitionsCount,
		ReplicationFactor: cfg.RESTProxy.ReplicationFactor,
		HTTPTimeout:       cfg.Timeouts.Send,
	}
}

// DispatcherConfig converts the dispatcher settings of cfg.
func DispatcherConfig(cfg *config.Config) dispatcher.Config {
	return dispatcher.Config{
		Namespace:    cfg.Namespace,
		FetchTimeout: cfg.Timeouts.Fetch,
		StoreTimeout: cfg.Timeouts.Store,
		SendTimeout:  cfg.Timeouts.Send,
	}
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// KeyStore returns the key store, or nil when none is configured.
func (a *App) KeyStore() keystore.KeyStore { return a.store }

// Registry is the Prometheus registry served at /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// DefaultMode is the configured transport mode.
func (a *App) DefaultMode() (transport.Mode, error) {
	return transport.ParseMode(a.cfg.Transport.Mode)
}

// Transport returns the transport for mode, opening it on first use.
func (a *App) Transport(ctx context.Context, mode transport.Mode) (transport.Transport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transportLocked(ctx, mode)
}

func (a *App) transportLocked(ctx context.Context, mode transport.Mode) (transport.Transport, error) {
	if tr, ok := a.transports[mode]; ok {
		return tr, nil
	}
	tr, err := transport.New(ctx, TransportConfig(a.cfg, mode), a.root, a.pubsubOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: opening %s transport: %w", mode, err)
	}
	a.transports[mode] = tr
	return tr, nil
}

// Dispatcher returns the dispatcher bound to mode.
func (a *App) Dispatcher(ctx context.Context, mode transport.Mode) (*dispatcher.Dispatcher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d, ok := a.dispatchers[mode]; ok {
		return d, nil
	}
	tr, err := a.transportLocked(ctx, mode)
	if err != nil {
		return nil, err
	}
	opts := []dispatcher.Option{dispatcher.WithMetrics(a.metrics)}
	if a.archiver != nil {
		opts = append(opts, dispatcher.WithArchiver(a.archiver))
	}
	d := dispatcher.New(DispatcherConfig(a.cfg), tr, a.store, a.root, opts...)
	a.dispatchers[mode] = d
	return d, nil
}

// TopicCreator returns the topic administration interface of mode's transport.
func (a *App) TopicCreator(ctx context.Context, mode transport.Mode) (transport.TopicCreator, error) {
	tr, err := a.Transport(ctx, mode)
	if err != nil {
		return nil, err
	}
	creator, ok := tr.(transport.TopicCreator)
	if !ok {
		return nil, fmt.Errorf("the %s transport cannot create topics", tr.Name())
	}
	return creator, nil
}

// Close releases every connection. It is safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for mode, tr := range a.transports {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s transport: %w", mode, err))
		}
	}
	a.transports = make(map[transport.Mode]transport.Transport)
	a.dispatchers = make(map[transport.Mode]*dispatcher.Dispatcher)

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing key store: %w", err))
		}
		a.store = nil
	}
	if a.archiver != nil {
		if err := a.archiver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing archive: %w", err))
		}
		a.archiver = nil
	}
	return errors.Join(errs...)
}
