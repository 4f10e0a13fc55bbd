package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/backpack/pkg/config"
	"github.com/illmade-knight/backpack/pkg/keystore"
	"github.com/illmade-knight/backpack/pkg/transport"
)

func testConfig() *config.Config {
	cfg := &config.Config{Namespace: "lsst.test"}
	cfg.Transport.Mode = "none"
	cfg.KeyStore.Kind = "memory"
	cfg.RESTProxy.URL = "http://proxy.invalid"
	cfg.RESTProxy.PartitionsCount = 2
	cfg.RESTProxy.ReplicationFactor = 1
	cfg.Timeouts.Fetch = time.Second
	cfg.Timeouts.Store = time.Second
	cfg.Timeouts.Send = 3 * time.Second
	return cfg
}

func TestNew_WiresConfiguredCollaborators(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &keystore.Memory{}, a.KeyStore())

	mode, err := a.DefaultMode()
	require.NoError(t, err)
	assert.Equal(t, transport.ModeNone, mode)

	d1, err := a.Dispatcher(ctx, transport.ModeNone)
	require.NoError(t, err)
	d2, err := a.Dispatcher(ctx, transport.ModeNone)
	require.NoError(t, err)
	assert.Same(t, d1, d2, "dispatchers are cached per mode")
	assert.Equal(t, "lsst.test.quake", d1.QualifiedTopic("quake"))

	tr, err := a.Transport(ctx, transport.ModeREST)
	require.NoError(t, err)
	assert.Equal(t, "rest", tr.Name())

	_, err = a.TopicCreator(ctx, transport.ModeREST)
	assert.NoError(t, err)
	_, err = a.TopicCreator(ctx, transport.ModeNone)
	assert.ErrorContains(t, err, "cannot create topics")

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestNew_RedisKeyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.KeyStore.Kind = "redis"
	cfg.KeyStore.URL = "redis://" + mr.Addr() + "/0"

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &keystore.Redis{}, a.KeyStore())
}

func TestNew_NoKeyStore(t *testing.T) {
	cfg := testConfig()
	cfg.KeyStore.Kind = "none"
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.KeyStore())
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.KeyStore.Kind = "etcd"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)

	a, err := New(context.Background(), testConfig(), zerolog.Nop(), WithKeyStore(keystore.NewMemory()))
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Dispatcher(context.Background(), "carrier-pigeon")
	assert.Error(t, err)
}

func TestTransportConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Broker = "jetstream"
	cfg.Transport.NATSURL = "nats://broker:4222"

	tc := TransportConfig(cfg, transport.ModeDirect)
	assert.Equal(t, transport.ModeDirect, tc.Mode)
	assert.Equal(t, "jetstream", tc.Broker)
	assert.Equal(t, "nats://broker:4222", tc.NATSURL)
	assert.Equal(t, 2, tc.PartitionsCount)
	assert.Equal(t, 3*time.Second, tc.HTTPTimeout)

	dc := DispatcherConfig(cfg)
	assert.Equal(t, "lsst.test", dc.Namespace)
	assert.Equal(t, time.Second, dc.StoreTimeout)
}

func TestWithTransport(t *testing.T) {
	noop := transport.NewNoop(zerolog.Nop())
	a, err := New(context.Background(), testConfig(), zerolog.Nop(), WithTransport(transport.ModeDirect, noop))
	require.NoError(t, err)
	defer a.Close()

	tr, err := a.Transport(context.Background(), transport.ModeDirect)
	require.NoError(t, err)
	assert.Same(t, noop, tr)
}
