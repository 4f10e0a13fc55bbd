package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultNamespace, cfg.Namespace)
	assert.Equal(t, DefaultRESTProxyURL, cfg.RESTProxy.URL)
	assert.Equal(t, 1, cfg.RESTProxy.PartitionsCount)
	assert.Equal(t, 3, cfg.RESTProxy.ReplicationFactor)
	assert.Equal(t, "rest", cfg.Transport.Mode)
	assert.Equal(t, "redis", cfg.KeyStore.Kind)
	assert.Equal(t, DefaultRedisURL, cfg.KeyStore.URL)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Store)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Empty(t, cfg.Archive.Bucket)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "backpack.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
namespace: lsst.file
transport:
  mode: direct
  broker: jetstream
keystore:
  kind: memory
timeouts:
  fetch: 10s
archive:
  bucket: from-file
`), 0o600))

	t.Setenv("BACKPACK_NAMESPACE", "lsst.env")
	t.Setenv("BACKPACK_TIMEOUTS_STORE", "2s")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("namespace", "", "")
	flags.String("method", "none", "")
	require.NoError(t, flags.Parse([]string{"--namespace", "lsst.flag"}))

	cfg, err := LoadConfig(file, flags)
	require.NoError(t, err)

	assert.Equal(t, "lsst.flag", cfg.Namespace, "a set flag beats env and file")
	assert.Equal(t, "direct", cfg.Transport.Mode, "an unset flag does not beat the file")
	assert.Equal(t, "jetstream", cfg.Transport.Broker)
	assert.Equal(t, "memory", cfg.KeyStore.Kind)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Fetch)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Store)
	assert.Equal(t, "from-file", cfg.Archive.Bucket)
}

func TestLoadConfig_LegacyEnvNames(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SASQUATCH_REST_PROXY_URL", "http://proxy.example:8082")
	t.Setenv("BACKPACK_REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.example:8082", cfg.RESTProxy.URL)
	assert.Equal(t, "redis://cache:6379/1", cfg.KeyStore.URL)

	// The prefixed form wins over the legacy name.
	t.Setenv("BACKPACK_REST_PROXY_URL", "http://preferred:8082")
	cfg, err = LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://preferred:8082", cfg.RESTProxy.URL)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err, "an explicitly named file must exist")

	t.Setenv("HOME", t.TempDir())
	t.Setenv("BACKPACK_TIMEOUTS_SEND", "0s")
	_, err = LoadConfig("", nil)
	assert.ErrorContains(t, err, "timeouts must be positive")
}
