package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// It's structured to neatly group settings for different components.
type Config struct {
	// LogLevel for the application-wide logger (e.g., "debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`

	// Namespace qualifies topics and schemas on the telemetry platform.
	Namespace string `mapstructure:"namespace"`

	// RESTProxy holds settings for the request/response transport.
	RESTProxy struct {
		URL               string `mapstructure:"url"`
		PartitionsCount   int    `mapstructure:"partitions_count"`
		ReplicationFactor int    `mapstructure:"replication_factor"`
	} `mapstructure:"rest_proxy"`

	// Transport selects how records are delivered.
	Transport struct {
		Mode            string `mapstructure:"mode"`   // direct, rest, none
		Broker          string `mapstructure:"broker"` // pubsub, jetstream
		ProjectID       string `mapstructure:"project_id"`
		NATSURL         string `mapstructure:"nats_url"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"transport"`

	// KeyStore holds settings for the dedup key store.
	KeyStore struct {
		Kind            string `mapstructure:"kind"` // redis, firestore, nats, memory, none
		URL             string `mapstructure:"url"`
		ProjectID       string `mapstructure:"project_id"`
		Collection      string `mapstructure:"collection"`
		Bucket          string `mapstructure:"bucket"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"keystore"`

	// Timeouts bound each blocking step of a dispatch cycle.
	Timeouts struct {
		Fetch time.Duration `mapstructure:"fetch"`
		Store time.Duration `mapstructure:"store"`
		Send  time.Duration `mapstructure:"send"`
	} `mapstructure:"timeouts"`

	// Archive is optional; an empty bucket disables it.
	Archive struct {
		Bucket          string `mapstructure:"bucket"`
		Prefix          string `mapstructure:"prefix"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"archive"`

	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"http"`
}

const (
	DefaultNamespace    = "lsst.backpack"
	DefaultRESTProxyURL = "https://data-int.lsst.cloud/sasquatch-rest-proxy"
	DefaultRedisURL     = "redis://localhost:6379/0"
	EnvPrefix           = "BACKPACK"
)

// flagBindings maps config keys to the command-line flags that override them.
// Flags missing from the set handed to LoadConfig are skipped.
var flagBindings = map[string]string{
	"log_level":        "log-level",
	"namespace":        "namespace",
	"rest_proxy.url":   "rest-proxy-url",
	"transport.mode":   "method",
	"transport.broker": "broker",
	"keystore.kind":    "keystore",
	"keystore.url":     "keystore-url",
	"http.listen_addr": "listen",
}

// legacyEnv lists environment variable names honored in addition to the
// BACKPACK_ prefixed form.
var legacyEnv = map[string][]string{
	"rest_proxy.url": {"SASQUATCH_REST_PROXY_URL"},
	"keystore.url":   {"BACKPACK_REDIS_URL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("namespace", DefaultNamespace)
	v.SetDefault("rest_proxy.url", DefaultRESTProxyURL)
	v.SetDefault("rest_proxy.partitions_count", 1)
	v.SetDefault("rest_proxy.replication_factor", 3)
	v.SetDefault("transport.mode", "rest")
	v.SetDefault("transport.broker", "pubsub")
	v.SetDefault("transport.project_id", "")
	v.SetDefault("transport.nats_url", "nats://localhost:4222")
	v.SetDefault("transport.credentials_file", "")
	v.SetDefault("keystore.kind", "redis")
	v.SetDefault("keystore.url", DefaultRedisURL)
	v.SetDefault("keystore.project_id", "")
	v.SetDefault("keystore.collection", "backpack-dedup-keys")
	v.SetDefault("keystore.bucket", "backpack_dedup_keys")
	v.SetDefault("keystore.credentials_file", "")
	v.SetDefault("timeouts.fetch", 30*time.Second)
	v.SetDefault("timeouts.store", 5*time.Second)
	v.SetDefault("timeouts.send", 30*time.Second)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "delivered")
	v.SetDefault("archive.credentials_file", "")
	v.SetDefault("http.listen_addr", ":8080")
}

// LoadConfig initializes and loads the application configuration.
// Precedence, highest first: flags, environment, config file, defaults.
// An empty configFile searches for backpack.yaml in the working directory and
// $HOME/.config/backpack; not finding one there is not an error.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// --- 1. Set Defaults ---
	setDefaults(v)

	// --- 2. Config file ---
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("backpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/backpack")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config.LoadConfig: reading config file: %w", err)
		}
	}

	// --- 3. Environment ---
	// e.g., BACKPACK_TRANSPORT_MODE overrides transport.mode.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, envKey}, names...)...); err != nil {
			return nil, fmt.Errorf("config.LoadConfig: binding env for %s: %w", key, err)
		}
	}

	// --- 4. Flags ---
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config.LoadConfig: binding flag --%s: %w", name, err)
				}
			}
		}
	}

	// --- 5. Unmarshal ---
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.LoadConfig: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be caught later with a useful message.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errors.New("config: namespace must not be empty")
	}
	if c.Timeouts.Fetch <= 0 || c.Timeouts.Store <= 0 || c.Timeouts.Send <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.RESTProxy.PartitionsCount < 1 || c.RESTProxy.ReplicationFactor < 1 {
		return errors.New("config: partitions_count and replication_factor must be at least 1")
	}
	return nil
}
