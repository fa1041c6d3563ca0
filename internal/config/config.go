// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Feeder      FeederConfig     `mapstructure:"feeder"`
	Fetchers    FetchersConfig   `mapstructure:"fetchers"`
	Enrichers   EnrichersConfig  `mapstructure:"enrichers"`
	Storages    StoragesConfig   `mapstructure:"storages"`
	StateStores StateStoreConfig `mapstructure:"statestores"`
	Formatter   FormatterConfig  `mapstructure:"formatter"`
	API         APIConfig        `mapstructure:"api"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	Workers     int              `mapstructure:"workers"`
	TmpRoot     string           `mapstructure:"tmp_root"`
}

// FeederConfig selects and configures the item source.
type FeederConfig struct {
	Kind   string       `mapstructure:"kind"`
	URLs   []string     `mapstructure:"urls"`
	Folder string       `mapstructure:"folder"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds the subscription parameters for the pubsub feeder.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// FetchersConfig toggles and configures the fetcher chain.
type FetchersConfig struct {
	Web      WebFetcherConfig      `mapstructure:"web"`
	Headless HeadlessFetcherConfig `mapstructure:"headless"`
}

// WebFetcherConfig configures the plain HTTP fetcher.
type WebFetcherConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessFetcherConfig configures the browser-rendering fetcher.
type HeadlessFetcherConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// EnrichersConfig toggles post-fetch enrichment steps.
type EnrichersConfig struct {
	Hashes     HashesConfig     `mapstructure:"hashes"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Exif       ExifConfig       `mapstructure:"exif"`
}

// HashesConfig toggles content hashing.
type HashesConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ScreenshotConfig configures full-page screenshot capture.
type ScreenshotConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	Quality       int  `mapstructure:"quality"`
}

// ExifConfig toggles EXIF extraction from image media.
type ExifConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoragesConfig toggles and configures persistence backends.
type StoragesConfig struct {
	Local LocalStorageConfig `mapstructure:"local"`
	GCS   GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig sets the root for filesystem persistence.
type LocalStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig sets bucket and key prefix for GCS persistence.
type GCSStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// StateStoreConfig toggles and configures lifecycle stores.
type StateStoreConfig struct {
	Console  ConsoleStoreConfig  `mapstructure:"console"`
	Memory   MemoryStoreConfig   `mapstructure:"memory"`
	Postgres PostgresStoreConfig `mapstructure:"postgres"`
	SQLite   SQLiteStoreConfig   `mapstructure:"sqlite"`
}

// ConsoleStoreConfig toggles the logging state store.
type ConsoleStoreConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MemoryStoreConfig toggles the in-memory state store.
type MemoryStoreConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PostgresStoreConfig configures the Postgres state store.
type PostgresStoreConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	DSN                string `mapstructure:"dsn"`
	Table              string `mapstructure:"table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// SQLiteStoreConfig configures the SQLite state store.
type SQLiteStoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
	WAL     bool   `mapstructure:"wal"`
}

// FormatterConfig selects the summary renderer.
type FormatterConfig struct {
	Kind  string `mapstructure:"kind"`
	Title string `mapstructure:"title"`
}

// APIConfig controls the operational HTTP endpoint.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feeder.kind", "static")
	v.SetDefault("feeder.folder", "default")
	v.SetDefault("fetchers.web.enabled", true)
	v.SetDefault("fetchers.web.user_agent", "linkvault-archiver/0.1")
	v.SetDefault("fetchers.web.timeout_seconds", 30)
	v.SetDefault("fetchers.headless.enabled", false)
	v.SetDefault("fetchers.headless.nav_timeout_seconds", 45)
	v.SetDefault("enrichers.hashes.enabled", true)
	v.SetDefault("enrichers.screenshot.enabled", false)
	v.SetDefault("enrichers.screenshot.nav_timeout_seconds", 45)
	v.SetDefault("enrichers.screenshot.quality", 90)
	v.SetDefault("enrichers.exif.enabled", false)
	v.SetDefault("storages.local.enabled", true)
	v.SetDefault("storages.local.base_dir", "./archive")
	v.SetDefault("storages.gcs.prefix", "archive")
	v.SetDefault("statestores.console.enabled", true)
	v.SetDefault("statestores.postgres.table", "archives")
	v.SetDefault("statestores.sqlite.wal", true)
	v.SetDefault("formatter.kind", "markdown")
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("workers", 0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Feeder.Kind {
	case "static":
		if len(c.Feeder.URLs) == 0 {
			return fmt.Errorf("feeder.urls must be set for the static feeder")
		}
	case "pubsub":
		if c.Feeder.PubSub.ProjectID == "" || c.Feeder.PubSub.SubscriptionID == "" {
			return fmt.Errorf("feeder.pubsub.project_id and feeder.pubsub.subscription_id are required")
		}
	default:
		return fmt.Errorf("unknown feeder.kind %q", c.Feeder.Kind)
	}

	if !c.Fetchers.Web.Enabled && !c.Fetchers.Headless.Enabled {
		return fmt.Errorf("at least one fetcher must be enabled")
	}
	if c.Fetchers.Web.Enabled && c.Fetchers.Web.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetchers.web.timeout_seconds must be > 0")
	}
	if c.Storages.Local.Enabled && c.Storages.Local.BaseDir == "" {
		return fmt.Errorf("storages.local.base_dir must be set")
	}
	if c.Storages.GCS.Enabled && c.Storages.GCS.Bucket == "" {
		return fmt.Errorf("storages.gcs.bucket must be set")
	}
	if c.StateStores.Postgres.Enabled && c.StateStores.Postgres.DSN == "" {
		return fmt.Errorf("statestores.postgres.dsn must be set")
	}
	if c.StateStores.SQLite.Enabled && c.StateStores.SQLite.Dir == "" {
		return fmt.Errorf("statestores.sqlite.dir must be set")
	}
	switch c.Formatter.Kind {
	case "markdown", "none", "":
	default:
		return fmt.Errorf("unknown formatter.kind %q", c.Formatter.Kind)
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	return nil
}

// WebTimeout converts the configured fetch timeout into a duration.
func (c Config) WebTimeout() time.Duration {
	return time.Duration(c.Fetchers.Web.TimeoutSeconds) * time.Second
}

// HeadlessNavTimeout converts the headless navigation timeout into a
// duration.
func (c Config) HeadlessNavTimeout() time.Duration {
	return time.Duration(c.Fetchers.Headless.NavTimeoutSec) * time.Second
}

// ScreenshotNavTimeout converts the screenshot navigation timeout into a
// duration.
func (c Config) ScreenshotNavTimeout() time.Duration {
	return time.Duration(c.Enrichers.Screenshot.NavTimeoutSec) * time.Second
}
