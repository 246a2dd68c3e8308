// Package config loads listening-tracker settings from a file, the
// environment and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g.
// LISTENING_TRACKER_STORE_BACKEND.
const EnvPrefix = "LISTENING_TRACKER"

const appDirName = "listening-tracker"

// Supported store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDir      = "dir"
	BackendMemory   = "memory"
)

var (
	// ErrUnknownBackend is returned for an unsupported store.backend.
	ErrUnknownBackend = errors.New("unknown store backend")

	// ErrMissingDatabaseURL is returned when the postgres backend has no URL.
	ErrMissingDatabaseURL = errors.New("store.database_url is required for the postgres backend")
)

// Config is the full application configuration.
type Config struct {
	Addr       string           `mapstructure:"addr"`
	Timezone   string           `mapstructure:"timezone"`
	Store      StoreConfig      `mapstructure:"store"`
	Tracker    TrackerConfig    `mapstructure:"tracker"`
	Cache      CacheConfig      `mapstructure:"cache"`
	SoundCloud SoundCloudConfig `mapstructure:"soundcloud"`
	Spotify    SpotifyConfig    `mapstructure:"spotify"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Log        LogConfig        `mapstructure:"log"`

	location *time.Location
	level    slog.Level
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend"`
	Path        string        `mapstructure:"path"`
	DatabaseURL string        `mapstructure:"database_url"`
	WriteDelay  time.Duration `mapstructure:"write_delay"`
}

type TrackerConfig struct {
	TickInterval  time.Duration `mapstructure:"tick_interval"`
	SaveInterval  time.Duration `mapstructure:"save_interval"`
	EnrichTimeout time.Duration `mapstructure:"enrich_timeout"`
}

type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SoundCloudConfig struct {
	ClientID string `mapstructure:"client_id"`
	BaseURL  string `mapstructure:"base_url"`
}

type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenCache   string `mapstructure:"token_cache"`
}

type SyncConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	Concurrency int           `mapstructure:"concurrency"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8765")
	v.SetDefault("timezone", "Local")
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.write_delay", 5*time.Second)
	v.SetDefault("tracker.tick_interval", time.Second)
	v.SetDefault("tracker.save_interval", 5*time.Second)
	v.SetDefault("tracker.enrich_timeout", 10*time.Second)
	v.SetDefault("cache.capacity", 500)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("soundcloud.client_id", "")
	v.SetDefault("soundcloud.base_url", "https://api-v2.soundcloud.com")
	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")
	v.SetDefault("spotify.token_cache", "")
	v.SetDefault("sync.cooldown", time.Hour)
	v.SetDefault("sync.concurrency", 5)
	v.SetDefault("log.level", "info")
}

// Load reads configuration. path may be empty, in which case only the
// environment and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendSQLite, BackendDir, BackendMemory:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}

	if c.Store.Path == "" && (c.Store.Backend == BackendSQLite || c.Store.Backend == BackendDir) {
		dir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("getting user config dir: %w", err)
		}
		name := "stats.db"
		if c.Store.Backend == BackendDir {
			name = "store"
		}
		c.Store.Path = filepath.Join(dir, appDirName, name)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	if err := c.level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	return nil
}

// Location returns the timezone used for day boundaries.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// LogLevel returns the parsed log.level.
func (c *Config) LogLevel() slog.Level {
	return c.level
}
