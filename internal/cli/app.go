package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/justestif/go-listening-tracker/internal/auth"
	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/config"
	"github.com/justestif/go-listening-tracker/internal/db"
	"github.com/justestif/go-listening-tracker/internal/enrich"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/recap"
	"github.com/justestif/go-listening-tracker/internal/soundcloud"
	"github.com/justestif/go-listening-tracker/internal/spotify"
	"github.com/justestif/go-listening-tracker/internal/stats"
	metasync "github.com/justestif/go-listening-tracker/internal/sync"
	"github.com/justestif/go-listening-tracker/internal/web"
)

// KeySoundCloudClientID holds a SoundCloud client id registered at runtime.
const KeySoundCloudClientID = "soundcloudClientId"

// app holds the services shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	kv       *kv.Store
	stats    *stats.Store
	recaps   *recap.Service
	resolver *enrich.CachedResolver
	artists  *enrich.CachedArtistResolver
	sync     *metasync.Service
	clientID *clientIDStore // nil unless SoundCloud is the metadata source
}

// openApp loads configuration, opens the store, loads the aggregates and
// wires the metadata source.
func openApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	clk := clock.Real{}
	a := &app{
		cfg:    cfg,
		logger: logger,
		clock:  clk,
		kv: kv.NewStore(backend,
			kv.WithWriteDelay(cfg.Store.WriteDelay),
			kv.WithLogger(logger),
		),
	}
	a.stats = stats.New(a.kv,
		stats.WithLocation(cfg.Location()),
		stats.WithCacheCapacity(cfg.Cache.Capacity),
		stats.WithLogger(logger),
	)
	a.stats.Load(ctx)

	src, err := openUpstream(ctx, cfg, logger)
	if err != nil {
		_ = a.kv.Close(ctx)
		return nil, err
	}

	syncOpts := []metasync.Option{
		metasync.WithSyncCooldown(cfg.Sync.Cooldown),
		metasync.WithCacheTTL(cfg.Cache.TTL),
		metasync.WithLogger(logger),
	}
	if src.soundcloud != nil {
		a.clientID = &clientIDStore{client: src.soundcloud, kv: a.kv}
		if err := a.clientID.restore(ctx); err != nil {
			logger.Warn("restoring soundcloud client id", "error", err)
		}
		if !src.soundcloud.Ready() {
			logger.Info("soundcloud client id not set, enrichment waits for one")
		}
		syncOpts = append(syncOpts, metasync.WithReadiness(src.soundcloud.Ready))
	}

	a.resolver = enrich.NewCachedResolver(src.tracks, a.stats,
		enrich.WithTTL(cfg.Cache.TTL),
		enrich.WithLogger(logger),
	)
	a.artists = enrich.NewCachedArtistResolver(src.artists, a.kv, enrich.WithArtistLogger(logger))
	a.artists.Load(ctx)

	batch := enrich.NewService(a.resolver, enrich.WithConcurrency(cfg.Sync.Concurrency))
	a.sync = metasync.New(a.stats, batch, a.kv, syncOpts...)
	a.recaps = recap.NewService(recap.NewGenerator(a.stats, clk), a.kv, logger,
		recap.WithArtistResolver(a.artists),
	)

	logger.Debug("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)
	return a, nil
}

// clientIDSetter returns the runtime client id endpoint target, or nil when
// SoundCloud is not the metadata source.
func (a *app) clientIDSetter() web.ClientIDSetter {
	if a.clientID == nil {
		return nil
	}
	return a.clientID
}

// close flushes pending writes and closes the backend.
func (a *app) close(ctx context.Context) error {
	if err := a.stats.Flush(ctx); err != nil {
		a.logger.Warn("flushing stats", "error", err)
	}
	return a.kv.Close(ctx)
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kv.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return kv.NewMemoryBackend(), nil
	case config.BackendSQLite:
		return kv.OpenSQLite(cfg.Store.Path)
	case config.BackendDir:
		return kv.OpenDir(cfg.Store.Path, kv.WithDirLogger(logger))
	case config.BackendPostgres:
		database, err := db.New(ctx, cfg.Store.DatabaseURL, db.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return database.KV(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Store.Backend)
	}
}

// source is the metadata upstream for tracks and artists.
type source struct {
	tracks  enrich.Resolver
	artists enrich.ArtistResolver

	// soundcloud is set when SoundCloud serves metadata; its client id may
	// arrive at runtime.
	soundcloud *soundcloud.Client
}

// openUpstream picks the metadata source: Spotify when app credentials are
// configured and no SoundCloud client id is, otherwise SoundCloud, whose
// client id may be registered later.
func openUpstream(ctx context.Context, cfg *config.Config, logger *slog.Logger) (source, error) {
	spotifyConfigured := cfg.Spotify.ClientID != "" || cfg.Spotify.ClientSecret != ""
	if cfg.SoundCloud.ClientID != "" || !spotifyConfigured {
		scCfg := &soundcloud.Config{
			ClientID: cfg.SoundCloud.ClientID,
			BaseURL:  cfg.SoundCloud.BaseURL,
		}
		if err := scCfg.Validate(); err != nil {
			logger.Debug("soundcloud configured without client id", "error", err)
		}
		client := soundcloud.NewClient(scCfg)
		return source{tracks: client, artists: client, soundcloud: client}, nil
	}

	cache, err := tokenCache(cfg)
	if err != nil {
		return source{}, err
	}
	httpClient, err := auth.ClientCredentials(ctx, auth.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		Logger:       logger,
	}, cache)
	if errors.Is(err, auth.ErrMissingCredentials) {
		return source{}, fmt.Errorf("spotify: %w", err)
	}
	if err != nil {
		return source{}, err
	}
	resolver := spotify.NewResolver(spotify.NewClient(httpClient))
	return source{tracks: resolver, artists: resolver}, nil
}

func tokenCache(cfg *config.Config) (*auth.TokenCache, error) {
	if cfg.Spotify.TokenCache != "" {
		return auth.NewTokenCache(cfg.Spotify.TokenCache), nil
	}
	return auth.DefaultTokenCache()
}

// clientIDStore applies SoundCloud client ids registered at runtime and
// keeps them across restarts.
type clientIDStore struct {
	client *soundcloud.Client
	kv     *kv.Store
}

// SetClientID switches the client to id and persists it.
func (c *clientIDStore) SetClientID(ctx context.Context, id string) error {
	c.client.SetClientID(id)
	if err := c.kv.SetNow(ctx, KeySoundCloudClientID, id); err != nil {
		return fmt.Errorf("saving client id: %w", err)
	}
	return nil
}

// restore applies the last registered client id. A registered id replaces
// the configured one since ids rotate.
func (c *clientIDStore) restore(ctx context.Context) error {
	var id string
	if _, err := c.kv.Get(ctx, KeySoundCloudClientID, &id); err != nil {
		return err
	}
	if id != "" {
		c.client.SetClientID(id)
	}
	return nil
}
