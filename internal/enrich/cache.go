package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/model"
)

// CacheTTL is the duration after which cached metadata is considered stale.
const CacheTTL = 24 * time.Hour

// Cache is the metadata store the cached resolver reads and fills.
type Cache interface {
	TrackInfo(id string) (model.Track, bool)
	SaveTrackInfo(track model.Track) error
}

// CachedResolver implements Resolver with a metadata cache in front of an
// upstream resolver. Fresh complete entries are served without a request;
// when the upstream fails a stale entry is returned instead.
type CachedResolver struct {
	upstream Resolver
	cache    Cache
	ttl      time.Duration
	clock    clock.Clock
	logger   *slog.Logger
	group    singleflight.Group
}

// CacheOption configures a CachedResolver.
type CacheOption func(*CachedResolver)

// WithTTL sets how long cached metadata stays fresh.
func WithTTL(d time.Duration) CacheOption {
	return func(c *CachedResolver) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock sets the clock used for freshness checks.
func WithClock(clk clock.Clock) CacheOption {
	return func(c *CachedResolver) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedResolver) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedResolver wraps upstream with cache. A nil upstream serves cached
// entries only.
func NewCachedResolver(upstream Resolver, cache Cache, opts ...CacheOption) *CachedResolver {
	c := &CachedResolver{
		upstream: upstream,
		cache:    cache,
		ttl:      CacheTTL,
		clock:    clock.Real{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveTrack returns metadata for id, from cache when fresh.
func (c *CachedResolver) ResolveTrack(ctx context.Context, id string) (*model.Track, error) {
	return c.resolve(ctx, id, false)
}

// Refresh resolves id from upstream even when the cache is fresh.
func (c *CachedResolver) Refresh(ctx context.Context, id string) (*model.Track, error) {
	return c.resolve(ctx, id, true)
}

// Fresh reports whether id has a complete cache entry younger than the TTL.
func (c *CachedResolver) Fresh(id string) bool {
	cached, ok := c.cache.TrackInfo(id)
	return ok && c.fresh(cached)
}

func (c *CachedResolver) resolve(ctx context.Context, id string, force bool) (*model.Track, error) {
	cached, ok := c.cache.TrackInfo(id)
	if ok && !force && c.fresh(cached) {
		return &cached, nil
	}

	if c.upstream == nil {
		if ok {
			return &cached, nil
		}
		return nil, fmt.Errorf("resolving %s: %w", id, ErrUnavailable)
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.upstream.ResolveTrack(ctx, id)
	})
	if err != nil {
		if ok {
			c.logger.Debug("serving stale track metadata", "track_id", id, "error", err)
			return &cached, nil
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("resolving %s: %w: %w", id, ErrUnavailable, err)
	}

	track, _ := v.(*model.Track)
	if !track.Valid() {
		if ok {
			return &cached, nil
		}
		return nil, fmt.Errorf("resolving %s: %w", id, ErrUnavailable)
	}

	resolved := *track
	if err := c.cache.SaveTrackInfo(resolved); err != nil {
		c.logger.Warn("caching track metadata", "track_id", id, "error", err)
	}
	if resolved.ID != id {
		// Scraped ids may be placeholders; keep the lookup key resolvable too.
		alias := resolved
		alias.ID = id
		if err := c.cache.SaveTrackInfo(alias); err != nil {
			c.logger.Warn("caching track metadata", "track_id", id, "error", err)
		}
	}
	return &resolved, nil
}

func (c *CachedResolver) fresh(t model.Track) bool {
	return IsFresh(t, c.clock.Now(), c.ttl)
}

// IsFresh reports whether t was cached within ttl of now and carries full
// metadata. Entries saved from scraped page data lack an artist id or
// duration and are never fresh.
func IsFresh(t model.Track, now time.Time, ttl time.Duration) bool {
	if t.CachedAt.IsZero() || now.Sub(t.CachedAt) >= ttl {
		return false
	}
	return t.Resolved()
}
