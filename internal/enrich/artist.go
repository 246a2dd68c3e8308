package enrich

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
)

// KeyArtistCache holds the artist profile cache.
const KeyArtistCache = "artistCache"

const (
	// ArtistCacheTTL is how long an artist profile stays fresh.
	ArtistCacheTTL = 7 * 24 * time.Hour

	// DefaultArtistCacheCapacity bounds the artist profile cache.
	DefaultArtistCacheCapacity = 200
)

// ArtistResolver looks up profile metadata for an artist id.
type ArtistResolver interface {
	ResolveArtist(ctx context.Context, id string) (*model.Artist, error)
}

// CachedArtistResolver puts a persisted, bounded profile cache in front of
// an upstream ArtistResolver. When the upstream fails a stale profile is
// returned instead.
type CachedArtistResolver struct {
	upstream ArtistResolver
	store    *kv.Store
	ttl      time.Duration
	capacity int
	clock    clock.Clock
	logger   *slog.Logger
	group    singleflight.Group

	mu      sync.Mutex
	artists map[string]model.Artist
}

// ArtistCacheOption configures a CachedArtistResolver.
type ArtistCacheOption func(*CachedArtistResolver)

// WithArtistTTL sets how long profiles stay fresh.
func WithArtistTTL(d time.Duration) ArtistCacheOption {
	return func(c *CachedArtistResolver) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithArtistCapacity bounds the number of cached profiles.
func WithArtistCapacity(n int) ArtistCacheOption {
	return func(c *CachedArtistResolver) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithArtistClock sets the clock used for freshness checks.
func WithArtistClock(clk clock.Clock) ArtistCacheOption {
	return func(c *CachedArtistResolver) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithArtistLogger sets the logger.
func WithArtistLogger(logger *slog.Logger) ArtistCacheOption {
	return func(c *CachedArtistResolver) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedArtistResolver wraps upstream with a cache persisted in store. A
// nil upstream serves cached profiles only. Call Load to read the persisted
// cache.
func NewCachedArtistResolver(upstream ArtistResolver, store *kv.Store, opts ...ArtistCacheOption) *CachedArtistResolver {
	c := &CachedArtistResolver{
		upstream: upstream,
		store:    store,
		ttl:      ArtistCacheTTL,
		capacity: DefaultArtistCacheCapacity,
		clock:    clock.Real{},
		logger:   slog.Default(),
		artists:  make(map[string]model.Artist),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the in-memory cache with the persisted one. A cache that
// cannot be read is logged and left empty.
func (c *CachedArtistResolver) Load(ctx context.Context) {
	artists := make(map[string]model.Artist)
	if _, err := c.store.Get(ctx, KeyArtistCache, &artists); err != nil {
		c.logger.Warn("reading artist cache, starting empty", "error", err)
	}
	if artists == nil {
		artists = make(map[string]model.Artist)
	}

	c.mu.Lock()
	c.artists = artists
	c.mu.Unlock()
}

// ResolveArtist returns the profile for id, from cache when fresh.
func (c *CachedArtistResolver) ResolveArtist(ctx context.Context, id string) (*model.Artist, error) {
	cached, ok := c.lookup(id)
	if ok && c.clock.Now().Sub(cached.CachedAt) < c.ttl {
		return &cached, nil
	}

	if c.upstream == nil {
		if ok {
			return &cached, nil
		}
		return nil, fmt.Errorf("resolving artist %s: %w", id, ErrUnavailable)
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.upstream.ResolveArtist(ctx, id)
	})
	if err != nil {
		if ok {
			c.logger.Debug("serving stale artist profile", "artist_id", id, "error", err)
			return &cached, nil
		}
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("resolving artist %s: %w: %w", id, ErrUnavailable, err)
	}

	artist, _ := v.(*model.Artist)
	if !artist.Valid() {
		if ok {
			return &cached, nil
		}
		return nil, fmt.Errorf("resolving artist %s: %w", id, ErrUnavailable)
	}

	resolved := *artist
	resolved.CachedAt = c.clock.Now()
	if err := c.save(id, resolved); err != nil {
		c.logger.Warn("caching artist profile", "artist_id", id, "error", err)
	}
	return &resolved, nil
}

// Len returns the number of cached profiles.
func (c *CachedArtistResolver) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.artists)
}

func (c *CachedArtistResolver) lookup(id string) (model.Artist, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.artists[id]
	return a, ok
}

// save stores a under id, evicting the profiles with the oldest CachedAt
// beyond capacity, and queues the cache for persistence.
func (c *CachedArtistResolver) save(id string, a model.Artist) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.artists[id] = a
	if excess := len(c.artists) - c.capacity; excess > 0 {
		ids := slices.SortedFunc(maps.Keys(c.artists), func(x, y string) int {
			if n := c.artists[x].CachedAt.Compare(c.artists[y].CachedAt); n != 0 {
				return n
			}
			return cmp.Compare(x, y)
		})
		for _, old := range ids[:excess] {
			delete(c.artists, old)
			c.logger.Debug("evicted artist profile", "artist_id", old)
		}
	}
	return c.store.Set(KeyArtistCache, c.artists)
}
