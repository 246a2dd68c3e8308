package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
)

type mockArtists struct {
	artists map[string]model.Artist
	err     error
	calls   atomic.Int32
}

func (m *mockArtists) ResolveArtist(_ context.Context, id string) (*model.Artist, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.artists[id]
	if !ok {
		return nil, errors.New("unknown artist")
	}
	return &a, nil
}

type artistFixture struct {
	resolver *CachedArtistResolver
	upstream *mockArtists
	store    *kv.Store
	backend  *kv.MemoryBackend
	clock    *clock.Fake
}

func newArtistFixture(t *testing.T, opts ...ArtistCacheOption) *artistFixture {
	t.Helper()
	fake := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := kv.NewMemoryBackend()
	logger := slog.New(slog.DiscardHandler)
	store := kv.NewStore(backend, kv.WithScheduler(fake), kv.WithLogger(logger))
	upstream := &mockArtists{artists: map[string]model.Artist{
		"7": {ID: "7", DisplayName: "Band", AvatarURL: "https://img/7.jpg"},
		"8": {ID: "8", DisplayName: "Other"},
		"9": {ID: "9", DisplayName: "Third"},
	}}

	opts = append([]ArtistCacheOption{WithArtistClock(fake), WithArtistLogger(logger)}, opts...)
	return &artistFixture{
		resolver: NewCachedArtistResolver(upstream, store, opts...),
		upstream: upstream,
		store:    store,
		backend:  backend,
		clock:    fake,
	}
}

func TestCachedArtistResolver_ServesFreshFromCache(t *testing.T) {
	f := newArtistFixture(t)
	ctx := context.Background()

	for range 3 {
		a, err := f.resolver.ResolveArtist(ctx, "7")
		if err != nil {
			t.Fatalf("ResolveArtist: %v", err)
		}
		if a.DisplayName != "Band" || !a.CachedAt.Equal(f.clock.Now()) {
			t.Errorf("artist = %+v", a)
		}
	}
	if n := f.upstream.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestCachedArtistResolver_RefreshesAfterTTL(t *testing.T) {
	f := newArtistFixture(t)
	ctx := context.Background()

	if _, err := f.resolver.ResolveArtist(ctx, "7"); err != nil {
		t.Fatalf("ResolveArtist: %v", err)
	}
	f.clock.Advance(ArtistCacheTTL - time.Minute)
	if _, err := f.resolver.ResolveArtist(ctx, "7"); err != nil {
		t.Fatalf("ResolveArtist: %v", err)
	}
	if n := f.upstream.calls.Load(); n != 1 {
		t.Fatalf("refreshed before TTL: %d calls", n)
	}

	f.clock.Advance(2 * time.Minute)
	if _, err := f.resolver.ResolveArtist(ctx, "7"); err != nil {
		t.Fatalf("ResolveArtist: %v", err)
	}
	if n := f.upstream.calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestCachedArtistResolver_StaleOnUpstreamFailure(t *testing.T) {
	f := newArtistFixture(t)
	ctx := context.Background()

	if _, err := f.resolver.ResolveArtist(ctx, "7"); err != nil {
		t.Fatalf("ResolveArtist: %v", err)
	}
	f.clock.Advance(ArtistCacheTTL + time.Hour)
	f.upstream.err = fmt.Errorf("upstream down")

	a, err := f.resolver.ResolveArtist(ctx, "7")
	if err != nil {
		t.Fatalf("expected stale profile, got %v", err)
	}
	if a.DisplayName != "Band" {
		t.Errorf("artist = %+v", a)
	}

	if _, err := f.resolver.ResolveArtist(ctx, "8"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("uncached failure error = %v, want ErrUnavailable", err)
	}
}

func TestCachedArtistResolver_EvictsOldest(t *testing.T) {
	f := newArtistFixture(t, WithArtistCapacity(2))
	ctx := context.Background()

	for _, id := range []string{"7", "8", "9"} {
		if _, err := f.resolver.ResolveArtist(ctx, id); err != nil {
			t.Fatalf("ResolveArtist(%s): %v", id, err)
		}
		f.clock.Advance(time.Minute)
	}

	if n := f.resolver.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
	if _, ok := f.resolver.lookup("7"); ok {
		t.Error("oldest profile was not evicted")
	}
}

func TestCachedArtistResolver_PersistsAndLoads(t *testing.T) {
	f := newArtistFixture(t)
	ctx := context.Background()

	if _, err := f.resolver.ResolveArtist(ctx, "7"); err != nil {
		t.Fatalf("ResolveArtist: %v", err)
	}
	if err := f.store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw, ok := f.backend.Raw(KeyArtistCache)
	if !ok {
		t.Fatal("artist cache not persisted")
	}
	var stored map[string]model.Artist
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("decoding artist cache: %v", err)
	}
	if stored["7"].DisplayName != "Band" {
		t.Errorf("stored = %+v", stored)
	}

	reopened := NewCachedArtistResolver(nil, kv.NewStore(f.backend), WithArtistClock(f.clock))
	reopened.Load(ctx)
	a, err := reopened.ResolveArtist(ctx, "7")
	if err != nil {
		t.Fatalf("ResolveArtist after Load: %v", err)
	}
	if a.AvatarURL != "https://img/7.jpg" {
		t.Errorf("artist = %+v", a)
	}
}
