// Package sync backfills track metadata for every track with listening stats.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/enrich"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
)

// KeyLastSync holds the time of the last completed sync.
const KeyLastSync = "lastSync"

// Common errors.
var (
	// ErrSyncTooRecent is returned when sync is attempted within the cooldown period.
	ErrSyncTooRecent = errors.New("sync attempted too recently")

	// ErrSyncInProgress is returned when another sync is still running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSourceNotReady is returned when the metadata source cannot serve
	// requests yet, for example before a client id is known.
	ErrSourceNotReady = errors.New("metadata source not ready")
)

// DefaultSyncCooldown is the default time between allowed syncs (1 hour).
const DefaultSyncCooldown = 1 * time.Hour

// Tracks is the view of the aggregation store a sync reads.
type Tracks interface {
	TrackIDs() []string
	TrackInfo(id string) (model.Track, bool)
}

// Batch resolves many ids at once.
type Batch interface {
	ResolveTracks(ctx context.Context, ids []string) []enrich.Result
}

// Service refreshes missing or stale track metadata.
type Service struct {
	tracks       Tracks
	batch        Batch
	kv           *kv.Store
	clock        clock.Clock
	logger       *slog.Logger
	syncCooldown time.Duration
	cacheTTL     time.Duration
	ready        func() bool
	running      atomic.Bool
}

// Option configures a Service.
type Option func(*Service)

// WithSyncCooldown sets the minimum time between syncs.
func WithSyncCooldown(d time.Duration) Option {
	return func(s *Service) {
		s.syncCooldown = d
	}
}

// WithCacheTTL sets the age after which cached metadata is refreshed.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

// WithReadiness makes SyncMetadata fail with ErrSourceNotReady while ready
// reports false.
func WithReadiness(ready func() bool) Option {
	return func(s *Service) {
		s.ready = ready
	}
}

// WithClock sets the clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a new sync service.
func New(tracks Tracks, batch Batch, store *kv.Store, opts ...Option) *Service {
	s := &Service{
		tracks:       tracks,
		batch:        batch,
		kv:           store,
		clock:        clock.Real{},
		logger:       slog.Default(),
		syncCooldown: DefaultSyncCooldown,
		cacheTTL:     enrich.CacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	RunID     string    `json:"runId"`
	Checked   int       `json:"checked"`
	Requested int       `json:"requested"`
	Resolved  int       `json:"resolved"`
	Failed    int       `json:"failed"`
	SyncedAt  time.Time `json:"syncedAt"`
}

// CanSync checks if enough time has passed since the last sync.
// It also returns the time when the next sync will be available.
func (s *Service) CanSync(ctx context.Context) (bool, time.Time, error) {
	last, err := s.LastSyncTime(ctx)
	if err != nil {
		return false, time.Time{}, err
	}
	if last == nil {
		return true, time.Time{}, nil
	}

	next := last.Add(s.syncCooldown)
	if s.clock.Now().Before(next) {
		return false, next, nil
	}
	return true, time.Time{}, nil
}

// LastSyncTime returns the last sync time, or nil if no sync has completed.
func (s *Service) LastSyncTime(ctx context.Context) (*time.Time, error) {
	var last time.Time
	found, err := s.kv.Get(ctx, KeyLastSync, &last)
	if err != nil {
		return nil, fmt.Errorf("reading last sync: %w", err)
	}
	if !found || last.IsZero() {
		return nil, nil
	}
	return &last, nil
}

// SyncMetadata resolves metadata for every tracked track whose cache entry
// is missing or stale. Returns ErrSyncTooRecent within the cooldown period
// unless force is set.
func (s *Service) SyncMetadata(ctx context.Context, force bool) (*SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	if s.ready != nil && !s.ready() {
		return nil, ErrSourceNotReady
	}

	if !force {
		canSync, nextTime, err := s.CanSync(ctx)
		if err != nil {
			return nil, err
		}
		if !canSync {
			return nil, fmt.Errorf("%w: next sync available at %s", ErrSyncTooRecent, nextTime.Format(time.RFC3339))
		}
	}

	now := s.clock.Now()
	result := &SyncResult{
		RunID: ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
	}
	logger := s.logger.With("run_id", result.RunID)

	ids := s.tracks.TrackIDs()
	result.Checked = len(ids)

	var stale []string
	for _, id := range ids {
		t, ok := s.tracks.TrackInfo(id)
		if !ok || !enrich.IsFresh(t, now, s.cacheTTL) {
			stale = append(stale, id)
		}
	}
	result.Requested = len(stale)

	logger.Info("metadata sync started", "tracks", result.Checked, "stale", result.Requested)

	for _, r := range s.batch.ResolveTracks(ctx, stale) {
		if r.Err != nil || r.Track == nil {
			result.Failed++
			logger.Debug("metadata not resolved", "track_id", r.TrackID, "error", r.Err)
			continue
		}
		result.Resolved++
	}

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("syncing metadata: %w", err)
	}

	result.SyncedAt = s.clock.Now()
	if err := s.kv.SetNow(ctx, KeyLastSync, result.SyncedAt); err != nil {
		return nil, fmt.Errorf("updating last sync: %w", err)
	}

	logger.Info("metadata sync finished",
		"resolved", result.Resolved,
		"failed", result.Failed,
	)
	return result, nil
}
