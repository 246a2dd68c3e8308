// Package stats is the aggregation store: per-track counters, per-day time
// buckets and a bounded track metadata cache. Accounting happens in memory
// under one lock; persistence is handed to the kv store, which debounces it.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
)

// Keys under which the aggregates are persisted.
const (
	KeyTracks        = "tracks"
	KeyDailyStats    = "dailyStats"
	KeyMetadataCache = "trackMetadataCache"
)

// DefaultCacheCapacity bounds the track metadata cache.
const DefaultCacheCapacity = 500

// MinSessionSeconds is the floor below which a session is not recorded.
const MinSessionSeconds = 5

// TrackStats holds the lifetime counters for one track.
type TrackStats struct {
	TrackID       string             `json:"trackId"`
	PlayCount     int                `json:"playCount"`
	TotalSeconds  float64            `json:"totalSeconds"`
	FirstPlayedAt time.Time          `json:"firstPlayedAt,omitzero"`
	LastPlayedAt  time.Time          `json:"lastPlayedAt,omitzero"`
	DailySeconds  map[string]float64 `json:"dailySeconds"`
	DailyPlays    map[string]int     `json:"dailyPlays,omitempty"`
}

func (t TrackStats) clone() TrackStats {
	t.DailySeconds = maps.Clone(t.DailySeconds)
	t.DailyPlays = maps.Clone(t.DailyPlays)
	if t.DailySeconds == nil {
		t.DailySeconds = make(map[string]float64)
	}
	return t
}

// DailyStats holds the counters for one local calendar date.
type DailyStats struct {
	Date            string          `json:"date"`
	TotalSeconds    float64         `json:"totalSeconds"`
	SessionsCount   int             `json:"sessionsCount"`
	TracksPlayed    int             `json:"tracksPlayed"`
	TracksPlayedSet []string        `json:"tracksPlayedSet,omitempty"`
	HourlySeconds   map[int]float64 `json:"hourlySeconds"`
}

func (d DailyStats) clone() DailyStats {
	d.TracksPlayedSet = slices.Clone(d.TracksPlayedSet)
	d.HourlySeconds = maps.Clone(d.HourlySeconds)
	if d.HourlySeconds == nil {
		d.HourlySeconds = make(map[int]float64)
	}
	return d
}

// Store owns the aggregates.
type Store struct {
	kv       *kv.Store
	clock    clock.Clock
	loc      *time.Location
	logger   *slog.Logger
	capacity int

	mu       sync.Mutex
	tracks   map[string]*TrackStats
	daily    map[string]*DailyStats
	metadata map[string]model.Track
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for date and hour buckets.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheCapacity bounds the metadata cache.
func WithCacheCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// New creates an empty Store persisting through store. Call Load to read
// previously persisted aggregates.
func New(store *kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:       store,
		clock:    clock.Real{},
		loc:      time.Local,
		logger:   slog.Default(),
		capacity: DefaultCacheCapacity,
		tracks:   make(map[string]*TrackStats),
		daily:    make(map[string]*DailyStats),
		metadata: make(map[string]model.Track),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load upgrades the persisted aggregates to the current schema and replaces
// the in-memory aggregates with them. A record that cannot be read is logged
// and left empty.
func (s *Store) Load(ctx context.Context) {
	if ran, err := s.kv.Migrate(ctx, migrations); err != nil {
		s.logger.Warn("migrating aggregates", "error", err)
	} else if ran {
		s.logger.Info("aggregates migrated")
	}

	tracks := make(map[string]*TrackStats)
	daily := make(map[string]*DailyStats)
	metadata := make(map[string]model.Track)

	s.load(ctx, KeyTracks, &tracks)
	s.load(ctx, KeyDailyStats, &daily)
	s.load(ctx, KeyMetadataCache, &metadata)

	for id, t := range tracks {
		if t == nil {
			delete(tracks, id)
			continue
		}
		t.TrackID = id
		if t.DailySeconds == nil {
			t.DailySeconds = make(map[string]float64)
		}
	}
	for date, d := range daily {
		if d == nil {
			delete(daily, date)
			continue
		}
		d.Date = date
		if d.HourlySeconds == nil {
			d.HourlySeconds = make(map[int]float64)
		}
	}

	s.mu.Lock()
	s.tracks = tracks
	s.daily = daily
	s.metadata = metadata
	s.mu.Unlock()

	s.logger.Debug("loaded aggregates", "tracks", len(tracks), "days", len(daily), "metadata", len(metadata))
}

func (s *Store) load(ctx context.Context, key string, dst any) {
	if _, err := s.kv.Get(ctx, key, dst); err != nil {
		s.logger.Warn("reading aggregates, starting empty", "key", key, "error", err)
	}
}

// GetStats returns a copy of the stats for trackID, or a zero record that is
// not persisted until the first mutation.
func (s *Store) GetStats(trackID string) TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tracks[trackID]; ok {
		return t.clone()
	}
	return TrackStats{TrackID: trackID, DailySeconds: make(map[string]float64)}
}

// AddListeningTime accrues seconds to the track and to today's bucket as one
// step. Non-positive seconds are ignored.
func (s *Store) AddListeningTime(trackID string, seconds float64) error {
	if seconds <= 0 {
		return nil
	}

	now := s.now()
	date := now.Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.trackLocked(trackID, now)
	t.TotalSeconds += seconds
	t.DailySeconds[date] += seconds
	t.LastPlayedAt = now

	d := s.dayLocked(date)
	d.TotalSeconds += seconds
	d.HourlySeconds[now.Hour()] += seconds

	return errors.Join(s.persistTracksLocked(), s.persistDailyLocked())
}

// IncrementPlayCount adds one play to the track.
func (s *Store) IncrementPlayCount(trackID string) error {
	now := s.now()
	date := now.Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.trackLocked(trackID, now)
	t.PlayCount++
	if t.DailyPlays == nil {
		t.DailyPlays = make(map[string]int)
	}
	t.DailyPlays[date]++
	t.LastPlayedAt = now

	return s.persistTracksLocked()
}

// RecordSession counts a closed session for today. Sessions shorter than
// MinSessionSeconds are ignored.
func (s *Store) RecordSession(trackID string, seconds float64, completed bool) error {
	return s.RecordSessionAt(trackID, seconds, completed, s.clock.Now())
}

// RecordSessionAt counts a closed session on the local date of at.
func (s *Store) RecordSessionAt(trackID string, seconds float64, completed bool, at time.Time) error {
	if seconds < MinSessionSeconds {
		return nil
	}

	date := at.In(s.loc).Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dayLocked(date)
	d.SessionsCount++

	s.logger.Debug("recorded session", "track", trackID, "seconds", seconds, "completed", completed)
	return s.persistDailyLocked()
}

// MarkTrackPlayed adds trackID to today's distinct track set.
func (s *Store) MarkTrackPlayed(trackID string) error {
	date := s.now().Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dayLocked(date)
	if slices.Contains(d.TracksPlayedSet, trackID) {
		return nil
	}
	d.TracksPlayedSet = append(d.TracksPlayedSet, trackID)
	d.TracksPlayed = len(d.TracksPlayedSet)

	return s.persistDailyLocked()
}

// Flush writes every aggregate and waits for the kv store to persist it.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	err := errors.Join(s.persistTracksLocked(), s.persistDailyLocked(), s.persistMetadataLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.kv.Flush(ctx); err != nil {
		return fmt.Errorf("flushing aggregates: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().In(s.loc)
}

func (s *Store) trackLocked(trackID string, now time.Time) *TrackStats {
	t, ok := s.tracks[trackID]
	if !ok {
		t = &TrackStats{
			TrackID:       trackID,
			FirstPlayedAt: now,
			DailySeconds:  make(map[string]float64),
		}
		s.tracks[trackID] = t
	}
	if t.FirstPlayedAt.IsZero() {
		t.FirstPlayedAt = now
	}
	return t
}

func (s *Store) dayLocked(date string) *DailyStats {
	d, ok := s.daily[date]
	if !ok {
		d = &DailyStats{Date: date, HourlySeconds: make(map[int]float64)}
		s.daily[date] = d
	}
	return d
}

// The persist helpers queue a deferred write; the kv store encodes the
// aggregate under s.mu when it flushes.
func (s *Store) persistTracksLocked() error {
	if err := s.kv.SetFunc(KeyTracks, s.encoder(func() any { return s.tracks })); err != nil {
		return fmt.Errorf("queueing track stats: %w", err)
	}
	return nil
}

func (s *Store) persistDailyLocked() error {
	if err := s.kv.SetFunc(KeyDailyStats, s.encoder(func() any { return s.daily })); err != nil {
		return fmt.Errorf("queueing daily stats: %w", err)
	}
	return nil
}

func (s *Store) persistMetadataLocked() error {
	if err := s.kv.SetFunc(KeyMetadataCache, s.encoder(func() any { return s.metadata })); err != nil {
		return fmt.Errorf("queueing metadata cache: %w", err)
	}
	return nil
}

// encoder returns a kv.Encoder that marshals the current value of doc.
// doc is evaluated under s.mu because Load swaps the maps.
func (s *Store) encoder(doc func() any) kv.Encoder {
	return func() ([]byte, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return json.Marshal(doc())
	}
}
