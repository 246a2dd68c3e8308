// Package tracker turns play, pause, change, end and tab-close signals into
// listening sessions. While a track plays a periodic tick accrues elapsed
// wall-clock time into the aggregation store, counts a play once the session
// crosses the play threshold, and closes the session when playback stops.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
)

// ErrInvalidTrack is returned for signals without a usable track id. The
// signal is dropped and no state changes.
var ErrInvalidTrack = errors.New("invalid track data")

// Defaults.
const (
	DefaultTickInterval  = time.Second
	DefaultSaveInterval  = 5 * time.Second
	DefaultEnrichTimeout = 10 * time.Second
)

// Accounting policy.
const (
	// MaxTickDelta caps the time accrued by a single tick.
	MaxTickDelta = 2 * time.Second
	// PlayThresholdSeconds is the session length at which a play is counted.
	PlayThresholdSeconds = 30
	// MinSessionSeconds is the length below which a closed session is discarded.
	MinSessionSeconds = 1
	// CompletionRatio of the track duration marks a session as completed.
	CompletionRatio = 0.9
	// SnapshotMaxAge is how old a session snapshot may be and still be resumed.
	SnapshotMaxAge = 30 * time.Minute
)

// Keys owned by the tracker.
const (
	KeySnapshot = "currentSessionSnapshot"
	KeySettings = "settings"
)

// Aggregator receives accrued time and closed sessions.
type Aggregator interface {
	AddListeningTime(trackID string, seconds float64) error
	IncrementPlayCount(trackID string) error
	RecordSessionAt(trackID string, seconds float64, completed bool, at time.Time) error
	MarkTrackPlayed(trackID string) error
	SaveTrackInfo(track model.Track) error
	Flush(ctx context.Context) error
}

// Resolver upgrades a sparse track into full metadata.
type Resolver interface {
	ResolveTrack(ctx context.Context, id string) (*model.Track, error)
}

// State is the playback state of the tracker.
type State int

// Playback states.
const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the tracker.
type Status struct {
	State          State        `json:"state"`
	IsPlaying      bool         `json:"isPlaying"`
	CurrentTrack   *model.Track `json:"currentTrack"`
	SessionSeconds float64      `json:"sessionSeconds"`
	Enabled        bool         `json:"enabled"`
	LastSession    *Session     `json:"lastSession,omitempty"`
}

// Tracker is the session state machine. All methods are safe for concurrent
// use; every transition completes under one lock.
type Tracker struct {
	stats    Aggregator
	resolver Resolver
	kv       *kv.Store

	clock         clock.Clock
	sched         clock.Scheduler
	logger        *slog.Logger
	tickInterval  time.Duration
	saveInterval  time.Duration
	enrichTimeout time.Duration

	mu          sync.Mutex
	state       State
	session     *Session
	lastSession *Session
	lastTick    time.Time
	tabs        map[string]bool
	enabled     bool
	started     bool
	closed      bool
	tickTimer   clock.Timer
	saveTimer   clock.Timer
	unsubscribe func()

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for tick deltas and timestamps.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithScheduler sets the scheduler for the tick and save timers.
func WithScheduler(s clock.Scheduler) Option {
	return func(t *Tracker) {
		if s != nil {
			t.sched = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTickInterval sets how often accrual runs while playing.
func WithTickInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.tickInterval = d
		}
	}
}

// WithSaveInterval sets how often the session snapshot is saved.
func WithSaveInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.saveInterval = d
		}
	}
}

// WithEnrichTimeout bounds each enrichment request.
func WithEnrichTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.enrichTimeout = d
		}
	}
}

// New creates a Tracker. resolver may be nil to disable enrichment.
func New(stats Aggregator, resolver Resolver, store *kv.Store, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		stats:         stats,
		resolver:      resolver,
		kv:            store,
		clock:         clock.Real{},
		sched:         clock.Real{},
		logger:        slog.Default(),
		tickInterval:  DefaultTickInterval,
		saveInterval:  DefaultSaveInterval,
		enrichTimeout: DefaultEnrichTimeout,
		tabs:          make(map[string]bool),
		enabled:       true,
		baseCtx:       ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start reads the tracking setting, restores a recent session snapshot,
// follows external settings changes and starts the periodic snapshot save.
func (t *Tracker) Start(ctx context.Context) error {
	enabled := t.readEnabled(ctx)
	snap := t.readSnapshot(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return kv.ErrClosed
	}
	if t.started {
		return nil
	}
	t.started = true
	t.enabled = enabled

	if snap != nil && t.enabled {
		t.restoreLocked(snap)
	}

	t.unsubscribe = t.kv.Subscribe(KeySettings, t.onSettingsChanged)
	t.saveTimer = t.sched.Every(t.saveInterval, t.onSave)

	t.logger.Info("tracker started", "enabled", t.enabled, "restored", t.session != nil)
	return nil
}

// Close accrues the pending interval, saves the session snapshot, stops the
// timers, waits for in-flight enrichment and flushes the aggregation store.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	if t.state == Playing {
		t.accrueLocked(t.clock.Now())
	}
	t.saveSnapshotLocked()
	t.stopTickingLocked()
	if t.saveTimer != nil {
		t.saveTimer.Stop()
		t.saveTimer = nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.mu.Unlock()

	t.cancel()
	t.inflight.Wait()

	if err := t.stats.Flush(ctx); err != nil {
		return fmt.Errorf("flushing on close: %w", err)
	}
	return nil
}

// Wait blocks until in-flight enrichment requests have finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

// Status returns the current state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		State:     t.state,
		IsPlaying: t.state == Playing,
		Enabled:   t.enabled,
	}
	if t.session != nil {
		track := t.session.Track
		st.CurrentTrack = &track
		st.SessionSeconds = t.session.Seconds
	}
	if t.lastSession != nil {
		last := *t.lastSession
		st.LastSession = &last
	}
	return st
}

// SetTrackingEnabled turns tracking on or off and persists the choice.
// Disabling closes any active session and stops ticking; enabling waits for
// the next play signal.
func (t *Tracker) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	t.mu.Lock()
	t.applyEnabledLocked(enabled)
	t.mu.Unlock()

	settings := make(map[string]any)
	if _, err := t.kv.Get(ctx, KeySettings, &settings); err != nil {
		t.logger.Warn("reading settings", "error", err)
	}
	settings["trackingEnabled"] = enabled

	if err := t.kv.SetNow(ctx, KeySettings, settings); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func (t *Tracker) applyEnabledLocked(enabled bool) {
	if t.enabled == enabled {
		return
	}
	t.enabled = enabled
	t.logger.Info("tracking toggled", "enabled", enabled)

	if enabled {
		return
	}
	if t.state == Playing {
		t.accrueLocked(t.clock.Now())
	}
	t.stopTickingLocked()
	t.closeSessionLocked()
	t.state = Idle
	clear(t.tabs)
}

type settingsDoc struct {
	TrackingEnabled *bool `json:"trackingEnabled,omitempty"`
}

func (t *Tracker) readEnabled(ctx context.Context) bool {
	var doc settingsDoc
	if _, err := t.kv.Get(ctx, KeySettings, &doc); err != nil {
		t.logger.Warn("reading settings, tracking stays enabled", "error", err)
		return true
	}
	return doc.TrackingEnabled == nil || *doc.TrackingEnabled
}
