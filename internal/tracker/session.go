package tracker

import (
	"time"

	"github.com/google/uuid"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// Session is one continuous listening interval for a single track.
type Session struct {
	ID             string      `json:"id"`
	Track          model.Track `json:"track"`
	StartedAt      time.Time   `json:"startedAt"`
	Seconds        float64     `json:"sessionSeconds"`
	HasCountedPlay bool        `json:"hasCountedPlay"`
	Completed      bool        `json:"completed"`
}

func newSession(track model.Track, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Track:     track,
		StartedAt: now,
	}
}

// withSeconds returns a copy of s with delta accrued.
func (s Session) withSeconds(delta float64) *Session {
	s.Seconds += delta
	return &s
}

// withTrack returns a copy of s referring to track.
func (s Session) withTrack(track model.Track) *Session {
	s.Track = track
	return &s
}

// closed returns a copy of s with Completed decided from the track duration.
func (s Session) closed() *Session {
	d := s.Track.Duration()
	s.Completed = d > 0 && s.Seconds >= CompletionRatio*d.Seconds()
	return &s
}

func (t *Tracker) startSessionLocked(track model.Track, now time.Time) {
	t.session = newSession(track, now)

	if err := t.stats.SaveTrackInfo(track); err != nil {
		t.logger.Warn("saving track metadata", "track", track.ID, "error", err)
	}
	t.logger.Debug("session started", "session", t.session.ID, "track", track.ID, "title", track.Title)

	t.requestEnrichmentLocked(track)
}

// closeSessionLocked flushes the active session exactly once. Sessions under
// MinSessionSeconds are discarded.
func (t *Tracker) closeSessionLocked() {
	t.closeSessionAtLocked(t.clock.Now())
}

// closeSessionAtLocked closes the active session, counting it on the local
// date of at.
func (t *Tracker) closeSessionAtLocked(at time.Time) {
	if t.session == nil {
		return
	}
	s := t.session.closed()
	t.session = nil
	t.saveSnapshotLocked()

	if s.Seconds < MinSessionSeconds {
		t.logger.Debug("discarding short session", "session", s.ID, "seconds", s.Seconds)
		return
	}

	t.lastSession = s
	if err := t.stats.RecordSessionAt(s.Track.ID, s.Seconds, s.Completed, at); err != nil {
		t.logger.Error("recording session", "session", s.ID, "track", s.Track.ID, "error", err)
	}
	t.logger.Debug("session closed",
		"session", s.ID,
		"track", s.Track.ID,
		"seconds", s.Seconds,
		"completed", s.Completed,
	)
}

// accrueLocked adds the wall-clock time since the last tick to the session
// and the aggregation store. The delta is clamped to [0, MaxTickDelta] and
// lastTick always advances, so a failed accrual loses its slice rather than
// counting it twice.
func (t *Tracker) accrueLocked(now time.Time) {
	delta := now.Sub(t.lastTick)
	t.lastTick = now

	if t.session == nil || delta <= 0 {
		return
	}
	delta = min(delta, MaxTickDelta)
	seconds := delta.Seconds()
	id := t.session.Track.ID

	if err := t.stats.AddListeningTime(id, seconds); err != nil {
		t.logger.Error("accruing listening time", "track", id, "seconds", seconds, "error", err)
		return
	}
	t.session = t.session.withSeconds(seconds)

	if err := t.stats.MarkTrackPlayed(id); err != nil {
		t.logger.Warn("marking track played", "track", id, "error", err)
	}

	if !t.session.HasCountedPlay && t.session.Seconds >= PlayThresholdSeconds {
		if err := t.stats.IncrementPlayCount(id); err != nil {
			t.logger.Error("counting play", "track", id, "error", err)
			return
		}
		counted := *t.session
		counted.HasCountedPlay = true
		t.session = &counted
		t.logger.Debug("play counted", "track", id, "session", counted.ID)
	}
}

func (t *Tracker) startTickingLocked(now time.Time) {
	t.lastTick = now
	if t.tickTimer != nil {
		return
	}
	t.tickTimer = t.sched.Every(t.tickInterval, t.onTick)
}

func (t *Tracker) stopTickingLocked() {
	if t.tickTimer != nil {
		t.tickTimer.Stop()
		t.tickTimer = nil
	}
}

// Tick accrues the time elapsed since the previous tick. It does nothing
// unless a track is playing.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Playing || !t.enabled || t.session == nil {
		return
	}
	t.accrueLocked(t.clock.Now())
}

func (t *Tracker) onTick() {
	defer t.recoverCallback("tick")
	t.Tick()
}

func (t *Tracker) onSave() {
	defer t.recoverCallback("save")

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Playing {
		t.saveSnapshotLocked()
	}
}

func (t *Tracker) recoverCallback(name string) {
	if r := recover(); r != nil {
		t.logger.Error("timer callback panicked", "callback", name, "panic", r)
	}
}
