package tracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// snapshot is the best-effort record of the active session used to resume
// it after a restart.
type snapshot struct {
	SessionID      string      `json:"sessionId"`
	Track          model.Track `json:"currentTrack"`
	StartedAt      time.Time   `json:"startedAt"`
	SessionSeconds float64     `json:"sessionSeconds"`
	HasCountedPlay bool        `json:"hasCountedPlay"`
	IsPlaying      bool        `json:"isPlaying"`
	SavedAt        time.Time   `json:"savedAt"`
}

// saveSnapshotLocked queues the current session, or null when there is none.
func (t *Tracker) saveSnapshotLocked() {
	var snap *snapshot
	if s := t.session; s != nil {
		snap = &snapshot{
			SessionID:      s.ID,
			Track:          s.Track,
			StartedAt:      s.StartedAt,
			SessionSeconds: s.Seconds,
			HasCountedPlay: s.HasCountedPlay,
			IsPlaying:      t.state == Playing,
			SavedAt:        t.clock.Now(),
		}
	}
	if err := t.kv.Set(KeySnapshot, snap); err != nil {
		t.logger.Warn("saving session snapshot", "error", err)
	}
}

func (t *Tracker) readSnapshot(ctx context.Context) *snapshot {
	var snap *snapshot
	if _, err := t.kv.Get(ctx, KeySnapshot, &snap); err != nil {
		t.logger.Warn("reading session snapshot", "error", err)
		return nil
	}
	if snap == nil || !snap.Track.Valid() {
		return nil
	}
	return snap
}

// restoreLocked resumes a recent snapshot in Paused. An older one is closed
// as a finished session counted on the day it was saved.
func (t *Tracker) restoreLocked(snap *snapshot) {
	s := &Session{
		ID:             snap.SessionID,
		Track:          snap.Track,
		StartedAt:      snap.StartedAt,
		Seconds:        snap.SessionSeconds,
		HasCountedPlay: snap.HasCountedPlay,
	}
	if s.ID == "" {
		s.ID = newSession(snap.Track, snap.StartedAt).ID
	}
	t.session = s

	if age := t.clock.Now().Sub(snap.SavedAt); age > SnapshotMaxAge {
		t.logger.Info("closing stale session snapshot", "track", s.Track.ID, "age", age.Round(time.Second))
		t.closeSessionAtLocked(snap.SavedAt)
		return
	}

	t.state = Paused
	t.logger.Info("restored session snapshot", "track", s.Track.ID, "seconds", s.Seconds)
}

func (t *Tracker) onSettingsChanged(_ string, value []byte) {
	enabled := true
	if value != nil {
		var doc settingsDoc
		if err := json.Unmarshal(value, &doc); err != nil {
			t.logger.Warn("decoding external settings change", "error", err)
			return
		}
		enabled = doc.TrackingEnabled == nil || *doc.TrackingEnabled
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyEnabledLocked(enabled)
}
