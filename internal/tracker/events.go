package tracker

import (
	"time"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// OnTrackPlaying handles a "track playing" signal from tabID. A different
// track closes the current session and starts a new one; the same track
// resumes the current session.
func (t *Tracker) OnTrackPlaying(track *model.Track, tabID string) error {
	if !track.Valid() {
		return ErrInvalidTrack
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.acceptingLocked() {
		return nil
	}
	now := t.clock.Now()
	t.tabs[tabID] = true

	if t.session != nil && t.session.Track.ID == track.ID {
		if t.state != Playing {
			t.state = Playing
			t.startTickingLocked(now)
			t.logger.Debug("session resumed", "session", t.session.ID, "seconds", t.session.Seconds)
		}
		return nil
	}

	t.switchLocked(*track, now)
	return nil
}

// OnTrackChanged handles an explicit track change: the current session ends
// and a new one starts, even for the same track id.
func (t *Tracker) OnTrackChanged(track *model.Track, tabID string) error {
	if !track.Valid() {
		return ErrInvalidTrack
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.acceptingLocked() {
		return nil
	}
	t.tabs[tabID] = true
	t.switchLocked(*track, t.clock.Now())
	return nil
}

// OnTrackPaused handles a pause in tabID. Ticking stops once no tab reports
// playing.
func (t *Tracker) OnTrackPaused(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, known := t.tabs[tabID]; known {
		t.tabs[tabID] = false
	}
	if t.state != Playing || t.anyTabPlayingLocked() {
		return
	}

	t.accrueLocked(t.clock.Now())
	t.stopTickingLocked()
	t.state = Paused
	t.saveSnapshotLocked()
	t.logger.Debug("session paused", "seconds", t.sessionSecondsLocked())
}

// OnTrackEnded handles the end of playback in tabID. The session closes once
// no tab reports playing.
func (t *Tracker) OnTrackEnded(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, known := t.tabs[tabID]; known {
		t.tabs[tabID] = false
	}
	if t.anyTabPlayingLocked() {
		return
	}
	t.stopLocked()
}

// OnTabClosed forgets tabID. Closing a tab that was not playing changes
// nothing else; closing the last playing tab closes the session.
func (t *Tracker) OnTabClosed(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	playing := t.tabs[tabID]
	delete(t.tabs, tabID)
	if !playing || t.anyTabPlayingLocked() {
		return
	}
	t.stopLocked()
}

// switchLocked closes the current session and starts one for track.
func (t *Tracker) switchLocked(track model.Track, now time.Time) {
	if t.state == Playing {
		t.accrueLocked(now)
	}
	t.closeSessionLocked()
	t.startSessionLocked(track, now)
	t.state = Playing
	t.startTickingLocked(now)
}

// stopLocked closes the session and returns to Idle.
func (t *Tracker) stopLocked() {
	if t.state == Playing {
		t.accrueLocked(t.clock.Now())
	}
	t.stopTickingLocked()
	t.closeSessionLocked()
	t.state = Idle
}

func (t *Tracker) acceptingLocked() bool {
	if t.closed {
		return false
	}
	if !t.enabled {
		t.logger.Debug("tracking disabled, ignoring signal")
		return false
	}
	return true
}

func (t *Tracker) anyTabPlayingLocked() bool {
	for _, playing := range t.tabs {
		if playing {
			return true
		}
	}
	return false
}

func (t *Tracker) sessionSecondsLocked() float64 {
	if t.session == nil {
		return 0
	}
	return t.session.Seconds
}
