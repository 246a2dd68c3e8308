package tracker

import (
	"context"

	"github.com/justestif/go-listening-tracker/internal/model"
)

func (t *Tracker) requestEnrichmentLocked(track model.Track) {
	if t.resolver == nil || t.closed {
		return
	}
	t.inflight.Add(1)
	go t.enrich(track)
}

// enrich resolves track and merges the result into the current session when
// it still refers to the same track. Failures are ignored.
func (t *Tracker) enrich(track model.Track) {
	defer t.inflight.Done()
	defer t.recoverCallback("enrich")

	ctx, cancel := context.WithTimeout(t.baseCtx, t.enrichTimeout)
	defer cancel()

	enriched, err := t.resolver.ResolveTrack(ctx, track.ID)
	if err != nil {
		t.logger.Debug("enrichment unavailable", "track", track.ID, "error", err)
		return
	}
	if enriched == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.session
	if current == nil || !(current.Track.SameIdentity(track) || current.Track.SameIdentity(*enriched)) {
		t.logger.Debug("discarding enrichment for inactive track", "track", track.ID)
		return
	}

	merged := current.Track.Merge(*enriched)
	t.session = current.withTrack(merged)

	if err := t.stats.SaveTrackInfo(merged); err != nil {
		t.logger.Warn("saving enriched metadata", "track", merged.ID, "error", err)
	}
	if enriched.Valid() && enriched.ID != merged.ID {
		if err := t.stats.SaveTrackInfo(*enriched); err != nil {
			t.logger.Warn("saving enriched metadata", "track", enriched.ID, "error", err)
		}
	}
	t.logger.Debug("merged enrichment", "track", merged.ID, "title", merged.Title)
}
