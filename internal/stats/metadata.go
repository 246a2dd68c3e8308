package stats

import (
	"cmp"
	"slices"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// SaveTrackInfo merges track into the metadata cache. Non-empty fields of
// track overlay the cached entry, so page data saved on replay never clears
// resolved fields. CachedAt is stamped unless a sparse update lands on a
// resolved entry, which keeps its resolution time for TTL checks. When the
// cache exceeds its capacity the entries with the oldest CachedAt are
// evicted. Tracks without an ID are ignored.
func (s *Store) SaveTrackInfo(track model.Track) error {
	if !track.Valid() {
		return nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := track
	merged.CachedAt = now
	if existing, ok := s.metadata[track.ID]; ok {
		merged = existing.Merge(track)
		merged.CachedAt = now
		if existing.Resolved() && !track.Resolved() {
			merged.CachedAt = existing.CachedAt
		}
	}

	s.metadata[track.ID] = merged
	s.evictLocked()
	return s.persistMetadataLocked()
}

// TrackInfo returns the cached metadata for id.
func (s *Store) TrackInfo(id string) (model.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.metadata[id]
	return t, ok
}

// TrackIDs returns every track with accrued stats, sorted.
func (s *Store) TrackIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tracks))
	for id := range s.tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// MetadataLen returns the number of cached metadata entries.
func (s *Store) MetadataLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metadata)
}

func (s *Store) evictLocked() {
	excess := len(s.metadata) - s.capacity
	if excess <= 0 {
		return
	}

	entries := make([]model.Track, 0, len(s.metadata))
	for _, t := range s.metadata {
		entries = append(entries, t)
	}
	slices.SortFunc(entries, func(a, b model.Track) int {
		if c := a.CachedAt.Compare(b.CachedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, t := range entries[:excess] {
		delete(s.metadata, t.ID)
		s.logger.Debug("evicted track metadata", "track", t.ID)
	}
}
