// Package model holds the track identity shared by the tracker, the
// aggregation store and the enrichment clients.
package model

import (
	"strings"
	"time"
)

// Track is identity plus display metadata for a piece of media.
// Tracks scraped from the page may carry a placeholder ID until enriched.
type Track struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ArtistID   string    `json:"artistId,omitempty"`
	ArtistName string    `json:"artistName,omitempty"`
	ArtworkURL string    `json:"artworkUrl,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Permalink  string    `json:"permalink,omitempty"`
	Genre      string    `json:"genre,omitempty"`
	CachedAt   time.Time `json:"cachedAt,omitzero"`
}

// Valid reports whether the track carries a usable identifier.
func (t *Track) Valid() bool {
	return t != nil && strings.TrimSpace(t.ID) != ""
}

// Resolved reports whether t carries the metadata only the source API
// provides: a title, an artist id and a duration.
func (t Track) Resolved() bool {
	return t.Title != "" && t.ArtistID != "" && t.DurationMs > 0
}

// Duration returns the track length, or zero when unknown.
func (t Track) Duration() time.Duration {
	if t.DurationMs <= 0 {
		return 0
	}
	return time.Duration(t.DurationMs) * time.Millisecond
}

// SameIdentity reports whether t and other refer to the same media, matching
// by ID or, when both carry one, by permalink.
func (t Track) SameIdentity(other Track) bool {
	if t.ID != "" && t.ID == other.ID {
		return true
	}
	a := normalizePermalink(t.Permalink)
	return a != "" && a == normalizePermalink(other.Permalink)
}

// Merge overlays the non-empty fields of enriched onto t. The ID of t is kept
// so that accounting continues under the same key.
func (t Track) Merge(enriched Track) Track {
	merged := t
	if enriched.Title != "" {
		merged.Title = enriched.Title
	}
	if enriched.ArtistID != "" {
		merged.ArtistID = enriched.ArtistID
	}
	if enriched.ArtistName != "" {
		merged.ArtistName = enriched.ArtistName
	}
	if enriched.ArtworkURL != "" {
		merged.ArtworkURL = enriched.ArtworkURL
	}
	if enriched.DurationMs > 0 {
		merged.DurationMs = enriched.DurationMs
	}
	if enriched.Permalink != "" {
		merged.Permalink = enriched.Permalink
	}
	if enriched.Genre != "" {
		merged.Genre = enriched.Genre
	}
	return merged
}

func normalizePermalink(p string) string {
	p = strings.TrimSpace(strings.ToLower(p))
	p = strings.TrimPrefix(p, "https://")
	p = strings.TrimPrefix(p, "http://")
	p = strings.TrimPrefix(p, "soundcloud.com")
	return strings.Trim(p, "/")
}
