package model

import (
	"strings"
	"time"
)

// UnknownArtist is the display name used when an artist has neither a full
// name nor a username.
const UnknownArtist = "Unknown Artist"

// Artist is profile metadata for the account that uploaded a track.
type Artist struct {
	ID             string    `json:"id"`
	Username       string    `json:"username,omitempty"`
	Permalink      string    `json:"permalink,omitempty"`
	DisplayName    string    `json:"displayName"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	FollowersCount int       `json:"followersCount"`
	TrackCount     int       `json:"trackCount"`
	City           string    `json:"city,omitempty"`
	Country        string    `json:"country,omitempty"`
	CachedAt       time.Time `json:"cachedAt,omitzero"`
}

// Valid reports whether the artist carries a usable identifier.
func (a *Artist) Valid() bool {
	return a != nil && strings.TrimSpace(a.ID) != ""
}
