// Package spotify resolves track metadata through the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zmb3/spotify/v2"

	"github.com/justestif/go-listening-tracker/internal/model"
)

var (
	// ErrTrackNotFound is returned for unknown track ids.
	ErrTrackNotFound = errors.New("track not found")

	// ErrArtistNotFound is returned for unknown artist ids.
	ErrArtistNotFound = errors.New("artist not found")
)

// API is the part of *spotify.Client the resolver uses.
type API interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
	GetArtist(ctx context.Context, id spotify.ID) (*spotify.FullArtist, error)
}

// Resolver looks up track and artist metadata through the Spotify Web API.
type Resolver struct {
	api API
}

// NewResolver creates a Resolver. The client should already be authenticated.
func NewResolver(api API) *Resolver {
	return &Resolver{api: api}
}

// NewClient builds an API client on top of an authenticated HTTP client.
func NewClient(httpClient *http.Client) *spotify.Client {
	return spotify.New(httpClient, spotify.WithRetry(true))
}

// ResolveTrack fetches the track with the given id.
func (r *Resolver) ResolveTrack(ctx context.Context, id string) (*model.Track, error) {
	full, err := r.api.GetTrack(ctx, spotify.ID(id))
	if err != nil {
		var apiErr spotify.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("getting track %s: %w", id, ErrTrackNotFound)
		}
		return nil, fmt.Errorf("getting track %s: %w", id, err)
	}
	if full == nil {
		return nil, fmt.Errorf("getting track %s: %w", id, ErrTrackNotFound)
	}

	t := convertTrack(*full)
	return &t, nil
}

// ResolveArtist fetches the artist with the given id.
func (r *Resolver) ResolveArtist(ctx context.Context, id string) (*model.Artist, error) {
	full, err := r.api.GetArtist(ctx, spotify.ID(id))
	if err != nil {
		var apiErr spotify.Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("getting artist %s: %w", id, ErrArtistNotFound)
		}
		return nil, fmt.Errorf("getting artist %s: %w", id, err)
	}
	if full == nil {
		return nil, fmt.Errorf("getting artist %s: %w", id, ErrArtistNotFound)
	}

	a := convertArtist(*full)
	return &a, nil
}

// convertTrack converts a Spotify FullTrack to model.Track with artists
// joined by ", ". The first artist provides the artist id.
func convertTrack(full spotify.FullTrack) model.Track {
	artists := make([]string, len(full.Artists))
	for i, a := range full.Artists {
		artists[i] = a.Name
	}

	t := model.Track{
		ID:         full.ID.String(),
		Title:      full.Name,
		ArtistName: strings.Join(artists, ", "),
		DurationMs: int64(full.Duration),
		Permalink:  full.ExternalURLs["spotify"],
	}
	if len(full.Artists) > 0 {
		t.ArtistID = full.Artists[0].ID.String()
	}
	if len(full.Album.Images) > 0 {
		t.ArtworkURL = full.Album.Images[0].URL
	}
	return t
}

// convertArtist converts a Spotify FullArtist to model.Artist. The largest
// image becomes the avatar.
func convertArtist(full spotify.FullArtist) model.Artist {
	a := model.Artist{
		ID:             full.ID.String(),
		DisplayName:    full.Name,
		Permalink:      full.ExternalURLs["spotify"],
		FollowersCount: int(full.Followers.Count),
	}
	if a.DisplayName == "" {
		a.DisplayName = model.UnknownArtist
	}
	if len(full.Images) > 0 {
		a.AvatarURL = full.Images[0].URL
	}
	return a
}
