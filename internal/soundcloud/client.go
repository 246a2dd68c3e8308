package soundcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/justestif/go-listening-tracker/internal/model"
)

const userAgent = "listening-tracker/1.0"

var errNotFound = errors.New("not found")

// Sentinel errors.
var (
	// ErrRateLimited is returned when the API rate limit is exceeded after retries.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnauthorized is returned when the client id is rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTrackNotFound is returned for unknown track ids.
	ErrTrackNotFound = errors.New("track not found")

	// ErrArtistNotFound is returned for unknown user ids.
	ErrArtistNotFound = errors.New("artist not found")
)

// Client is a SoundCloud API client. The client id may be supplied after
// construction with SetClientID; until then every lookup fails with
// ErrMissingClientID.
type Client struct {
	mu       sync.RWMutex
	clientID string

	httpClient  *http.Client
	baseURL     string
	retryDelays []time.Duration
}

// NewClient creates a new SoundCloud API client from the provided configuration.
func NewClient(cfg *Config) *Client {
	base := DefaultBaseURL
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		clientID: cfg.ClientID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:     base,
		retryDelays: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// SetClientID replaces the client id used for subsequent requests.
func (c *Client) SetClientID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = strings.TrimSpace(id)
}

// ClientID returns the current client id.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// Ready reports whether a client id is set.
func (c *Client) Ready() bool {
	return c.ClientID() != ""
}

// resourceURL builds the request URL for path with the current client id.
func (c *Client) resourceURL(path string) (string, error) {
	id := c.ClientID()
	if id == "" {
		return "", ErrMissingClientID
	}
	params := url.Values{"client_id": {id}}
	return c.baseURL + path + "?" + params.Encode(), nil
}

// ResolveTrack fetches the track with the given id and normalizes it.
func (c *Client) ResolveTrack(ctx context.Context, id string) (*model.Track, error) {
	reqURL, err := c.resourceURL("/tracks/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("fetching track %s: %w", id, err)
	}

	body, err := c.doRequest(ctx, reqURL)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("fetching track %s: %w", id, ErrTrackNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching track %s: %w", id, err)
	}

	var resp apiTrack
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing track response: %w", err)
	}
	if resp.ID == 0 {
		return nil, fmt.Errorf("fetching track %s: %w", id, ErrTrackNotFound)
	}

	t := normalizeTrack(resp)
	return &t, nil
}

// ResolveArtist fetches the user profile with the given id and normalizes it.
func (c *Client) ResolveArtist(ctx context.Context, id string) (*model.Artist, error) {
	reqURL, err := c.resourceURL("/users/" + url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("fetching artist %s: %w", id, err)
	}

	body, err := c.doRequest(ctx, reqURL)
	if errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("fetching artist %s: %w", id, ErrArtistNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching artist %s: %w", id, err)
	}

	var resp apiUser
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing artist response: %w", err)
	}
	if resp.ID == 0 {
		return nil, fmt.Errorf("fetching artist %s: %w", id, ErrArtistNotFound)
	}

	a := normalizeArtist(resp)
	return &a, nil
}

// doRequest performs an HTTP GET request with retry on rate limit.
// Retries up to len(retryDelays) times with the configured backoff.
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= len(c.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelays[attempt-1]):
			}
		}

		body, err := c.doSingleRequest(ctx, reqURL)
		if err == nil {
			return body, nil
		}

		if errors.Is(err, ErrRateLimited) {
			lastErr = err
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

func (c *Client) doSingleRequest(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("API error: %d", resp.StatusCode)
	}

	return body, nil
}

func normalizeTrack(in apiTrack) model.Track {
	t := model.Track{
		ID:         strconv.FormatInt(in.ID, 10),
		Title:      in.Title,
		DurationMs: in.Duration,
		Genre:      in.Genre,
		ArtworkURL: largeArtwork(in.ArtworkURL),
		Permalink:  permalinkPath(in),
	}
	if in.User != nil {
		if in.User.ID != 0 {
			t.ArtistID = strconv.FormatInt(in.User.ID, 10)
		}
		t.ArtistName = in.User.Username
		if t.ArtworkURL == "" {
			t.ArtworkURL = largeArtwork(in.User.AvatarURL)
		}
	}
	return t
}

func normalizeArtist(in apiUser) model.Artist {
	name := in.FullName
	if name == "" {
		name = in.Username
	}
	if name == "" {
		name = model.UnknownArtist
	}
	return model.Artist{
		ID:             strconv.FormatInt(in.ID, 10),
		Username:       in.Username,
		Permalink:      in.Permalink,
		DisplayName:    name,
		AvatarURL:      largeArtwork(in.AvatarURL),
		FollowersCount: in.FollowersCount,
		TrackCount:     in.TrackCount,
		City:           in.City,
		Country:        in.CountryCode,
	}
}

func largeArtwork(u string) string {
	return strings.Replace(u, "-large", "-t500x500", 1)
}

// permalinkPath returns "artist/track" from the permalink URL, or builds it
// from the user and track slugs.
func permalinkPath(in apiTrack) string {
	if in.PermalinkURL != "" {
		if u, err := url.Parse(in.PermalinkURL); err == nil && u.Path != "" {
			return strings.TrimPrefix(u.Path, "/")
		}
	}
	if in.User != nil && in.User.Permalink != "" && in.Permalink != "" {
		return in.User.Permalink + "/" + in.Permalink
	}
	return ""
}
