package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrMissingCredentials is returned when the client id or secret is empty.
var ErrMissingCredentials = errors.New("missing spotify client id or client secret")

// Config holds the application credentials for the client credentials flow.
type Config struct {
	ClientID     string
	ClientSecret string
	// TokenURL defaults to the Spotify accounts endpoint.
	TokenURL string
	Logger   *slog.Logger
}

// ClientCredentials returns an HTTP client that authenticates with an app
// token. A cached token is reused until it expires; fresh tokens are written
// back to cache. A nil cache disables persistence.
func ClientCredentials(ctx context.Context, cfg Config, cache *TokenCache) (*http.Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}

	var cached *oauth2.Token
	if cache != nil {
		token, err := cache.Load(cfg.ClientID)
		if err != nil {
			logger.Warn("discarding unreadable token cache", "path", cache.Path(), "error", err)
			if err := cache.Clear(); err != nil {
				logger.Warn("clearing token cache", "error", err)
			}
		}
		cached = token
	}

	src := &savingTokenSource{
		base:     cc.TokenSource(ctx),
		clientID: cfg.ClientID,
		cache:    cache,
		logger:   logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(cached, src)), nil
}

// savingTokenSource persists every token it fetches.
type savingTokenSource struct {
	mu       sync.Mutex
	base     oauth2.TokenSource
	clientID string
	cache    *TokenCache
	logger   *slog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("fetching app token: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Save(s.clientID, token); err != nil {
			s.logger.Warn("failed to cache token", "error", err)
		}
	}
	return token, nil
}
