// Package auth provides Spotify app authentication with an on-disk token
// cache.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// ErrNilToken is returned when saving an empty token.
var ErrNilToken = errors.New("nil app token")

const (
	appDirName    = "listening-tracker"
	tokenFileName = "spotify-app-token.json"
)

// cachedToken is the file layout: the app token plus the client id it was
// issued to, so rotated credentials never reuse a stale token.
type cachedToken struct {
	ClientID string        `json:"clientId"`
	Token    *oauth2.Token `json:"token"`
}

// TokenCache keeps the current app token in a single file.
type TokenCache struct {
	path string
}

// DefaultTokenCache places the cache under the user config directory.
func DefaultTokenCache() (*TokenCache, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating config dir: %w", err)
	}
	return NewTokenCache(filepath.Join(base, appDirName, tokenFileName)), nil
}

// NewTokenCache returns a cache backed by the file at path.
func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path}
}

// Path returns the cache file.
func (c *TokenCache) Path() string {
	return c.path
}

// Load returns the token cached for clientID. A missing file or a token
// issued to another client yields (nil, nil).
func (c *TokenCache) Load(clientID string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading app token: %w", err)
	}

	var entry cachedToken
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decoding app token: %w", err)
	}
	if entry.ClientID != clientID || entry.Token == nil {
		return nil, nil
	}
	return entry.Token, nil
}

// Save records token as issued to clientID. The file is replaced atomically
// with owner-only permissions.
func (c *TokenCache) Save(clientID string, token *oauth2.Token) error {
	if token == nil {
		return ErrNilToken
	}
	raw, err := json.Marshal(cachedToken{ClientID: clientID, Token: token})
	if err != nil {
		return fmt.Errorf("encoding app token: %w", err)
	}
	return writeFileAtomic(c.path, raw)
}

// Clear drops the cached token.
func (c *TokenCache) Clear() error {
	err := os.Remove(c.path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("clearing app token: %w", err)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".app-token-*")
	if err != nil {
		return fmt.Errorf("staging app token: %w", err)
	}
	defer os.Remove(f.Name())

	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("staging app token: %w", werr)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("installing app token: %w", err)
	}
	return nil
}
