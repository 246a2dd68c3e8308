// Package soundcloud resolves track metadata from the SoundCloud API.
package soundcloud

import "errors"

// DefaultBaseURL is the public v2 API host.
const DefaultBaseURL = "https://api-v2.soundcloud.com"

// ErrMissingClientID is returned when no client id is configured.
var ErrMissingClientID = errors.New("missing soundcloud client id")

// Config holds SoundCloud API configuration.
type Config struct {
	ClientID string
	BaseURL  string
}

// Validate reports whether cfg can be used to build a Client.
func (c *Config) Validate() error {
	if c == nil || c.ClientID == "" {
		return ErrMissingClientID
	}
	return nil
}
