// Package enrich resolves sparse track identities into full metadata.
package enrich

import (
	"context"
	"errors"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// ErrUnavailable is returned when metadata cannot be resolved. Callers treat
// it as a soft failure.
var ErrUnavailable = errors.New("enrichment unavailable")

// Resolver looks up full metadata for a track id.
type Resolver interface {
	ResolveTrack(ctx context.Context, id string) (*model.Track, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id string) (*model.Track, error)

// ResolveTrack calls f.
func (f ResolverFunc) ResolveTrack(ctx context.Context, id string) (*model.Track, error) {
	return f(ctx, id)
}
