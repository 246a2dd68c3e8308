package recap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/justestif/go-listening-tracker/internal/enrich"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
)

// KeyRecaps holds every saved recap, keyed by year.
const KeyRecaps = "recaps"

// ErrNotFound is returned when no recap was saved for a year.
var ErrNotFound = errors.New("recap not found")

// Service generates recaps and keeps the latest one per year.
type Service struct {
	gen     *Generator
	kv      *kv.Store
	logger  *slog.Logger
	artists enrich.ArtistResolver
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithArtistResolver fills artist names and avatars of the top artists from
// r. Lookup failures leave the entry as aggregated.
func WithArtistResolver(r enrich.ArtistResolver) ServiceOption {
	return func(s *Service) {
		s.artists = r
	}
}

// NewService creates a Service. A nil logger means slog.Default().
func NewService(gen *Generator, store *kv.Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{gen: gen, kv: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAndSave builds the recap for year and persists it immediately,
// replacing any previous recap for that year.
func (s *Service) GenerateAndSave(ctx context.Context, year int) (*Recap, error) {
	r := s.gen.Generate(year)
	s.decorateArtists(ctx, r)

	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	all[strconv.Itoa(year)] = r

	if err := s.kv.SetNow(ctx, KeyRecaps, all); err != nil {
		return nil, fmt.Errorf("saving recap for %d: %w", year, err)
	}

	s.logger.Info("recap generated",
		"year", year,
		"tracks", r.Summary.TotalTracks,
		"seconds", r.Summary.TotalSeconds,
	)
	return r, nil
}

// Saved returns the stored recap for year or ErrNotFound.
func (s *Service) Saved(ctx context.Context, year int) (*Recap, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := all[strconv.Itoa(year)]
	if !ok || r == nil {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *Service) decorateArtists(ctx context.Context, r *Recap) {
	if s.artists == nil {
		return
	}
	for i := range r.TopArtists {
		e := &r.TopArtists[i]
		a, err := s.artists.ResolveArtist(ctx, e.ID)
		if err != nil {
			s.logger.Debug("artist profile unavailable", "artist_id", e.ID, "error", err)
			continue
		}
		e.AvatarURL = a.AvatarURL
		if a.DisplayName != "" && a.DisplayName != model.UnknownArtist {
			e.Name = a.DisplayName
		}
	}
}

func (s *Service) load(ctx context.Context) (map[string]*Recap, error) {
	all := make(map[string]*Recap)
	if _, err := s.kv.Get(ctx, KeyRecaps, &all); err != nil {
		return nil, fmt.Errorf("loading recaps: %w", err)
	}
	if all == nil {
		all = make(map[string]*Recap)
	}
	return all, nil
}
