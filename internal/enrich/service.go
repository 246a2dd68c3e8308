package enrich

import (
	"context"
	"sync"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// DefaultConcurrency is the number of concurrent lookups in a batch.
const DefaultConcurrency = 5

// Result holds the outcome for one id of a batch.
type Result struct {
	TrackID string
	Track   *model.Track
	Err     error // Non-nil if resolving failed
}

// Service resolves batches of ids through a Resolver.
type Service struct {
	resolver    Resolver
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency sets the number of concurrent lookups.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates a new batch service.
func NewService(resolver Resolver, opts ...Option) *Service {
	s := &Service{
		resolver:    resolver,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveTracks resolves ids concurrently. Results are returned in the same
// order as ids; individual failures are captured in Result.Err.
func (s *Service) ResolveTracks(ctx context.Context, ids []string) []Result {
	results := make([]Result, len(ids))
	if len(ids) == 0 {
		return results
	}

	type workItem struct {
		index int
		id    string
	}
	workCh := make(chan workItem, len(ids))
	for i, id := range ids {
		workCh <- workItem{index: i, id: id}
	}
	close(workCh)

	var wg sync.WaitGroup
	for range min(s.concurrency, len(ids)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workCh {
				if err := ctx.Err(); err != nil {
					results[work.index] = Result{TrackID: work.id, Err: err}
					continue
				}

				track, err := s.resolver.ResolveTrack(ctx, work.id)
				results[work.index] = Result{TrackID: work.id, Track: track, Err: err}
			}
		}()
	}

	wg.Wait()
	return results
}
