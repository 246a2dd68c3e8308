package stats

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/justestif/go-listening-tracker/internal/model"
)

// SortField selects the ranking metric for TopTracks.
type SortField string

// Ranking metrics.
const (
	SortByPlayCount    SortField = "playCount"
	SortByTotalSeconds SortField = "totalSeconds"
)

// DefaultTopLimit is used when TopOptions.Limit is not positive.
const DefaultTopLimit = 10

// TopOptions selects and orders TopTracks results.
type TopOptions struct {
	SortBy SortField
	Limit  int
	Period Period
	// Range overrides Period when set.
	Range *Range
}

// TopTrack is a ranked track joined with its cached metadata. The Period
// fields hold the counters restricted to the requested range.
type TopTrack struct {
	TrackStats
	Track         *model.Track `json:"track"`
	PeriodPlays   int          `json:"periodPlays"`
	PeriodSeconds float64      `json:"periodSeconds"`
}

// Totals summarises a period.
type Totals struct {
	TotalSeconds float64 `json:"totalSeconds"`
	TotalTracks  int     `json:"totalTracks"`
	TotalPlays   int     `json:"totalPlays"`
	TotalArtists int     `json:"totalArtists"`
}

// Patterns folds daily buckets into fixed slots. ByDayOfWeek is indexed by
// time.Weekday and ByMonth by month minus one.
type Patterns struct {
	ByHour      [24]float64 `json:"byHour"`
	ByDayOfWeek [7]float64  `json:"byDayOfWeek"`
	ByMonth     [12]float64 `json:"byMonth"`
}

// TrackDetails joins a track's stats with its cached metadata.
type TrackDetails struct {
	Stats TrackStats   `json:"stats"`
	Track *model.Track `json:"track"`
}

// TopTracks ranks the tracks played inside the requested window. Ties are
// broken by track ID.
func (s *Store) TopTracks(opts TopOptions) []TopTrack {
	rng := s.resolve(opts.Period, opts.Range)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := make([]TopTrack, 0)
	for _, t := range s.sortedTracksLocked() {
		if !s.playedInLocked(t, rng) {
			continue
		}
		plays, seconds := periodCounters(t, rng)
		ranked = append(ranked, TopTrack{
			TrackStats:    t.clone(),
			Track:         s.metadataLocked(t.TrackID),
			PeriodPlays:   plays,
			PeriodSeconds: seconds,
		})
	}

	slices.SortFunc(ranked, func(a, b TopTrack) int {
		var c int
		if opts.SortBy == SortByTotalSeconds {
			c = cmp.Compare(b.PeriodSeconds, a.PeriodSeconds)
		} else {
			c = cmp.Compare(b.PeriodPlays, a.PeriodPlays)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.TrackID, b.TrackID)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// TotalStats sums the tracks played in period. For bounded periods only the
// in-range daily buckets contribute, never the lifetime totals.
func (s *Store) TotalStats(period Period) Totals {
	rng := s.resolve(period, nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	var totals Totals
	artists := make(map[string]struct{})
	for _, t := range s.sortedTracksLocked() {
		if !s.playedInLocked(t, rng) {
			continue
		}
		plays, seconds := periodCounters(t, rng)
		totals.TotalSeconds += seconds
		totals.TotalPlays += plays
		totals.TotalTracks++

		if meta, ok := s.metadata[t.TrackID]; ok && meta.ArtistID != "" {
			artists[meta.ArtistID] = struct{}{}
		}
	}
	totals.TotalArtists = len(artists)
	return totals
}

// DailyStatsForPeriod returns the daily records inside period ordered by date.
func (s *Store) DailyStatsForPeriod(period Period) []DailyStats {
	return s.DailyStatsInRange(s.resolve(period, nil))
}

// DailyStatsInRange returns the daily records inside rng ordered by date.
func (s *Store) DailyStatsInRange(rng Range) []DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]DailyStats, 0)
	for date, d := range s.daily {
		if rng.Contains(date) {
			result = append(result, d.clone())
		}
	}
	slices.SortFunc(result, func(a, b DailyStats) int {
		return cmp.Compare(a.Date, b.Date)
	})
	return result
}

// ListeningPatterns folds every daily record of year into hour, weekday and
// month slots.
func (s *Store) ListeningPatterns(year int) Patterns {
	rng := YearRange(year)

	s.mu.Lock()
	defer s.mu.Unlock()

	var p Patterns
	for _, date := range slices.Sorted(maps.Keys(s.daily)) {
		d := s.daily[date]
		if !rng.Contains(date) {
			continue
		}
		day, err := time.Parse(DateLayout, date)
		if err != nil {
			s.logger.Warn("skipping malformed daily record", "date", date)
			continue
		}
		p.ByDayOfWeek[day.Weekday()] += d.TotalSeconds
		p.ByMonth[day.Month()-1] += d.TotalSeconds
		for hour, seconds := range d.HourlySeconds {
			if hour >= 0 && hour < len(p.ByHour) {
				p.ByHour[hour] += seconds
			}
		}
	}
	return p
}

// GetTrackDetails returns the stats and metadata for id. It reports false
// when the track has neither.
func (s *Store) GetTrackDetails(id string) (TrackDetails, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, hasStats := s.tracks[id]
	meta := s.metadataLocked(id)
	if !hasStats && meta == nil {
		return TrackDetails{}, false
	}

	details := TrackDetails{Track: meta}
	if hasStats {
		details.Stats = t.clone()
	} else {
		details.Stats = TrackStats{TrackID: id, DailySeconds: make(map[string]float64)}
	}
	return details, true
}

func (s *Store) resolve(period Period, override *Range) Range {
	if override != nil {
		return *override
	}
	return period.Range(s.now())
}

func (s *Store) sortedTracksLocked() []*TrackStats {
	tracks := make([]*TrackStats, 0, len(s.tracks))
	for _, id := range slices.Sorted(maps.Keys(s.tracks)) {
		tracks = append(tracks, s.tracks[id])
	}
	return tracks
}

func (s *Store) metadataLocked(id string) *model.Track {
	meta, ok := s.metadata[id]
	if !ok {
		return nil
	}
	return &meta
}

func (s *Store) playedInLocked(t *TrackStats, rng Range) bool {
	if rng.Unbounded() {
		return true
	}
	if !t.LastPlayedAt.IsZero() && rng.Contains(t.LastPlayedAt.In(s.loc).Format(DateLayout)) {
		return true
	}
	for date := range t.DailySeconds {
		if rng.Contains(date) {
			return true
		}
	}
	for date := range t.DailyPlays {
		if rng.Contains(date) {
			return true
		}
	}
	return false
}

// periodCounters returns the plays and seconds of t inside rng. Records
// written before per-day plays existed fall back to the lifetime count.
func periodCounters(t *TrackStats, rng Range) (int, float64) {
	if rng.Unbounded() {
		return t.PlayCount, t.TotalSeconds
	}

	var seconds float64
	for _, date := range slices.Sorted(maps.Keys(t.DailySeconds)) {
		if rng.Contains(date) {
			seconds += t.DailySeconds[date]
		}
	}

	if t.DailyPlays == nil {
		return t.PlayCount, seconds
	}
	var plays int
	for date, v := range t.DailyPlays {
		if rng.Contains(date) {
			plays += v
		}
	}
	return plays, seconds
}
