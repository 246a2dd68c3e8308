// Package recap builds yearly listening summaries from the aggregation store.
package recap

import (
	"cmp"
	"slices"
	"time"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/stats"
)

const (
	candidateLimit = 100
	topLimit       = 10
	unknownLabel   = "Unknown"
)

// Source is the read-only view of the aggregation store a recap needs.
type Source interface {
	TopTracks(opts stats.TopOptions) []stats.TopTrack
	ListeningPatterns(year int) stats.Patterns
	DailyStatsInRange(rng stats.Range) []stats.DailyStats
}

// Recap is the yearly summary.
type Recap struct {
	Year        int            `json:"year"`
	GeneratedAt time.Time      `json:"generatedAt"`
	Summary     Summary        `json:"summary"`
	TopTracks   []TrackEntry   `json:"topTracks"`
	TopArtists  []ArtistEntry  `json:"topArtists"`
	Patterns    stats.Patterns `json:"patterns"`
}

// Summary holds the yearly totals and peaks. Peaks are nil when there is no
// listening time for the year. MostActiveDay follows time.Weekday and
// MostActiveMonth runs from 1 to 12.
type Summary struct {
	TotalSeconds    float64 `json:"totalSeconds"`
	TotalTracks     int     `json:"totalTracks"`
	TotalArtists    int     `json:"totalArtists"`
	TotalPlays      int     `json:"totalPlays"`
	TotalSessions   int     `json:"totalSessions"`
	MostActiveHour  *int    `json:"mostActiveHour"`
	MostActiveDay   *int    `json:"mostActiveDay"`
	MostActiveMonth *int    `json:"mostActiveMonth"`
}

// TrackEntry is one ranked track.
type TrackEntry struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	ArtworkURL   string  `json:"artworkUrl,omitempty"`
	PlayCount    int     `json:"playCount"`
	TotalSeconds float64 `json:"totalSeconds"`
}

// ArtistEntry is one artist rollup. AvatarURL is filled when an artist
// resolver is configured.
type ArtistEntry struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	AvatarURL    string  `json:"avatarUrl,omitempty"`
	TotalSeconds float64 `json:"totalSeconds"`
	PlayCount    int     `json:"playCount"`
	TrackCount   int     `json:"trackCount"`
}

// Generator computes recaps.
type Generator struct {
	source Source
	clock  clock.Clock
}

// NewGenerator creates a Generator. A nil clock means the real clock.
func NewGenerator(source Source, clk clock.Clock) *Generator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Generator{source: source, clock: clk}
}

// Generate builds the recap for year. Apart from GeneratedAt the result
// depends only on the aggregates.
func (g *Generator) Generate(year int) *Recap {
	rng := stats.YearRange(year)
	tracks := g.source.TopTracks(stats.TopOptions{
		SortBy: stats.SortByPlayCount,
		Limit:  candidateLimit,
		Range:  &rng,
	})
	patterns := g.source.ListeningPatterns(year)

	r := &Recap{
		Year:        year,
		GeneratedAt: g.clock.Now(),
		TopTracks:   make([]TrackEntry, 0, min(topLimit, len(tracks))),
		Patterns:    patterns,
	}

	artists := make(map[string]*ArtistEntry)
	for _, t := range tracks {
		r.Summary.TotalSeconds += t.PeriodSeconds
		r.Summary.TotalPlays += t.PeriodPlays

		if t.Track == nil || t.Track.ArtistID == "" {
			continue
		}
		a, ok := artists[t.Track.ArtistID]
		if !ok {
			a = &ArtistEntry{ID: t.Track.ArtistID, Name: t.Track.ArtistName}
			artists[a.ID] = a
		}
		a.TotalSeconds += t.PeriodSeconds
		a.PlayCount += t.PeriodPlays
		a.TrackCount++
	}
	r.Summary.TotalTracks = len(tracks)
	r.Summary.TotalArtists = len(artists)

	for _, d := range g.source.DailyStatsInRange(rng) {
		r.Summary.TotalSessions += d.SessionsCount
	}

	for _, t := range tracks[:min(topLimit, len(tracks))] {
		r.TopTracks = append(r.TopTracks, toTrackEntry(t))
	}
	r.TopArtists = rankArtists(artists)

	r.Summary.MostActiveHour = peak(patterns.ByHour[:], 0)
	r.Summary.MostActiveDay = peak(patterns.ByDayOfWeek[:], 0)
	r.Summary.MostActiveMonth = peak(patterns.ByMonth[:], 1)

	return r
}

func toTrackEntry(t stats.TopTrack) TrackEntry {
	e := TrackEntry{
		ID:           t.TrackID,
		Title:        unknownLabel,
		Artist:       unknownLabel,
		PlayCount:    t.PeriodPlays,
		TotalSeconds: t.PeriodSeconds,
	}
	if t.Track != nil {
		if t.Track.Title != "" {
			e.Title = t.Track.Title
		}
		if t.Track.ArtistName != "" {
			e.Artist = t.Track.ArtistName
		}
		e.ArtworkURL = t.Track.ArtworkURL
	}
	return e
}

func rankArtists(artists map[string]*ArtistEntry) []ArtistEntry {
	ranked := make([]ArtistEntry, 0, len(artists))
	for _, a := range artists {
		ranked = append(ranked, *a)
	}
	slices.SortFunc(ranked, func(a, b ArtistEntry) int {
		if c := cmp.Compare(b.TotalSeconds, a.TotalSeconds); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ranked[:min(topLimit, len(ranked))]
}

// peak returns the index of the largest bucket plus offset, preferring the
// lowest index on ties, or nil when every bucket is zero.
func peak(buckets []float64, offset int) *int {
	best := -1
	var top float64
	for i, v := range buckets {
		if v > top {
			best, top = i, v
		}
	}
	if best < 0 {
		return nil
	}
	idx := best + offset
	return &idx
}
