package recap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/enrich"
	"github.com/justestif/go-listening-tracker/internal/kv"
	"github.com/justestif/go-listening-tracker/internal/model"
	"github.com/justestif/go-listening-tracker/internal/stats"
)

// stubSource implements Source for testing.
type stubSource struct {
	tracks   []stats.TopTrack
	patterns stats.Patterns
	days     []stats.DailyStats
	gotOpts  stats.TopOptions
}

func (s *stubSource) TopTracks(opts stats.TopOptions) []stats.TopTrack {
	s.gotOpts = opts
	return s.tracks
}

func (s *stubSource) ListeningPatterns(int) stats.Patterns { return s.patterns }

func (s *stubSource) DailyStatsInRange(stats.Range) []stats.DailyStats { return s.days }

func topTrack(id, artistID string, plays int, seconds float64) stats.TopTrack {
	t := stats.TopTrack{
		TrackStats:    stats.TrackStats{TrackID: id, PlayCount: plays * 2, TotalSeconds: seconds * 2},
		PeriodPlays:   plays,
		PeriodSeconds: seconds,
	}
	if artistID != "" {
		t.Track = &model.Track{ID: id, Title: "Title " + id, ArtistID: artistID, ArtistName: "Artist " + artistID}
	}
	return t
}

func newTestStats(t *testing.T, now time.Time) (*stats.Store, *kv.Store, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(now)
	logger := slog.New(slog.DiscardHandler)
	store := kv.NewStore(kv.NewMemoryBackend(), kv.WithScheduler(fake), kv.WithLogger(logger))
	return stats.New(store, stats.WithClock(fake), stats.WithLocation(time.UTC), stats.WithLogger(logger)), store, fake
}

func TestGenerate_EmptyYear(t *testing.T) {
	st, _, fake := newTestStats(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	gen := NewGenerator(st, fake)

	r := gen.Generate(2099)

	if r.Year != 2099 {
		t.Errorf("Year = %d", r.Year)
	}
	if r.Summary.TotalSeconds != 0 || r.Summary.TotalTracks != 0 || r.Summary.TotalPlays != 0 ||
		r.Summary.TotalArtists != 0 || r.Summary.TotalSessions != 0 {
		t.Errorf("expected zero totals, got %+v", r.Summary)
	}
	if r.Summary.MostActiveHour != nil || r.Summary.MostActiveDay != nil || r.Summary.MostActiveMonth != nil {
		t.Errorf("expected nil peaks, got %+v", r.Summary)
	}
	if r.TopTracks == nil || len(r.TopTracks) != 0 {
		t.Errorf("TopTracks = %#v, want empty slice", r.TopTracks)
	}
	if len(r.TopArtists) != 0 {
		t.Errorf("TopArtists = %v", r.TopArtists)
	}
	if got := FormatSummary(r); got != "No listening recorded in 2099\n" {
		t.Errorf("FormatSummary = %q", got)
	}
}

func TestGenerate_UsesYearRange(t *testing.T) {
	src := &stubSource{}
	NewGenerator(src, nil).Generate(2023)

	if src.gotOpts.Range == nil || *src.gotOpts.Range != stats.YearRange(2023) {
		t.Errorf("Range = %v, want 2023", src.gotOpts.Range)
	}
	if src.gotOpts.Limit != 100 || src.gotOpts.SortBy != stats.SortByPlayCount {
		t.Errorf("options = %+v", src.gotOpts)
	}
}

func TestGenerate_Totals(t *testing.T) {
	src := &stubSource{
		tracks: []stats.TopTrack{
			topTrack("1", "a", 5, 300),
			topTrack("2", "b", 3, 600),
			topTrack("3", "a", 2, 100),
			topTrack("4", "", 1, 50),
		},
		days: []stats.DailyStats{
			{Date: "2024-01-01", SessionsCount: 4},
			{Date: "2024-02-01", SessionsCount: 3},
		},
	}

	r := NewGenerator(src, nil).Generate(2024)

	want := Summary{
		TotalSeconds:  1050,
		TotalTracks:   4,
		TotalArtists:  2,
		TotalPlays:    11,
		TotalSessions: 7,
	}
	if r.Summary != want {
		t.Errorf("Summary = %+v, want %+v", r.Summary, want)
	}

	if len(r.TopArtists) != 2 {
		t.Fatalf("TopArtists = %v", r.TopArtists)
	}
	if r.TopArtists[0].ID != "b" || r.TopArtists[1].ID != "a" {
		t.Errorf("artists not ranked by seconds: %v", r.TopArtists)
	}
	if a := r.TopArtists[1]; a.TrackCount != 2 || a.PlayCount != 7 || a.TotalSeconds != 400 {
		t.Errorf("artist a rollup = %+v", a)
	}

	if r.TopTracks[3].Title != "Unknown" || r.TopTracks[3].Artist != "Unknown" {
		t.Errorf("missing metadata not labelled: %+v", r.TopTracks[3])
	}
	if r.TopTracks[0].PlayCount != 5 {
		t.Errorf("top track uses lifetime counts: %+v", r.TopTracks[0])
	}
}

func TestGenerate_LimitsTopLists(t *testing.T) {
	src := &stubSource{}
	for i := range 15 {
		src.tracks = append(src.tracks, topTrack(fmt.Sprintf("t%02d", i), fmt.Sprintf("a%02d", i), 15-i, float64(100+i)))
	}

	r := NewGenerator(src, nil).Generate(2024)

	if len(r.TopTracks) != 10 {
		t.Errorf("TopTracks = %d, want 10", len(r.TopTracks))
	}
	if len(r.TopArtists) != 10 {
		t.Errorf("TopArtists = %d, want 10", len(r.TopArtists))
	}
	if r.Summary.TotalTracks != 15 || r.Summary.TotalArtists != 15 {
		t.Errorf("summary counts all candidates: %+v", r.Summary)
	}
}

func TestPeak(t *testing.T) {
	tests := []struct {
		name    string
		buckets []float64
		offset  int
		want    *int
	}{
		{"all zero", []float64{0, 0, 0}, 0, nil},
		{"single max", []float64{1, 5, 2}, 0, ptr(1)},
		{"tie prefers lowest index", []float64{0, 7, 3, 7}, 0, ptr(1)},
		{"offset for months", []float64{0, 0, 9}, 1, ptr(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := peak(tt.buckets, tt.offset)
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("peak = %v, want %v", deref(got), deref(tt.want))
			}
		})
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	st, _, fake := newTestStats(t, time.Date(2024, 3, 10, 21, 0, 0, 0, time.UTC))

	for i, id := range []string{"x", "y", "z"} {
		if err := st.SaveTrackInfo(model.Track{ID: id, Title: id, ArtistID: "artist-" + id, ArtistName: id}); err != nil {
			t.Fatalf("SaveTrackInfo: %v", err)
		}
		for range 2 {
			if err := st.IncrementPlayCount(id); err != nil {
				t.Fatalf("IncrementPlayCount: %v", err)
			}
		}
		if err := st.AddListeningTime(id, float64(60*(i+1))); err != nil {
			t.Fatalf("AddListeningTime: %v", err)
		}
		if err := st.RecordSession(id, 60, false); err != nil {
			t.Fatalf("RecordSession: %v", err)
		}
	}

	gen := NewGenerator(st, fake)
	first := gen.Generate(2024)
	second := gen.Generate(2024)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("recap not deterministic:\n%+v\n%+v", first, second)
	}

	if ids := []string{first.TopTracks[0].ID, first.TopTracks[1].ID, first.TopTracks[2].ID}; !reflect.DeepEqual(ids, []string{"x", "y", "z"}) {
		t.Errorf("tie on plays not broken by id: %v", ids)
	}
	if first.Summary.MostActiveHour == nil || *first.Summary.MostActiveHour != 21 {
		t.Errorf("MostActiveHour = %v", deref(first.Summary.MostActiveHour))
	}
	if first.Summary.MostActiveDay == nil || time.Weekday(*first.Summary.MostActiveDay) != time.Sunday {
		t.Errorf("MostActiveDay = %v", deref(first.Summary.MostActiveDay))
	}
	if first.Summary.MostActiveMonth == nil || *first.Summary.MostActiveMonth != 3 {
		t.Errorf("MostActiveMonth = %v", deref(first.Summary.MostActiveMonth))
	}
	if first.Summary.TotalSessions != 3 {
		t.Errorf("TotalSessions = %d, want 3", first.Summary.TotalSessions)
	}
}

func TestService_GenerateAndSave(t *testing.T) {
	st, store, fake := newTestStats(t, time.Date(2024, 3, 10, 21, 0, 0, 0, time.UTC))
	svc := NewService(NewGenerator(st, fake), store, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	if _, err := svc.Saved(ctx, 2024); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := st.AddListeningTime("1", 90); err != nil {
		t.Fatalf("AddListeningTime: %v", err)
	}
	generated, err := svc.GenerateAndSave(ctx, 2024)
	if err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}
	if _, err := svc.GenerateAndSave(ctx, 2023); err != nil {
		t.Fatalf("GenerateAndSave 2023: %v", err)
	}

	saved, err := svc.Saved(ctx, 2024)
	if err != nil {
		t.Fatalf("Saved: %v", err)
	}
	if saved.Summary.TotalSeconds != generated.Summary.TotalSeconds || saved.Year != 2024 {
		t.Errorf("saved = %+v, generated = %+v", saved.Summary, generated.Summary)
	}
	if older, err := svc.Saved(ctx, 2023); err != nil || older.Year != 2023 {
		t.Errorf("2023 recap lost: %v, %v", older, err)
	}
}

func TestFormatSummary(t *testing.T) {
	hour, day, month := 21, int(time.Friday), 3
	r := &Recap{
		Year: 2024,
		Summary: Summary{
			TotalSeconds:    7320,
			TotalTracks:     2,
			TotalArtists:    1,
			TotalPlays:      1,
			TotalSessions:   4,
			MostActiveHour:  &hour,
			MostActiveDay:   &day,
			MostActiveMonth: &month,
		},
		TopTracks: []TrackEntry{
			{ID: "1", Title: "Song", Artist: "Band", PlayCount: 1},
		},
		TopArtists: []ArtistEntry{
			{ID: "a", Name: "Band", TotalSeconds: 600},
		},
	}

	got := FormatSummary(r)

	for _, want := range []string{
		"2024 recap: 2h 2m across 2 tracks by 1 artist",
		"1 play, 4 sessions",
		"Most active hour: 21:00",
		"Most active day: Friday",
		"Most active month: March",
		`1. "Song" - Band (1 play)`,
		"1. Band (10m)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func ptr(v int) *int { return &v }

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

type stubArtists map[string]model.Artist

func (s stubArtists) ResolveArtist(_ context.Context, id string) (*model.Artist, error) {
	a, ok := s[id]
	if !ok {
		return nil, enrich.ErrUnavailable
	}
	return &a, nil
}

func TestService_DecoratesTopArtists(t *testing.T) {
	st, store, fake := newTestStats(t, time.Date(2024, 3, 10, 21, 0, 0, 0, time.UTC))
	artists := stubArtists{"a": {ID: "a", DisplayName: "The Band", AvatarURL: "https://img/a.jpg"}}
	svc := NewService(NewGenerator(st, fake), store, slog.New(slog.DiscardHandler), WithArtistResolver(artists))

	for _, tr := range []model.Track{
		{ID: "1", Title: "One", ArtistID: "a", ArtistName: "band"},
		{ID: "2", Title: "Two", ArtistID: "b", ArtistName: "Other"},
	} {
		if err := st.SaveTrackInfo(tr); err != nil {
			t.Fatalf("SaveTrackInfo: %v", err)
		}
		if err := st.AddListeningTime(tr.ID, 90); err != nil {
			t.Fatalf("AddListeningTime: %v", err)
		}
	}

	r, err := svc.GenerateAndSave(context.Background(), 2024)
	if err != nil {
		t.Fatalf("GenerateAndSave: %v", err)
	}

	byID := make(map[string]ArtistEntry)
	for _, e := range r.TopArtists {
		byID[e.ID] = e
	}
	if got := byID["a"]; got.Name != "The Band" || got.AvatarURL != "https://img/a.jpg" {
		t.Errorf("resolved artist = %+v", got)
	}
	if got := byID["b"]; got.Name != "Other" || got.AvatarURL != "" {
		t.Errorf("unresolved artist = %+v", got)
	}
}
