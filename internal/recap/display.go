package recap

import (
	"fmt"
	"strings"
	"time"
)

const sampleCount = 5

// FormatSummary returns a human-readable rendering of r.
func FormatSummary(r *Recap) string {
	var sb strings.Builder

	if r == nil || r.Summary.TotalTracks == 0 {
		year := 0
		if r != nil {
			year = r.Year
		}
		sb.WriteString(fmt.Sprintf("No listening recorded in %d\n", year))
		return sb.String()
	}

	s := r.Summary
	sb.WriteString(fmt.Sprintf("%d recap: %s across %d %s by %d %s\n",
		r.Year,
		formatDuration(s.TotalSeconds),
		s.TotalTracks, plural(s.TotalTracks, "track", "tracks"),
		s.TotalArtists, plural(s.TotalArtists, "artist", "artists"),
	))
	sb.WriteString(fmt.Sprintf("%d %s, %d %s\n",
		s.TotalPlays, plural(s.TotalPlays, "play", "plays"),
		s.TotalSessions, plural(s.TotalSessions, "session", "sessions"),
	))

	if s.MostActiveHour != nil {
		sb.WriteString(fmt.Sprintf("Most active hour: %02d:00\n", *s.MostActiveHour))
	}
	if s.MostActiveDay != nil {
		sb.WriteString(fmt.Sprintf("Most active day: %s\n", time.Weekday(*s.MostActiveDay)))
	}
	if s.MostActiveMonth != nil {
		sb.WriteString(fmt.Sprintf("Most active month: %s\n", time.Month(*s.MostActiveMonth)))
	}

	if len(r.TopTracks) > 0 {
		sb.WriteString("\nTop tracks:\n")
		for i, t := range r.TopTracks[:min(sampleCount, len(r.TopTracks))] {
			sb.WriteString(fmt.Sprintf("  %d. \"%s\" - %s (%d %s)\n",
				i+1, t.Title, t.Artist, t.PlayCount, plural(t.PlayCount, "play", "plays")))
		}
		if remaining := len(r.TopTracks) - sampleCount; remaining > 0 {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", remaining))
		}
	}

	if len(r.TopArtists) > 0 {
		sb.WriteString("\nTop artists:\n")
		for i, a := range r.TopArtists[:min(sampleCount, len(r.TopArtists))] {
			sb.WriteString(fmt.Sprintf("  %d. %s (%s)\n", i+1, a.Name, formatDuration(a.TotalSeconds)))
		}
	}

	return sb.String()
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
