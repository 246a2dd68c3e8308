package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justestif/go-listening-tracker/internal/stats"
)

var (
	periodFlag string
	sortFlag   string
	limitFlag  int
	yearFlag   int
)

var errBadFlag = errors.New("invalid flag value")

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Query listening statistics",
}

var statsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank tracks by plays or listening time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		period, err := stats.ParsePeriod(periodFlag)
		if err != nil {
			return err
		}
		sortBy, err := parseSortField(sortFlag)
		if err != nil {
			return err
		}
		if limitFlag <= 0 {
			return fmt.Errorf("%w: --limit must be positive", errBadFlag)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		top := a.stats.TopTracks(stats.TopOptions{Period: period, SortBy: sortBy, Limit: limitFlag})
		if formatFlag == "text" {
			printTopTracks(top)
			return nil
		}
		return printJSON(top)
	},
}

var statsTotalCmd = &cobra.Command{
	Use:   "total",
	Short: "Show totals for a period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		period, err := stats.ParsePeriod(periodFlag)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		totals := a.stats.TotalStats(period)
		if formatFlag == "text" {
			fmt.Printf("%s: %.0fs across %d tracks by %d artists, %d plays\n",
				period, totals.TotalSeconds, totals.TotalTracks, totals.TotalArtists, totals.TotalPlays)
			return nil
		}
		return printJSON(totals)
	},
}

var statsDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "List daily rollups for a period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		period, err := stats.ParsePeriod(periodFlag)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		days := a.stats.DailyStatsForPeriod(period)
		if formatFlag == "text" {
			for _, d := range days {
				fmt.Printf("%s  %6.0fs  %3d tracks  %3d sessions\n", d.Date, d.TotalSeconds, d.TracksPlayed, d.SessionsCount)
			}
			return nil
		}
		return printJSON(days)
	},
}

var statsPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show listening time by hour, weekday and month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close(cmd.Context())

		year := yearFlag
		if year == 0 {
			year = a.clock.Now().In(a.cfg.Location()).Year()
		}
		return printJSON(a.stats.ListeningPatterns(year))
	},
}

func init() {
	for _, c := range []*cobra.Command{statsTopCmd, statsTotalCmd, statsDailyCmd} {
		c.Flags().StringVarP(&periodFlag, "period", "p", "all", "Period: today, yesterday, week, month, year or all")
	}
	statsTopCmd.Flags().StringVarP(&sortFlag, "sort", "s", string(stats.SortByPlayCount), "Sort by playCount or totalSeconds")
	statsTopCmd.Flags().IntVarP(&limitFlag, "limit", "n", stats.DefaultTopLimit, "Number of tracks")
	statsPatternsCmd.Flags().IntVarP(&yearFlag, "year", "y", 0, "Year (default current)")

	statsCmd.AddCommand(statsTopCmd, statsTotalCmd, statsDailyCmd, statsPatternsCmd)
	RootCmd.AddCommand(statsCmd)
}

func parseSortField(s string) (stats.SortField, error) {
	switch f := stats.SortField(s); f {
	case "":
		return stats.SortByPlayCount, nil
	case stats.SortByPlayCount, stats.SortByTotalSeconds:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown sort %q", errBadFlag, s)
	}
}

func printTopTracks(top []stats.TopTrack) {
	if len(top) == 0 {
		fmt.Println("No tracks played in this period")
		return
	}
	for i, t := range top {
		title, artist := t.TrackID, "Unknown"
		if t.Track != nil {
			if t.Track.Title != "" {
				title = t.Track.Title
			}
			if t.Track.ArtistName != "" {
				artist = t.Track.ArtistName
			}
		}
		fmt.Printf("%2d. %s - %s (%d plays, %.0fs)\n", i+1, title, artist, t.PeriodPlays, t.PeriodSeconds)
	}
}
