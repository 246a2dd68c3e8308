package stats

import (
	"context"
	"fmt"
	"slices"

	"github.com/justestif/go-listening-tracker/internal/kv"
)

// migrations upgrade the persisted aggregates. Append only; never renumber.
var migrations = []kv.Migration{
	{
		Version:     1,
		Description: "initial layout",
	},
	{
		Version:     2,
		Description: "rebuild derived daily totals",
		Up:          rebuildDailyTotals,
	},
}

// rebuildDailyTotals recomputes the per-day counters that are derived from
// other fields: tracksPlayed from the played set and totalSeconds from the
// hourly buckets.
func rebuildDailyTotals(ctx context.Context, store *kv.Store) error {
	var daily map[string]*DailyStats
	ok, err := store.Get(ctx, KeyDailyStats, &daily)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for date, d := range daily {
		if d == nil {
			delete(daily, date)
			continue
		}
		d.Date = date
		d.TracksPlayedSet = uniqueSorted(d.TracksPlayedSet)
		if len(d.TracksPlayedSet) > 0 {
			d.TracksPlayed = len(d.TracksPlayedSet)
		}
		if len(d.HourlySeconds) > 0 {
			var total float64
			for _, secs := range d.HourlySeconds {
				total += secs
			}
			d.TotalSeconds = total
		}
	}

	if err := store.SetNow(ctx, KeyDailyStats, daily); err != nil {
		return fmt.Errorf("writing daily stats: %w", err)
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
