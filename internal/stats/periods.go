package stats

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the layout of the date keys used in every daily bucket.
const DateLayout = "2006-01-02"

// ErrUnknownPeriod is returned by ParsePeriod for unrecognised names.
var ErrUnknownPeriod = errors.New("unknown period")

// Period names a reporting window relative to the current local date.
type Period string

// Reporting windows.
const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodWeek      Period = "week"
	PeriodMonth     Period = "month"
	PeriodYear      Period = "year"
	PeriodAll       Period = "all"
)

// ParsePeriod validates s. An empty string means PeriodAll.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return PeriodAll, nil
	case PeriodToday, PeriodYesterday, PeriodWeek, PeriodMonth, PeriodYear, PeriodAll:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, s)
	}
}

// Range is an inclusive span of local dates in DateLayout form. An empty
// bound is open.
type Range struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Contains reports whether date falls inside r.
func (r Range) Contains(date string) bool {
	if r.Start != "" && date < r.Start {
		return false
	}
	if r.End != "" && date > r.End {
		return false
	}
	return true
}

// Unbounded reports whether r covers every date.
func (r Range) Unbounded() bool {
	return r.Start == "" && r.End == ""
}

// Range resolves p against now, which must already be in the local zone.
func (p Period) Range(now time.Time) Range {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end := today.Format(DateLayout)

	switch p {
	case PeriodToday:
		return Range{Start: end, End: end}
	case PeriodYesterday:
		y := today.AddDate(0, 0, -1).Format(DateLayout)
		return Range{Start: y, End: y}
	case PeriodWeek:
		return Range{Start: today.AddDate(0, 0, -7).Format(DateLayout), End: end}
	case PeriodMonth:
		return Range{Start: today.AddDate(0, -1, 0).Format(DateLayout), End: end}
	case PeriodYear:
		return Range{Start: fmt.Sprintf("%04d-01-01", today.Year()), End: end}
	default:
		return Range{}
	}
}

// YearRange covers the calendar year.
func YearRange(year int) Range {
	return Range{
		Start: fmt.Sprintf("%04d-01-01", year),
		End:   fmt.Sprintf("%04d-12-31", year),
	}
}
