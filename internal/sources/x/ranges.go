package x

import (
	"fmt"
	"time"
)

// the search endpoint rejects end times that are too close to now
const endTimeSlack = 30 * time.Second

// the recent search rejects start times older than this
const recentSearchWindow = 7 * 24 * time.Hour

type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

// ParseSince parses a YYYY-MM-DD day in the location of now. An empty
// value means january 1st of the year of now.
func ParseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), nil
	}
	since, err := time.ParseInLocation(time.DateOnly, value, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse since: %w", err)
	}
	return since, nil
}

// MonthlyRanges splits [since, now) on month boundaries. The last range
// ends slightly before now.
func MonthlyRanges(since, now time.Time) []DateRange {
	end := now.Add(-endTimeSlack)
	var out []DateRange
	start := since
	for start.Before(end) {
		next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, start.Location())
		if next.After(end) {
			next = end
		}
		out = append(out, DateRange{Start: start, End: next})
		start = next
	}
	return out
}

// RecentSearchStart is the earliest start time the recent search accepts
// at now, with the same slack as the end of the last range.
func RecentSearchStart(now time.Time) time.Time {
	return now.Add(-recentSearchWindow + endTimeSlack)
}

// ClampRanges drops the ranges that end before earliest and moves the
// start of the first remaining one up to earliest.
func ClampRanges(ranges []DateRange, earliest time.Time) []DateRange {
	var out []DateRange
	for _, r := range ranges {
		if !r.End.After(earliest) {
			continue
		}
		if r.Start.Before(earliest) {
			r.Start = earliest
		}
		out = append(out, r)
	}
	return out
}
