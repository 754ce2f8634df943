package streak

import (
	"fmt"
	"slices"
)

// Status distinguishes "never checked in" from real statistics.
type Status string

const (
	StatusNoDataYet Status = "no_data_yet"
	StatusHasData   Status = "has_data"
)

// Stats are derived from the distinct check-in dates and are never stored as a
// source of truth.
type Stats struct {
	CurrentStreak int    `json:"currentStreak"`
	LongestStreak int    `json:"longestStreak"`
	TotalDays     int    `json:"totalDays"`
	Status        Status `json:"status"`
}

// ValidationError reports input the engine refuses to reduce.
type ValidationError struct {
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid check-in date %q: %s", e.Value, e.Reason)
}

// Compute reduces check-in dates to streak statistics relative to today.
//
// Order and duplicates in dates do not matter. The current streak survives one
// missed day: a run ending yesterday still counts until today is over.
// Zero dates and dates after today are rejected with *ValidationError.
func Compute(dates []Date, today Date) (Stats, error) {
	if today.IsZero() {
		return Stats{}, &ValidationError{Value: today.String(), Reason: "today is not set"}
	}

	distinct := make(map[Date]struct{}, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			return Stats{}, &ValidationError{Value: d.String(), Reason: "zero date"}
		}
		if d.After(today) {
			return Stats{}, &ValidationError{Value: d.String(), Reason: "after " + today.String()}
		}
		distinct[d] = struct{}{}
	}

	if len(distinct) == 0 {
		return Stats{Status: StatusNoDataYet}, nil
	}

	days := make([]Date, 0, len(distinct))
	for d := range distinct {
		days = append(days, d)
	}
	// Most recent first.
	slices.SortFunc(days, func(a, b Date) int {
		return b.Time().Compare(a.Time())
	})

	return Stats{
		CurrentStreak: currentStreak(days, today),
		LongestStreak: longestStreak(days),
		TotalDays:     len(days),
		Status:        StatusHasData,
	}, nil
}

// currentStreak expects distinct days sorted most recent first.
func currentStreak(days []Date, today Date) int {
	if days[0].Before(today.AddDays(-1)) {
		return 0
	}
	run := 1
	for i := 1; i < len(days); i++ {
		if days[i] != days[i-1].AddDays(-1) {
			break
		}
		run++
	}
	return run
}

// longestStreak expects distinct days sorted most recent first.
func longestStreak(days []Date) int {
	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i] == days[i-1].AddDays(-1) {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}

// ParseDates parses YYYY-MM-DD strings, failing on the first malformed value.
func ParseDates(values []string) ([]Date, error) {
	dates := make([]Date, len(values))
	for i, v := range values {
		d, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		dates[i] = d
	}
	return dates, nil
}
