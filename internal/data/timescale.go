package data

import (
	"fmt"
	"time"
)

// DateLayout is the format of simulation start dates.
const DateLayout = "2006-01-02"

const (
	TimescaleDay   = "d"
	TimescaleWeek  = "w"
	TimescaleMonth = "m"
	TimescaleYear  = "y"
)

// TimescaleDuration maps a timescale flag to its length. A month is 30 days, a year 365.
func TimescaleDuration(ts string) (time.Duration, error) {
	switch ts {
	case TimescaleDay:
		return 24 * time.Hour, nil
	case TimescaleWeek:
		return 7 * 24 * time.Hour, nil
	case TimescaleMonth:
		return 30 * 24 * time.Hour, nil
	case TimescaleYear:
		return 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid timescale %q: use d, w, m or y", ts)
	}
}

// Window parses a start date and returns [start, start+timescale).
func Window(startDate, timescale string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, startDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %q (expected YYYY-MM-DD): %w", startDate, err)
	}
	d, err := TimescaleDuration(timescale)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(d), nil
}
