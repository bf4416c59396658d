// Package dates breaks wide date ranges into bounded windows so each
// consulta batch stays within the portal's practical page ceiling.
package dates

import (
	"fmt"
	"strings"
	"time"
)

const dayFormat = "20060102"

type Mode string

const (
	ModeMonthly     Mode = "monthly"
	ModeSemimonthly Mode = "semimonthly"
	ModeWeekly      Mode = "weekly"
)

// ParseMode normalizes user-facing split mode names.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "monthly":
		return ModeMonthly, nil
	case "semi", "semimonthly", "quinzenal":
		return ModeSemimonthly, nil
	case "weekly":
		return ModeWeekly, nil
	default:
		return "", fmt.Errorf("unknown split mode %q", raw)
	}
}

// Window is an inclusive date interval.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) StartString() string { return w.Start.Format(dayFormat) }
func (w Window) EndString() string   { return w.End.Format(dayFormat) }

// ParseDay validates an AAAAMMDD date string.
func ParseDay(raw string) (time.Time, error) {
	day, err := time.Parse(dayFormat, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want AAAAMMDD", raw)
	}
	return day, nil
}

// Split divides [start, end] into contiguous, non-overlapping windows that
// exactly cover the range. Monthly windows end at the last day of the
// starting month, semimonthly windows additionally break at day 15, weekly
// windows advance six days at a time. The last window is clamped to end.
func Split(start, end string, mode Mode) ([]Window, error) {
	from, err := ParseDay(start)
	if err != nil {
		return nil, err
	}
	until, err := ParseDay(end)
	if err != nil {
		return nil, err
	}
	if until.Before(from) {
		return nil, fmt.Errorf("start date %s is after end date %s", start, end)
	}

	var windows []Window
	cursor := from
	for !cursor.After(until) {
		var next time.Time
		switch mode {
		case ModeWeekly:
			next = cursor.AddDate(0, 0, 6)
		case ModeSemimonthly:
			if cursor.Day() <= 15 {
				next = time.Date(cursor.Year(), cursor.Month(), 15, 0, 0, 0, 0, cursor.Location())
			} else {
				next = endOfMonth(cursor)
			}
		default:
			next = endOfMonth(cursor)
		}
		if next.After(until) {
			next = until
		}
		windows = append(windows, Window{Start: cursor, End: next})
		cursor = next.AddDate(0, 0, 1)
	}
	return windows, nil
}

func endOfMonth(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, day.Location())
}
