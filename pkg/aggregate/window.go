package aggregate

import (
	"strings"
)

// Window is a named lookback used to pick partitions and clip rows.
type Window string

const (
	Hour  Window = "1h"
	Day   Window = "1d"
	Week  Window = "1w"
	Month Window = "1m"
)

// Windows lists the supported windows, shortest first.
var Windows = []Window{Hour, Day, Week, Month}

// Coverage says how many consecutive days ending today a window spans and
// how many of their partitions must exist.
type Coverage struct {
	Days       int
	MinPresent int
}

// SingleDay reports whether the window reads only today's partition.
func (c Coverage) SingleDay() bool { return c.Days == 1 }

var coverage = map[Window]Coverage{
	Hour:  {Days: 1, MinPresent: 1},
	Day:   {Days: 1, MinPresent: 1},
	Week:  {Days: 7, MinPresent: 7},
	Month: {Days: 30, MinPresent: 30 * 7 / 10},
}

var aliases = map[string]Window{
	"1h": Hour, "hour": Hour,
	"1d": Day, "day": Day,
	"1w": Week, "week": Week,
	"1m": Month, "month": Month,
}

// ParseWindow accepts the short code ("1h") or the name ("hour").
func ParseWindow(s string) (Window, error) {
	if w, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return w, nil
	}
	return "", &Error{Kind: ErrInvalidWindow, Window: Window(s)}
}

// Valid reports whether w is a supported window.
func (w Window) Valid() bool {
	_, ok := coverage[w]
	return ok
}

// Coverage returns the partition policy of w.
func (w Window) Coverage() Coverage { return coverage[w] }

// Name is the long form used in messages ("weekly", "monthly"...).
func (w Window) Name() string {
	switch w {
	case Hour:
		return "hourly"
	case Day:
		return "daily"
	case Week:
		return "weekly"
	case Month:
		return "monthly"
	}
	return string(w)
}

func (w Window) String() string { return string(w) }
