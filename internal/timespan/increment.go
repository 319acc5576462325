package timespan

import (
	"fmt"
	"strings"
	"time"
)

// Increment selects how a date range is partitioned into windows.
type Increment int

const (
	// None is a single window spanning the whole range.
	None Increment = iota
	// Day is one window per calendar day.
	Day
	// Week is seven-day windows counted from the range start.
	Week
	// Month is one window per calendar month.
	Month
	// Season is one window per meteorological season (DJF, MAM, JJA, SON).
	Season
	// Year is one window per calendar year.
	Year
	// SameMonth is the start date's calendar month, repeated every year.
	SameMonth
	// SameSeason is the start date's season, repeated every year.
	SameSeason
)

var incrementNames = map[Increment]string{
	None:       "none",
	Day:        "day",
	Week:       "week",
	Month:      "month",
	Season:     "season",
	Year:       "year",
	SameMonth:  "same-month",
	SameSeason: "same-season",
}

// aliases accepted by ParseIncrement in addition to the canonical names
var incrementAliases = map[string]Increment{
	"":                   None,
	"daily":              Day,
	"weekly":             Week,
	"monthly":            Month,
	"seasonal":           Season,
	"annual":             Year,
	"yearly":             Year,
	"multiyear":          None,
	"multiyear-month":    SameMonth,
	"multiyear-seasonal": SameSeason,
}

// String returns the configuration name of the increment.
func (i Increment) String() string {
	if name, ok := incrementNames[i]; ok {
		return name
	}
	return fmt.Sprintf("increment(%d)", int(i))
}

// Anchor returns the calendar month ("jan") or season ("djf") that a
// SameMonth or SameSeason range starting at start repeats. Other increments
// are not anchored and return "".
func (i Increment) Anchor(start time.Time) string {
	switch i {
	case SameMonth:
		return strings.ToLower(start.Month().String()[:3])
	case SameSeason:
		return strings.ToLower(SeasonName(start))
	default:
		return ""
	}
}

// Label is the increment as it appears in product names: the configuration
// name followed by the anchor, if any.
func (i Increment) Label(start time.Time) string {
	if a := i.Anchor(start); a != "" {
		return i.String() + "-" + a
	}
	return i.String()
}

// ParseIncrement converts a configuration name into an Increment.
func ParseIncrement(s string) (Increment, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for inc, name := range incrementNames {
		if name == s {
			return inc, nil
		}
	}
	if inc, ok := incrementAliases[s]; ok {
		return inc, nil
	}
	return None, fmt.Errorf("%q: %w", s, ErrUnknownIncrement)
}

// MaxDays is the longest window the increment can produce, not counting a
// leap day. None returns 0 because its window is the whole range.
func (i Increment) MaxDays() int {
	switch i {
	case Day:
		return 1
	case Week:
		return 7
	case Month, SameMonth:
		return 31
	case Season, SameSeason:
		return 92
	case Year:
		return 365
	default:
		return 0
	}
}

// BufferDays is the per-window day buffer size callers must allocate:
// MaxDays plus one to tolerate a leap day.
func (i Increment) BufferDays() int {
	return i.MaxDays() + 1
}

// Valid reports whether i is a known increment.
func (i Increment) Valid() bool {
	_, ok := incrementNames[i]
	return ok
}
