// Package timespan partitions an overall date range into calendar-aligned
// windows (months, seasons, years, the same month across years, ...).
//
// All dates are calendar days at UTC midnight. Windows are inclusive at both
// ends.
package timespan

import (
	"errors"
	"fmt"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

var (
	// ErrInvalidRange indicates a range whose start is after its end.
	ErrInvalidRange = errors.New("timespan: start date is after end date")
	// ErrUnknownIncrement indicates an unrecognised increment name or value.
	ErrUnknownIncrement = errors.New("timespan: unknown increment")
)

// DateLayout is the layout used for dates in configuration and labels.
const DateLayout = "2006-01-02"

// Window is one calendar-aligned slice of the overall range.
type Window struct {
	Start     time.Time
	End       time.Time
	Increment Increment
}

// Days returns the number of calendar days in the window.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// Dates returns every date in the window in ascending order.
func (w Window) Dates() []time.Time {
	out := make([]time.Time, 0, w.Days())
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d time.Time) bool {
	d = Truncate(d)
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s (%s)", w.Start.Format(DateLayout), w.End.Format(DateLayout), w.Increment)
}

// Windower produces the windows of a range for one increment.
type Windower struct {
	start     time.Time
	end       time.Time
	increment Increment
}

// New returns a windower over [start, end].
func New(start, end time.Time, inc Increment) (*Windower, error) {
	if !inc.Valid() {
		return nil, fmt.Errorf("%d: %w", int(inc), ErrUnknownIncrement)
	}
	start, end = Truncate(start), Truncate(end)
	if start.After(end) {
		return nil, fmt.Errorf("%s > %s: %w", start.Format(DateLayout), end.Format(DateLayout), ErrInvalidRange)
	}
	return &Windower{start: start, end: end, increment: inc}, nil
}

// Start returns the overall start date.
func (w *Windower) Start() time.Time { return w.start }

// End returns the overall end date.
func (w *Windower) End() time.Time { return w.end }

// Increment returns the windowing increment.
func (w *Windower) Increment() Increment { return w.increment }

// BufferDays is the number of day slots a caller needs for any window of
// this windower.
func (w *Windower) BufferDays() int {
	if w.increment == None {
		return Window{Start: w.start, End: w.end}.Days() + 1
	}
	return w.increment.BufferDays()
}

// First returns the first window of the range.
func (w *Windower) First() (Window, bool) {
	s := w.start
	var e time.Time
	switch w.increment {
	case None:
		e = w.end
	case Day:
		e = s
	case Week:
		e = s.AddDate(0, 0, 6)
	case Month, SameMonth:
		e = endOfMonth(s)
	case Season, SameSeason:
		e = seasonEnd(s)
	case Year:
		e = Date(s.Year(), time.December, 31)
	}
	return w.clip(s, e)
}

// Next returns the window that follows current. The boolean is false once
// the range is exhausted; that is normal termination, not an error.
func (w *Windower) Next(current Window) (Window, bool) {
	var s, e time.Time
	switch w.increment {
	case None:
		return Window{}, false
	case SameMonth:
		// Restart the same month in the following year rather than adding days.
		s = Date(current.Start.Year()+1, current.Start.Month(), 1)
		e = endOfMonth(s)
	case SameSeason:
		s = seasonStart(current.Start).AddDate(1, 0, 0)
		e = seasonEnd(s)
	default:
		s = current.End.AddDate(0, 0, 1)
		switch w.increment {
		case Day:
			e = s
		case Week:
			e = s.AddDate(0, 0, 6)
		case Month:
			e = endOfMonth(s)
		case Season:
			e = seasonEnd(s)
		case Year:
			e = Date(s.Year(), time.December, 31)
		}
	}
	return w.clip(s, e)
}

// Windows returns every window of the range in order.
func (w *Windower) Windows() []Window {
	var out []Window
	for win, ok := w.First(); ok; win, ok = w.Next(win) {
		out = append(out, win)
	}
	return out
}

func (w *Windower) clip(s, e time.Time) (Window, bool) {
	if s.After(w.end) {
		return Window{}, false
	}
	if e.After(w.end) {
		e = w.end
	}
	return Window{Start: s, End: e, Increment: w.increment}, true
}

// Date returns the calendar date y-m-d at UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time of day and location from t.
func Truncate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DaysInMonth returns the number of days in month m of year y.
func DaysInMonth(y int, m time.Month) int {
	switch m {
	case time.February:
		if julian.LeapYearGregorian(y) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// DayOfYear returns the 1-based ordinal day of t within its year.
func DayOfYear(t time.Time) int {
	return julian.DayOfYearGregorian(t.Year(), int(t.Month()), t.Day())
}

// SeasonName returns DJF, MAM, JJA or SON for the month of t.
func SeasonName(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "DJF"
	case time.March, time.April, time.May:
		return "MAM"
	case time.June, time.July, time.August:
		return "JJA"
	default:
		return "SON"
	}
}

func endOfMonth(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), DaysInMonth(t.Year(), t.Month()))
}

// seasonStart returns the first day of the season containing t. January and
// February belong to the season that began the previous December.
func seasonStart(t time.Time) time.Time {
	y, m := t.Year(), t.Month()
	switch m {
	case time.December:
		return Date(y, time.December, 1)
	case time.January, time.February:
		return Date(y-1, time.December, 1)
	default:
		return Date(y, m-(m%3), 1)
	}
}

func seasonEnd(t time.Time) time.Time {
	s := seasonStart(t)
	last := s.AddDate(0, 2, 0)
	return endOfMonth(last)
}
