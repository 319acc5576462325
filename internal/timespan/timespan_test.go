package timespan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMonthlyWindowsClipFinalWindow(t *testing.T) {
	w, err := New(d("2011-01-01"), d("2014-01-30"), Month)
	require.NoError(t, err)

	windows := w.Windows()
	require.Len(t, windows, 37)

	assert.Equal(t, d("2011-01-01"), windows[0].Start)
	assert.Equal(t, d("2011-01-31"), windows[0].End)
	assert.Equal(t, d("2011-02-01"), windows[1].Start)
	assert.Equal(t, d("2011-02-28"), windows[1].End)
	assert.Equal(t, d("2012-02-29"), windows[13].End, "leap February")

	last := windows[len(windows)-1]
	assert.Equal(t, d("2014-01-01"), last.Start)
	assert.Equal(t, d("2014-01-30"), last.End)

	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End.AddDate(0, 0, 1), windows[i].Start, "windows must be contiguous")
		assert.LessOrEqual(t, windows[i].Days(), w.BufferDays())
	}
}

func TestWindowSequences(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		end      string
		inc      Increment
		expected [][2]string
	}{
		{
			name:     "none is a single window",
			start:    "2011-03-15",
			end:      "2013-06-01",
			inc:      None,
			expected: [][2]string{{"2011-03-15", "2013-06-01"}},
		},
		{
			name:  "seasons starting mid DJF",
			start: "2011-01-10",
			end:   "2011-09-30",
			inc:   Season,
			expected: [][2]string{
				{"2011-01-10", "2011-02-28"},
				{"2011-03-01", "2011-05-31"},
				{"2011-06-01", "2011-08-31"},
				{"2011-09-01", "2011-09-30"},
			},
		},
		{
			name:  "years",
			start: "2011-06-01",
			end:   "2013-02-01",
			inc:   Year,
			expected: [][2]string{
				{"2011-06-01", "2011-12-31"},
				{"2012-01-01", "2012-12-31"},
				{"2013-01-01", "2013-02-01"},
			},
		},
		{
			name:  "same month across years",
			start: "2011-01-01",
			end:   "2014-01-30",
			inc:   SameMonth,
			expected: [][2]string{
				{"2011-01-01", "2011-01-31"},
				{"2012-01-01", "2012-01-31"},
				{"2013-01-01", "2013-01-31"},
				{"2014-01-01", "2014-01-30"},
			},
		},
		{
			name:  "same February picks up leap days",
			start: "2011-02-01",
			end:   "2013-12-31",
			inc:   SameMonth,
			expected: [][2]string{
				{"2011-02-01", "2011-02-28"},
				{"2012-02-01", "2012-02-29"},
				{"2013-02-01", "2013-02-28"},
			},
		},
		{
			name:  "same season across years",
			start: "2010-12-01",
			end:   "2012-12-31",
			inc:   SameSeason,
			expected: [][2]string{
				{"2010-12-01", "2011-02-28"},
				{"2011-12-01", "2012-02-29"},
				{"2012-12-01", "2012-12-31"},
			},
		},
		{
			name:  "weeks",
			start: "2011-01-01",
			end:   "2011-01-20",
			inc:   Week,
			expected: [][2]string{
				{"2011-01-01", "2011-01-07"},
				{"2011-01-08", "2011-01-14"},
				{"2011-01-15", "2011-01-20"},
			},
		},
		{
			name:     "single day range",
			start:    "2011-05-05",
			end:      "2011-05-05",
			inc:      Month,
			expected: [][2]string{{"2011-05-05", "2011-05-05"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(d(tt.start), d(tt.end), tt.inc)
			require.NoError(t, err)

			windows := w.Windows()
			require.Len(t, windows, len(tt.expected))
			for i, exp := range tt.expected {
				assert.Equal(t, d(exp[0]), windows[i].Start, "window %d start", i)
				assert.Equal(t, d(exp[1]), windows[i].End, "window %d end", i)
				assert.Equal(t, tt.inc, windows[i].Increment)
			}
		})
	}
}

func TestNextSignalsEndPastRange(t *testing.T) {
	w, err := New(d("2011-01-01"), d("2011-01-31"), Month)
	require.NoError(t, err)

	first, ok := w.First()
	require.True(t, ok)
	_, ok = w.Next(first)
	assert.False(t, ok)

	none, err := New(d("2011-01-01"), d("2011-12-31"), None)
	require.NoError(t, err)
	only, _ := none.First()
	_, ok = none.Next(only)
	assert.False(t, ok)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	_, err := New(d("2012-01-02"), d("2012-01-01"), Month)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = New(d("2012-01-01"), d("2012-01-02"), Increment(99))
	assert.ErrorIs(t, err, ErrUnknownIncrement)
}

func TestBufferDaysCoverLeapWindows(t *testing.T) {
	w, err := New(d("2011-01-01"), d("2016-12-31"), Year)
	require.NoError(t, err)
	for _, win := range w.Windows() {
		assert.LessOrEqual(t, win.Days(), w.BufferDays(), win.String())
	}

	s, err := New(d("2011-12-01"), d("2016-11-30"), Season)
	require.NoError(t, err)
	for _, win := range s.Windows() {
		assert.LessOrEqual(t, win.Days(), s.BufferDays(), win.String())
	}
}

func TestParseIncrement(t *testing.T) {
	tests := map[string]Increment{
		"month":              Month,
		"Monthly":            Month,
		"seasonal":           Season,
		"same-month":         SameMonth,
		"multiyear-month":    SameMonth,
		"multiyear-seasonal": SameSeason,
		"multiyear":          None,
		"none":               None,
		"year":               Year,
	}
	for in, want := range tests {
		got, err := ParseIncrement(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIncrement("fortnight")
	assert.ErrorIs(t, err, ErrUnknownIncrement)
	assert.Equal(t, "same-season", SameSeason.String())
}

func TestIncrementLabelCarriesAnchor(t *testing.T) {
	assert.Equal(t, "same-month-jan", SameMonth.Label(d("2011-01-01")))
	assert.Equal(t, "same-month-feb", SameMonth.Label(d("2011-02-01")))
	assert.Equal(t, "same-season-djf", SameSeason.Label(d("2011-01-15")))
	assert.Equal(t, "same-season-mam", SameSeason.Label(d("2011-03-01")))
	assert.Equal(t, "month", Month.Label(d("2011-02-01")))
	assert.Empty(t, None.Anchor(d("2011-02-01")))
}

func TestCalendarHelpers(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(2012, time.February))
	assert.Equal(t, 28, DaysInMonth(2100, time.February))
	assert.Equal(t, 60, DayOfYear(d("2012-02-29")))
	assert.Equal(t, 365, DayOfYear(d("2011-12-31")))
	assert.Equal(t, "DJF", SeasonName(d("2011-02-10")))
	assert.Equal(t, "SON", SeasonName(d("2011-11-10")))

	win := Window{Start: d("2011-01-30"), End: d("2011-02-02")}
	assert.Equal(t, 4, win.Days())
	assert.Len(t, win.Dates(), 4)
	assert.True(t, win.Contains(time.Date(2011, 2, 1, 15, 0, 0, 0, time.UTC)))
	assert.False(t, win.Contains(d("2011-02-03")))
}
