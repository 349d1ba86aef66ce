// Package units holds the temperature and timezone conventions shared by
// every component: all dates crossing process boundaries are ISO local
// dates, and observation rows store both Fahrenheit and Celsius.
package units

import (
	"math"
	"time"

	"github.com/nmoreira/weatheredge/pkg/types"
)

// DateLayout is the ISO local-date wire format.
const DateLayout = "2006-01-02"

// CToF converts Celsius to Fahrenheit, rounded to the nearest degree.
func CToF(c float64) float64 {
	return math.Round(c*9/5 + 32)
}

// FToC converts Fahrenheit to Celsius, rounded to one decimal place.
func FToC(f float64) float64 {
	return math.Round((f-32)*5/9*10) / 10
}

// Convert converts a temperature between units. Same-unit conversion is the
// identity, not a round-trip through the other unit.
func Convert(temp float64, from, to types.Unit) float64 {
	if from == to {
		return temp
	}
	if from == types.UnitC {
		return CToF(temp)
	}
	return FToC(temp)
}

// LocalDate formats t in loc as an ISO local date.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ParseLocalDate parses an ISO date in the given location, at midnight.
func ParseLocalDate(date string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, date, loc)
}

// UTCWindow returns the UTC observation window [start, end) covering the
// local calendar day. The timezone offset is taken at 12:00 UTC of the
// target date, which sidesteps DST-boundary ambiguity: a city transitioning
// that day still maps to its canonical local-calendar day.
func UTCWindow(date string, loc *time.Location) (time.Time, time.Time, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	noon := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.UTC)
	_, offset := noon.In(loc).Zone()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).
		Add(-time.Duration(offset) * time.Second)
	return start, start.Add(24 * time.Hour), nil
}

// HoursUntilEndOfLocalDay returns the hours from now until midnight at the
// end of the target local date. Negative when the date is already past.
func HoursUntilEndOfLocalDay(now time.Time, date string, loc *time.Location) float64 {
	d, err := ParseLocalDate(date, loc)
	if err != nil {
		return 0
	}
	end := d.AddDate(0, 0, 1)
	return end.Sub(now.In(loc)).Hours()
}
