// Package wikitime parses Wikidata's signed, zoned timestamp grammar
// (`[+-]YYYY...-MM-DDTHH:MM:SSZ`) into a totally-ordered tuple and answers
// whether a qualifier time range is currently active.
//
// Wikidata dates are not always real calendar dates: month or day may be
// "00" to mean "unknown", and years can run into five or more digits for
// archaeological entities. Exact civil-calendar semantics are deliberately
// not attempted here — only relative ordering is required.
package wikitime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time is a totally-ordered tuple derived from a Wikidata time value.
// Month and Day are zero-based and saturating: a raw "00" stays 0, a raw
// "01" also becomes 0, preserving relative order without rejecting the
// Wikidata "unknown" sentinel.
type Time struct {
	Year   int64
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

// Compare returns -1, 0, or 1 as t is before, equal to, or after o.
func (t Time) Compare(o Time) int {
	switch {
	case t.Year != o.Year:
		return cmpInt64(t.Year, o.Year)
	case t.Month != o.Month:
		return cmpInt(t.Month, o.Month)
	case t.Day != o.Day:
		return cmpInt(t.Day, o.Day)
	case t.Hour != o.Hour:
		return cmpInt(t.Hour, o.Hour)
	case t.Minute != o.Minute:
		return cmpInt(t.Minute, o.Minute)
	default:
		return cmpInt(t.Second, o.Second)
	}
}

// Before reports whether t orders strictly before o.
func (t Time) Before(o Time) bool { return t.Compare(o) < 0 }

// After reports whether t orders strictly after o.
func (t Time) After(o Time) bool { return t.Compare(o) > 0 }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Parse parses a Wikidata time value (e.g. "+2020-03-01T00:00:00Z") together
// with its companion "timezone" qualifier (in minutes), and returns the
// resulting ordering tuple with the zone offset folded in.
func Parse(datetime string, zoneOffsetMinutes float64) (Time, error) {
	dateTimeParts := strings.SplitN(datetime, "T", 2)
	if len(dateTimeParts) != 2 {
		return Time{}, fmt.Errorf("wikitime: missing T separator in %q", datetime)
	}
	date, clock := dateTimeParts[0], dateTimeParts[1]

	if len(date) < 1 {
		return Time{}, fmt.Errorf("wikitime: empty date part in %q", datetime)
	}

	// Skip the leading sign when locating the year/month dash.
	dashIdx := strings.Index(date[1:], "-")
	if dashIdx == -1 {
		return Time{}, fmt.Errorf("wikitime: no date dash in %q", datetime)
	}
	dashIdx++ // re-align to index within date

	if len(date) < dashIdx+4 {
		return Time{}, fmt.Errorf("wikitime: date part too short in %q", datetime)
	}

	yearStr := date[:dashIdx]
	monthStr := date[dashIdx+1 : dashIdx+3]
	dayStr := date[dashIdx+4:]

	year, err := strconv.ParseInt(yearStr, 10, 64)
	if err != nil {
		return Time{}, fmt.Errorf("wikitime: invalid year %q: %w", yearStr, err)
	}
	monthRaw, err := strconv.Atoi(monthStr)
	if err != nil {
		return Time{}, fmt.Errorf("wikitime: invalid month %q: %w", monthStr, err)
	}
	dayRaw, err := strconv.Atoi(dayStr)
	if err != nil {
		return Time{}, fmt.Errorf("wikitime: invalid day %q: %w", dayStr, err)
	}

	clock = strings.TrimSuffix(clock, "Z")
	clockParts := strings.Split(clock, ":")
	if len(clockParts) != 3 {
		return Time{}, fmt.Errorf("wikitime: invalid time part in %q", datetime)
	}
	hour, err := strconv.Atoi(clockParts[0])
	if err != nil {
		return Time{}, fmt.Errorf("wikitime: invalid hour in %q: %w", datetime, err)
	}
	minute, err := strconv.Atoi(clockParts[1])
	if err != nil {
		return Time{}, fmt.Errorf("wikitime: invalid minute in %q: %w", datetime, err)
	}
	second, err := strconv.Atoi(clockParts[2])
	if err != nil {
		return Time{}, fmt.Errorf("wikitime: invalid second in %q: %w", datetime, err)
	}

	t := Time{
		Year:   year,
		Month:  saturatingPred(monthRaw),
		Day:    saturatingPred(dayRaw),
		Hour:   hour,
		Minute: minute,
		Second: second,
	}

	return applyZoneOffset(t, zoneOffsetMinutes), nil
}

// saturatingPred subtracts one, saturating at zero. Wikidata encodes
// month/day = 0 to mean "unknown"; this keeps that value orderable without
// going negative.
func saturatingPred(v int) int {
	if v <= 0 {
		return 0
	}
	return v - 1
}

// applyZoneOffset folds a minutes offset into t, carrying second->minute->
// hour->day->month->year. Months are treated as a fixed 31 days — only
// relative ordering is required, not a real calendar.
func applyZoneOffset(t Time, offsetMinutes float64) Time {
	minute := t.Minute + int(offsetMinutes)
	hour := t.Hour
	day := t.Day
	month := t.Month
	year := t.Year

	hour, minute = carry(hour, minute, 60)
	day, hour = carry(day, hour, 24)
	month, day = carry(month, day, 31)
	yearCarry, month := carry(int(year), month, 12)
	year = int64(yearCarry)

	return Time{Year: year, Month: month, Day: day, Hour: hour, Minute: minute, Second: t.Second}
}

// carry normalizes lo into [0, base), adjusting hi by the number of bases
// carried (positive or negative).
func carry(hi, lo, base int) (int, int) {
	for lo >= base {
		lo -= base
		hi++
	}
	for lo < 0 {
		lo += base
		hi--
	}
	return hi, lo
}

// Now returns the current instant as a Time tuple, scaled the same way
// parsed Wikidata times are (month/day zero-based), so it can be compared
// directly against the output of Parse.
func Now() Time {
	n := time.Now().UTC()
	return Time{
		Year:   int64(n.Year()),
		Month:  int(n.Month()) - 1,
		Day:    n.Day() - 1,
		Hour:   n.Hour(),
		Minute: n.Minute(),
		Second: n.Second(),
	}
}

// IsActive reports whether a qualifier range is "currently active": it
// returns false iff end is non-nil and strictly before now, or start is
// non-nil and strictly after now. A nil bound (qualifier absent, or its
// time failed to parse) never excludes activity.
func IsActive(now Time, start, end *Time) bool {
	if end != nil && end.Before(now) {
		return false
	}
	if start != nil && start.After(now) {
		return false
	}
	return true
}
