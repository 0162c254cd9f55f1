package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime marks a date/date-time value that is malformed or outside
// the accepted calendar bounds. Such values are skipped, not fatal.
var ErrInvalidTime = errors.New("invalid calendar time")

const (
	minYear = 1970
	maxYear = 2100
)

// TimeValue is a raw DTSTART/DTEND/EXDATE/RDATE/RECURRENCE-ID value together
// with the parameters needed to interpret it.
type TimeValue struct {
	Value  string
	TZID   string
	IsDate bool
}

// Normalizer turns TimeValues into instants.
//
// Date-only values resolve to midnight in Local (the system zone by default),
// not UTC midnight, unless AllDayUTC is set. Floating date-times (no "Z", no
// TZID) keep their wall clock in Floating, which defaults to UTC. Unknown
// TZIDs are treated as floating.
type Normalizer struct {
	Local     *time.Location
	Floating  *time.Location
	AllDayUTC bool
}

func (n Normalizer) local() *time.Location {
	if n.AllDayUTC {
		return time.UTC
	}
	if n.Local == nil {
		return time.Local
	}
	return n.Local
}

func (n Normalizer) floating() *time.Location {
	if n.Floating == nil {
		return time.UTC
	}
	return n.Floating
}

// Resolve returns the instant for tv, expressed in the zone it was defined
// in. Callers wanting UTC seconds use Unix().
func (n Normalizer) Resolve(tv TimeValue) (time.Time, error) {
	f, err := splitFields(tv)
	if err != nil {
		return time.Time{}, err
	}

	if f.isDate {
		if f.year < minYear || f.year > maxYear {
			return time.Time{}, fmt.Errorf("%w: year %d out of range", ErrInvalidTime, f.year)
		}
		return time.Date(f.year, time.Month(f.month), f.day, 0, 0, 0, 0, n.local()), nil
	}

	loc := n.floating()
	switch {
	case f.utc:
		loc = time.UTC
	case tv.TZID != "":
		if zl, ok := LoadZone(tv.TZID); ok {
			loc = zl
		}
	}

	t := time.Date(f.year, time.Month(f.month), f.day, f.hour, f.minute, f.second, 0, loc)
	if y := t.UTC().Year(); y < minYear || y > maxYear {
		return time.Time{}, fmt.Errorf("%w: year %d out of range", ErrInvalidTime, y)
	}
	return t, nil
}

type fields struct {
	year, month, day     int
	hour, minute, second int
	isDate, utc          bool
}

// splitFields parses YYYYMMDD or YYYYMMDDTHHMMSS[Z] and checks calendar
// bounds. time.Date would silently normalize Feb 30 to Mar 2, so every field
// is range-checked first.
func splitFields(tv TimeValue) (fields, error) {
	var f fields
	v := strings.ToUpper(strings.TrimSpace(tv.Value))
	if v == "" {
		return f, fmt.Errorf("%w: empty value", ErrInvalidTime)
	}

	if strings.HasSuffix(v, "Z") {
		f.utc = true
		v = strings.TrimSuffix(v, "Z")
	}

	datePart, timePart, hasTime := strings.Cut(v, "T")
	f.isDate = tv.IsDate || !hasTime
	if len(datePart) != 8 {
		return f, fmt.Errorf("%w: %q", ErrInvalidTime, tv.Value)
	}

	var err error
	if f.year, err = digits(datePart[0:4]); err != nil {
		return f, err
	}
	if f.month, err = digits(datePart[4:6]); err != nil {
		return f, err
	}
	if f.day, err = digits(datePart[6:8]); err != nil {
		return f, err
	}
	if f.month < 1 || f.month > 12 {
		return f, fmt.Errorf("%w: month %d", ErrInvalidTime, f.month)
	}
	if f.day < 1 || f.day > daysIn(f.year, f.month) {
		return f, fmt.Errorf("%w: day %d of %04d-%02d", ErrInvalidTime, f.day, f.year, f.month)
	}

	if f.isDate {
		return f, nil
	}

	if len(timePart) != 6 {
		return f, fmt.Errorf("%w: %q", ErrInvalidTime, tv.Value)
	}
	if f.hour, err = digits(timePart[0:2]); err != nil {
		return f, err
	}
	if f.minute, err = digits(timePart[2:4]); err != nil {
		return f, err
	}
	if f.second, err = digits(timePart[4:6]); err != nil {
		return f, err
	}
	if f.hour > 23 || f.minute > 59 || f.second > 60 {
		return f, fmt.Errorf("%w: time %s", ErrInvalidTime, timePart)
	}
	// Leap second.
	if f.second == 60 {
		f.second = 59
	}
	return f, nil
}

func digits(s string) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: non-digit in %q", ErrInvalidTime, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	return n, nil
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FormatUTC renders t as YYYYMMDDTHHMMSSZ, the form EDS expects in
// make-time.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
