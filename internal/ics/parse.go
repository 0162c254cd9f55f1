package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ErrNoStart marks a VEVENT whose DTSTART is missing or unusable.
var ErrNoStart = errors.New("event has no usable start time")

const (
	propRDate        = ical.ComponentProperty("RDATE")
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propStatus       = ical.ComponentProperty("STATUS")
)

// Component is a VEVENT with its text fields decoded and its time
// properties kept raw. Time interpretation happens in Normalizer.
type Component struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Status      string

	Start *TimeValue
	End   *TimeValue

	RRule        string
	RDates       []TimeValue
	ExDates      []TimeValue
	RecurrenceID *TimeValue
}

// ParseComponents parses one backend object. EDS hands out bare VEVENT text;
// feeds and some backends hand out a whole VCALENDAR. Both are accepted.
func ParseComponents(obj string) ([]Component, error) {
	body := strings.TrimSpace(obj)
	if body == "" {
		return nil, errors.New("empty iCalendar object")
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if !strings.HasPrefix(strings.ToUpper(body), "BEGIN:VCALENDAR") {
		body = "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//edscal//EN\n" + body + "\nEND:VCALENDAR"
	}
	body = strings.ReplaceAll(body, "\n", "\r\n") + "\r\n"

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse iCalendar: %w", err)
	}

	events := cal.Events()
	out := make([]Component, 0, len(events))
	for _, ve := range events {
		out = append(out, parseVEvent(ve))
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) Component {
	var c Component

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		c.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		c.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		c.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		c.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(propStatus); p != nil {
		c.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		tv := timeValueOf(p.Value, p.ICalParameters)
		c.Start = &tv
	}
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		tv := timeValueOf(p.Value, p.ICalParameters)
		c.End = &tv
	}
	if p := ve.GetProperty(propRecurrenceID); p != nil {
		tv := timeValueOf(p.Value, p.ICalParameters)
		c.RecurrenceID = &tv
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		c.RRule = strings.TrimSpace(p.Value)
	}

	// EXDATE and RDATE can appear multiple times, each with a comma-separated
	// list of values sharing one set of parameters.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		c.ExDates = append(c.ExDates, timeListOf(p.Value, p.ICalParameters)...)
	}
	for _, p := range ve.GetProperties(propRDate) {
		c.RDates = append(c.RDates, timeListOf(p.Value, p.ICalParameters)...)
	}

	return c
}

func timeValueOf(value string, params map[string][]string) TimeValue {
	tv := TimeValue{Value: strings.TrimSpace(value)}
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		tv.IsDate = true
	}
	if !strings.Contains(tv.Value, "T") {
		tv.IsDate = true
	}
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		tv.TZID = strings.Trim(tzs[0], `"`)
	}
	return tv
}

func timeListOf(value string, params map[string][]string) []TimeValue {
	var out []TimeValue
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		// PERIOD values (start/end or start/duration) are not supported.
		if part == "" || strings.Contains(part, "/") {
			continue
		}
		out = append(out, timeValueOf(part, params))
	}
	return out
}

// unescapeText decodes RFC 5545 TEXT escapes.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\', ':':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Event is a Component with its times resolved to instants.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Status      string

	Start time.Time
	// End is zero when DTEND is missing or could not be resolved.
	End    time.Time
	AllDay bool

	RRule        string
	RDates       []time.Time
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// Recurring reports whether the event is the master of a series.
func (e Event) Recurring() bool {
	return e.RecurrenceID == nil && (e.RRule != "" || len(e.RDates) > 0)
}

// ResolveEvent interprets all time properties of c with n. A missing or
// invalid DTSTART yields ErrNoStart. Invalid DTEND, EXDATE and RDATE values
// are dropped.
func (n Normalizer) ResolveEvent(c Component) (Event, error) {
	ev := Event{
		UID:         c.UID,
		Summary:     c.Summary,
		Description: c.Description,
		Location:    c.Location,
		Status:      c.Status,
		RRule:       c.RRule,
	}

	if c.Start == nil {
		return ev, ErrNoStart
	}
	start, err := n.Resolve(*c.Start)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrNoStart, err)
	}
	ev.Start = start
	ev.AllDay = c.Start.IsDate

	if c.End != nil {
		if end, err := n.Resolve(*c.End); err == nil {
			ev.End = end
		}
	}

	if c.RecurrenceID != nil {
		if rid, err := n.Resolve(*c.RecurrenceID); err == nil {
			ev.RecurrenceID = &rid
		}
	}
	for _, tv := range c.ExDates {
		if t, err := n.Resolve(tv); err == nil {
			ev.ExDates = append(ev.ExDates, t)
		}
	}
	for _, tv := range c.RDates {
		if t, err := n.Resolve(tv); err == nil {
			ev.RDates = append(ev.RDates, t)
		}
	}
	return ev, nil
}
