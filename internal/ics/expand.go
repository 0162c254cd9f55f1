package ics

import (
	"math"
	"time"

	"github.com/teambition/rrule-go"

	"edscal/internal/backend"
	appLog "edscal/internal/log"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultEventLength            = time.Hour
)

// ExpandConfig controls how events are turned into instances.
type ExpandConfig struct {
	// Range is the query window. Only recurring series and their detached
	// instances are filtered against it; stand-alone events already matched
	// the backend predicate.
	Range backend.Range

	// Recurrences enables RRULE/RDATE expansion. When false every event,
	// masters included, yields exactly one instance at its own DTSTART.
	Recurrences bool

	// MaxOccurrencesPerEvent caps a single series. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Instance is one concrete occurrence of an event.
type Instance struct {
	Event *Event
	Start time.Time
	// End is zero when the event has no usable end.
	End time.Time
}

// ExpandResult wraps the instances and the UIDs whose expansion hit the cap.
type ExpandResult struct {
	Instances       []Instance
	TruncatedEvents []string
}

// Expand turns the events of one source into instances. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence plus RDATE additions
//   - EXDATE for exception removal
//   - RECURRENCE-ID detached instances replacing generated ones
//   - All-day semantics (calendar-day lengths across DST changes)
func Expand(events []Event, cfg ExpandConfig) ExpandResult {
	var result ExpandResult
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	if !cfg.Recurrences {
		for i := range events {
			ev := &events[i]
			result.Instances = append(result.Instances, Instance{Event: ev, Start: ev.Start, End: ev.End})
		}
		return result
	}

	// Group masters and detached instances by UID.
	masters := make(map[string]bool)
	overrides := make(map[string][]*Event)
	for i := range events {
		ev := &events[i]
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else if ev.Recurring() {
			masters[ev.UID] = true
		}
	}

	for i := range events {
		ev := &events[i]
		switch {
		case ev.RecurrenceID != nil:
			// A detached instance of a series we expand competes with the
			// range like any occurrence. Without its master it already
			// matched the backend predicate.
			if masters[ev.UID] && !cfg.Range.Overlaps(ev.Start, EffectiveEnd(ev.Start, ev.End)) {
				continue
			}
			result.Instances = append(result.Instances, Instance{Event: ev, Start: ev.Start, End: ev.End})
		case ev.Recurring():
			inst, hitCap := expandRecurring(ev, overrides[ev.UID], cfg)
			result.Instances = append(result.Instances, inst...)
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
				appLog.Warn("expand: truncated occurrences for UID due to cap",
					"uid", ev.UID,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
		default:
			result.Instances = append(result.Instances, Instance{Event: ev, Start: ev.Start, End: ev.End})
		}
	}
	return result
}

func expandRecurring(ev *Event, overrides []*Event, cfg ExpandConfig) ([]Instance, bool) {
	var set rrule.Set
	if ev.RRule != "" {
		// UNTIL without "Z" is read in the zone of DTSTART.
		r, err := parseRRule(ev.RRule, ev.Start)
		if err != nil {
			appLog.Error("expand: failed to parse RRULE; using DTSTART only", err, "uid", ev.UID, "rrule", ev.RRule)
			set.RDate(ev.Start)
		} else {
			set.RRule(r)
		}
	} else {
		// RDATE-only series: DTSTART is the first occurrence.
		set.RDate(ev.Start)
	}
	for _, rd := range ev.RDates {
		set.RDate(rd.In(ev.Start.Location()))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	length := occurrenceLength(ev)

	// Widen the lower bound so occurrences already running at Range.Start
	// are found.
	from := cfg.Range.Start.Add(-length).In(ev.Start.Location())
	to := cfg.Range.End.In(ev.Start.Location())

	// Stop at the cap without materializing the whole series.
	var starts []time.Time
	hitCap := false
	next := set.Iterator()
	for s, ok := next(); ok && !s.After(to); s, ok = next() {
		if s.Before(from) {
			continue
		}
		if len(starts) == cfg.MaxOccurrencesPerEvent {
			hitCap = true
			break
		}
		starts = append(starts, s)
	}

	out := make([]Instance, 0, len(starts))
	for _, s := range starts {
		if isOverridden(s, overrides) {
			continue
		}
		e := occurrenceEnd(ev, s)
		if !cfg.Range.Overlaps(s, EffectiveEnd(s, e)) {
			continue
		}
		out = append(out, Instance{Event: ev, Start: s, End: e})
	}
	return out, hitCap
}

// parseRRule parses an RRULE value with UNTIL and DTSTART interpreted in
// the location of dtstart.
func parseRRule(value string, dtstart time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROptionInLocation(value, dtstart.Location())
	if err != nil {
		return nil, err
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// occurrenceLength is the span used to widen the search window.
func occurrenceLength(ev *Event) time.Duration {
	if ev.End.After(ev.Start) {
		return ev.End.Sub(ev.Start)
	}
	return defaultEventLength
}

// occurrenceEnd keeps the master's length. All-day series keep their length
// in calendar days so DST transitions do not shift the end off midnight.
func occurrenceEnd(ev *Event, start time.Time) time.Time {
	if ev.End.IsZero() {
		return time.Time{}
	}
	if ev.AllDay {
		days := int(math.Round(ev.End.Sub(ev.Start).Hours() / 24))
		return start.AddDate(0, 0, days)
	}
	return start.Add(ev.End.Sub(ev.Start))
}

func isOverridden(start time.Time, overrides []*Event) bool {
	for _, ov := range overrides {
		if ov.RecurrenceID != nil && ov.RecurrenceID.Equal(start) {
			return true
		}
	}
	return false
}

// EffectiveEnd applies the default one-hour length to a missing or
// non-advancing end.
func EffectiveEnd(start, end time.Time) time.Time {
	if end.After(start) {
		return end
	}
	return start.Add(defaultEventLength)
}

// OccursIn mirrors the EDS occur-in-time-range? predicate for backends that
// filter locally: a stand-alone event must overlap r, a series must have at
// least one overlapping occurrence.
func OccursIn(ev Event, r backend.Range, maxOccurrences int) bool {
	if !ev.Recurring() {
		return r.Overlaps(ev.Start, EffectiveEnd(ev.Start, ev.End))
	}
	res := Expand([]Event{ev}, ExpandConfig{Range: r, Recurrences: true, MaxOccurrencesPerEvent: maxOccurrences})
	return len(res.Instances) > 0
}
