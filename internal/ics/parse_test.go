package ics

import (
	"errors"
	"strings"
	"testing"
)

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n")
}

func TestParseComponentsBareVEvent(t *testing.T) {
	obj := crlf(
		"BEGIN:VEVENT",
		"UID:standup-1",
		"SUMMARY:Standup\\, daily",
		"DESCRIPTION:Line one\\nLine two",
		"LOCATION:Room 4",
		"DTSTART:20231114T230000Z",
		"DTEND:20231115T000000Z",
		"STATUS:confirmed",
		"END:VEVENT",
	)

	comps, err := ParseComponents(obj)
	if err != nil {
		t.Fatalf("ParseComponents error: %v", err)
	}
	if len(comps) != 1 {
		t.Fatalf("len = %d, want 1", len(comps))
	}
	c := comps[0]
	if c.UID != "standup-1" {
		t.Errorf("UID = %q", c.UID)
	}
	if c.Summary != "Standup, daily" {
		t.Errorf("Summary = %q, want %q", c.Summary, "Standup, daily")
	}
	if c.Description != "Line one\nLine two" {
		t.Errorf("Description = %q", c.Description)
	}
	if c.Location != "Room 4" {
		t.Errorf("Location = %q", c.Location)
	}
	if c.Status != "CONFIRMED" {
		t.Errorf("Status = %q", c.Status)
	}
	if c.Start == nil || c.Start.Value != "20231114T230000Z" || c.Start.IsDate {
		t.Errorf("Start = %+v", c.Start)
	}
	if c.End == nil || c.End.Value != "20231115T000000Z" {
		t.Errorf("End = %+v", c.End)
	}
}

func TestParseComponentsCalendarWithParams(t *testing.T) {
	obj := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//test//EN\n" +
		"BEGIN:VEVENT\nUID:a\nDTSTART;VALUE=DATE:20231115\nDTEND;VALUE=DATE:20231116\nSUMMARY:Holiday\nEND:VEVENT\n" +
		"BEGIN:VEVENT\nUID:b\nDTSTART;TZID=Europe/Berlin:20231115T090000\n" +
		"RRULE:FREQ=WEEKLY;COUNT=3\nEXDATE;TZID=Europe/Berlin:20231122T090000,20231129T090000\n" +
		"RDATE:20231201T080000Z\nEND:VEVENT\n" +
		"END:VCALENDAR\n"

	comps, err := ParseComponents(obj)
	if err != nil {
		t.Fatalf("ParseComponents error: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("len = %d, want 2", len(comps))
	}

	if !comps[0].Start.IsDate {
		t.Error("VALUE=DATE start not detected as date")
	}

	b := comps[1]
	if b.Start.TZID != "Europe/Berlin" {
		t.Errorf("TZID = %q", b.Start.TZID)
	}
	if b.RRule != "FREQ=WEEKLY;COUNT=3" {
		t.Errorf("RRule = %q", b.RRule)
	}
	if len(b.ExDates) != 2 || b.ExDates[1].Value != "20231129T090000" || b.ExDates[1].TZID != "Europe/Berlin" {
		t.Errorf("ExDates = %+v", b.ExDates)
	}
	if len(b.RDates) != 1 || b.RDates[0].Value != "20231201T080000Z" {
		t.Errorf("RDates = %+v", b.RDates)
	}
	if b.Summary != "" {
		t.Errorf("Summary = %q, want empty", b.Summary)
	}
}

func TestParseComponentsEmpty(t *testing.T) {
	if _, err := ParseComponents("   "); err == nil {
		t.Fatal("expected error for empty object")
	}
}

func TestResolveEvent(t *testing.T) {
	n := Normalizer{}
	start := &TimeValue{Value: "20231114T230000Z"}

	ev, err := n.ResolveEvent(Component{UID: "x", Start: start, End: &TimeValue{Value: "bogus"}})
	if err != nil {
		t.Fatalf("ResolveEvent error: %v", err)
	}
	if ev.Start.Unix() != 1700002800 {
		t.Errorf("Start = %d", ev.Start.Unix())
	}
	if !ev.End.IsZero() {
		t.Errorf("invalid DTEND should resolve to zero, got %v", ev.End)
	}

	if _, err := n.ResolveEvent(Component{UID: "y"}); !errors.Is(err, ErrNoStart) {
		t.Errorf("missing DTSTART err = %v, want ErrNoStart", err)
	}
	if _, err := n.ResolveEvent(Component{UID: "z", Start: &TimeValue{Value: "20231340T000000Z"}}); !errors.Is(err, ErrNoStart) {
		t.Errorf("bad DTSTART err = %v, want ErrNoStart", err)
	}
}

func TestUnescapeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{`plain`, `plain`},
		{`a\, b\; c`, `a, b; c`},
		{`one\Ntwo`, "one\ntwo"},
		{`back\\slash`, `back\slash`},
		{`trailing\`, `trailing\`},
		{`keep\x`, `keep\x`},
	}
	for _, tt := range tests {
		if got := unescapeText(tt.in); got != tt.want {
			t.Errorf("unescapeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
