// Package extract implements the event extractor: it walks the enabled
// sources of a backend, queries each for a time range, normalizes the
// returned iCalendar objects and merges them into EventRecords sorted by
// start time.
//
// Failures are contained: a source that cannot be opened or queried, and an
// object that cannot be parsed, are logged and skipped.
package extract

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"edscal/internal/backend"
	"edscal/internal/ics"
	appLog "edscal/internal/log"
	"edscal/internal/model"
)

// Options tune extraction. The zero value expands nothing and uses the
// system zone for date-only values.
type Options struct {
	Normalizer             ics.Normalizer
	ExpandRecurrences      bool
	MaxOccurrencesPerEvent int
	// Skip holds source uids or display names to treat as disabled.
	Skip []string
}

// Extractor turns backend sources into EventRecords.
type Extractor struct {
	backend backend.Backend
	opts    Options
	skip    map[string]bool
}

// New returns an Extractor reading from b.
func New(b backend.Backend, opts Options) *Extractor {
	skip := make(map[string]bool, len(opts.Skip))
	for _, s := range opts.Skip {
		if s = strings.TrimSpace(s); s != "" {
			skip[s] = true
		}
	}
	return &Extractor{backend: b, opts: opts, skip: skip}
}

// Status is the outcome of the availability probe.
type Status struct {
	Available bool
	Reason    string
}

func (s Status) String() string {
	if s.Available {
		return "available"
	}
	return "unavailable: " + s.Reason
}

// Check probes the backend. It never fails; a missing backend is reported in
// the Status.
func (x *Extractor) Check(ctx context.Context) Status {
	if err := x.backend.Probe(ctx); err != nil {
		return Status{Reason: err.Error()}
	}
	return Status{Available: true}
}

// Calendars returns the enabled, non-skipped sources.
func (x *Extractor) Calendars(ctx context.Context) ([]model.Calendar, error) {
	sources, err := x.backend.Sources(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Calendar, 0, len(sources))
	for _, src := range sources {
		if !x.active(src) {
			continue
		}
		out = append(out, model.Calendar{UID: src.UID, Name: src.Name, Enabled: true})
	}
	return out, nil
}

func (x *Extractor) active(src backend.Source) bool {
	return src.Enabled && !x.skip[src.UID] && !x.skip[src.Name]
}

// Events returns all records in [start, end) from every enabled source,
// sorted ascending by start. Only a failure to enumerate sources is
// returned as an error.
func (x *Extractor) Events(ctx context.Context, start, end time.Time) ([]model.EventRecord, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("range end %d is before start %d", end.Unix(), start.Unix())
	}
	r := backend.Range{Start: start, End: end}
	appLog.Info("extracting events", "backend", x.backend.Name(), "start", start.Unix(), "end", end.Unix())

	sources, err := x.backend.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	appLog.Info("found calendar sources", "count", len(sources))

	records := make([]model.EventRecord, 0)
	for _, src := range sources {
		if !x.active(src) {
			appLog.Info("skipping disabled calendar", "calendar", src.Name, "uid", src.UID)
			continue
		}
		recs, err := x.fromSource(ctx, src, r)
		if err != nil {
			appLog.Error("calendar failed", err, "calendar", src.Name, "uid", src.UID)
			continue
		}
		appLog.Info("finished calendar", "calendar", src.Name, "events", len(recs))
		records = append(records, recs...)
	}

	slices.SortStableFunc(records, func(a, b model.EventRecord) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	appLog.Info("extraction done", "events", len(records))
	return records, nil
}

func (x *Extractor) fromSource(ctx context.Context, src backend.Source, r backend.Range) ([]model.EventRecord, error) {
	appLog.Debug("connecting", "calendar", src.Name, "uid", src.UID)
	client, err := x.backend.Connect(ctx, src)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			appLog.Debug("close failed", "calendar", src.Name, "err", err)
		}
	}()

	objects, err := client.Query(ctx, r)
	if err != nil {
		return nil, err
	}
	appLog.Info("got object list", "calendar", src.Name, "count", len(objects))
	if len(objects) == 0 {
		return nil, nil
	}

	events := make([]ics.Event, 0, len(objects))
	for idx, obj := range objects {
		comps, err := ics.ParseComponents(obj)
		if err != nil {
			appLog.Error("skipping event", err, "calendar", src.Name, "index", idx)
			continue
		}
		for _, c := range comps {
			ev, err := x.opts.Normalizer.ResolveEvent(c)
			if err != nil {
				appLog.Warn("skipping event", "calendar", src.Name, "index", idx, "uid", c.UID, "err", err)
				continue
			}
			events = append(events, ev)
		}
		if (idx+1)%10 == 0 {
			appLog.Info("processed events", "calendar", src.Name, "count", idx+1)
		}
	}

	res := ics.Expand(events, ics.ExpandConfig{
		Range:                  r,
		Recurrences:            x.opts.ExpandRecurrences,
		MaxOccurrencesPerEvent: x.opts.MaxOccurrencesPerEvent,
	})

	out := make([]model.EventRecord, 0, len(res.Instances))
	for _, inst := range res.Instances {
		out = append(out, toRecord(inst, src.Name))
	}
	return out, nil
}

func toRecord(inst ics.Instance, calendar string) model.EventRecord {
	summary := inst.Event.Summary
	if summary == "" {
		summary = model.DefaultSummary
	}
	start := inst.Start.Unix()
	end := start + model.DefaultDuration
	if !inst.End.IsZero() && inst.End.Unix() > start {
		end = inst.End.Unix()
	}
	return model.EventRecord{
		Summary:     summary,
		Start:       start,
		End:         end,
		Location:    inst.Event.Location,
		Description: inst.Event.Description,
		Calendar:    calendar,
	}
}
