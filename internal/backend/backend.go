// Package backend defines the narrow capability interface the event
// extractor needs from a calendar service: enumerate sources, connect to one,
// and query it by time range.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by Probe (wrapped) when the calendar service
// cannot be reached at all.
var ErrUnavailable = errors.New("calendar backend unavailable")

// Source is a configured calendar as reported by the backend registry.
type Source struct {
	UID     string
	Name    string
	Enabled bool
	// Parent is the uid of the owning account source, if any.
	Parent string
}

// Range is a half-open query window [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [start, end) intersects the range. A zero-length
// event overlaps when it starts inside the range.
func (r Range) Overlaps(start, end time.Time) bool {
	if !end.After(start) {
		return !start.Before(r.Start) && start.Before(r.End)
	}
	return start.Before(r.End) && end.After(r.Start)
}

// Backend enumerates sources and opens per-source clients.
type Backend interface {
	// Name identifies the backend in logs ("eds", "ics").
	Name() string
	// Probe reports whether the service is reachable.
	Probe(ctx context.Context) error
	// Sources lists all calendar sources, enabled or not.
	Sources(ctx context.Context) ([]Source, error)
	// Connect opens a client for one source.
	Connect(ctx context.Context, src Source) (Client, error)
}

// Client answers range queries for one source.
type Client interface {
	// Query returns raw iCalendar components (VEVENT or VCALENDAR text) that
	// occur in the range according to the backend's own predicate.
	Query(ctx context.Context, r Range) ([]string, error)
	Close() error
}
