package model

// Calendar is the JSON shape printed by the calendar listing.
type Calendar struct {
	UID     string `json:"uid"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// EventRecord is the flat representation of one event occurrence as consumed
// by the status-bar widget. Start and End are Unix seconds (UTC); End is
// always greater than Start.
type EventRecord struct {
	Summary     string `json:"summary"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Calendar    string `json:"calendar"`
}

// DefaultDuration is applied when an event has no usable end time.
const DefaultDuration int64 = 3600

// DefaultSummary replaces an empty SUMMARY.
const DefaultSummary = "(No title)"
