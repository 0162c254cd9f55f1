package ics

import (
	"strings"
	"sync"
	"time"
)

// libical prefixes its builtin zones, e.g.
// "/freeassociation.sourceforge.net/Tzfile/Europe/Berlin".
const libicalPrefix = "/freeassociation.sourceforge.net/"

// Map of common Windows timezone names to IANA timezone names. Exchange and
// Outlook accounts routinely emit these as TZID.
var windowsToIANA = map[string]string{
	"Pacific Standard Time":          "America/Los_Angeles",
	"Mountain Standard Time":         "America/Denver",
	"Central Standard Time":          "America/Chicago",
	"Eastern Standard Time":          "America/New_York",
	"Atlantic Standard Time":         "America/Halifax",
	"Alaskan Standard Time":          "America/Anchorage",
	"Hawaiian Standard Time":         "Pacific/Honolulu",
	"GMT Standard Time":              "Europe/London",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Romance Standard Time":          "Europe/Paris",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Central European Standard Time": "Europe/Warsaw",
	"E. Europe Standard Time":        "Europe/Chisinau",
	"FLE Standard Time":              "Europe/Kiev",
	"Russian Standard Time":          "Europe/Moscow",
	"China Standard Time":            "Asia/Shanghai",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"India Standard Time":            "Asia/Kolkata",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"UTC":                            "UTC",
}

var zoneCache sync.Map // normalized TZID -> *time.Location (nil when unknown)

// NormalizeTZID strips quoting and libical prefixes and maps Windows names.
func NormalizeTZID(tzid string) string {
	tz := strings.Trim(strings.TrimSpace(tzid), `"`)
	if i := strings.Index(tz, libicalPrefix); i >= 0 {
		tz = strings.TrimPrefix(tz[i+len(libicalPrefix):], "Tzfile/")
	}
	if iana, ok := windowsToIANA[tz]; ok {
		return iana
	}
	return tz
}

// LoadZone resolves a TZID to a location. The second result is false when the
// zone is unknown, in which case callers treat the value as floating.
func LoadZone(tzid string) (*time.Location, bool) {
	name := NormalizeTZID(tzid)
	if name == "" {
		return nil, false
	}
	if v, ok := zoneCache.Load(name); ok {
		loc, _ := v.(*time.Location)
		return loc, loc != nil
	}
	loc := lookupZone(name)
	zoneCache.Store(name, loc)
	return loc, loc != nil
}

// lookupZone tries name and then ever shorter suffixes of it, so vendor
// prefixes like "/softwarestudio.org/Olson_20011030_5/America/New_York" still
// resolve.
func lookupZone(name string) *time.Location {
	for cand := strings.TrimPrefix(name, "/"); cand != ""; {
		if loc, err := time.LoadLocation(cand); err == nil {
			return loc
		}
		_, rest, ok := strings.Cut(cand, "/")
		if !ok {
			break
		}
		cand = rest
	}
	return nil
}
