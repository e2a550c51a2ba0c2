package recurrence

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Layouts without a zone are read as wall-clock time in the caller's
// location.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	dateLayout,
}

// ParseInstant reads an ISO-8601 date or instant. Values without a zone
// are wall-clock time in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EndOfDay returns 23:59:59.999 in loc on the calendar date written at the
// start of s. Only the date part counts, so "2025-01-06" and
// "2025-01-06T00:00:00Z" both end on 6 January in loc.
func EndOfDay(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(dateLayout) {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(dateLayout, s[:len(dateLayout)], loc)
	if err != nil {
		return time.Time{}, false
	}
	if rest := s[len(dateLayout):]; rest != "" && rest[0] != 'T' && rest[0] != ' ' {
		return time.Time{}, false
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, 23, 59, 59, int(999*time.Millisecond), loc), true
}
