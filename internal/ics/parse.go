package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "parishcal/internal/log"
)

// VEvent is the subset of a VEVENT the importer needs.
type VEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	AllDay bool

	RRule   string
	RDates  []time.Time
	ExDates []time.Time
	// Override is set for RECURRENCE-ID instances.
	Override bool
}

// Parse reads an ICS payload. Floating and date-only values are read as
// wall-clock time in loc. Broken VEVENTs are logged and skipped.
func Parse(body []byte, loc *time.Location) ([]VEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, errors.New("body is not an ICS calendar")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]VEvent, 0)
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(comp, loc)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "err", err.Error())
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (VEvent, error) {
	var out VEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	starts := propTimes(dtStart, loc)
	if len(starts) == 0 {
		return out, errors.New("unparseable DTSTART " + dtStart.Value)
	}
	out.Start = starts[0]
	out.AllDay = isDateValue(dtStart)

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentProperty("RDATE")) {
		out.RDates = append(out.RDates, propTimes(p, loc)...)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		out.ExDates = append(out.ExDates, propTimes(p, loc)...)
	}
	if ve.GetProperty("RECURRENCE-ID") != nil {
		out.Override = true
	}
	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propTimes parses a (possibly comma-separated) date or date-time property,
// honoring its TZID parameter.
func propTimes(p *ical.IANAProperty, loc *time.Location) []time.Time {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		} else {
			appLog.Debug("ics: unknown TZID; using display zone", "tzid", tzs[0])
		}
	}
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if t, err := parseICSTime(part, loc); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
