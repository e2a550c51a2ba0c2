package ics

import (
	"slices"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "parishcal/internal/log"
	"parishcal/internal/model"
	"parishcal/internal/recurrence"
)

// ExportConfig controls the published calendar.
type ExportConfig struct {
	Name     string
	Location *time.Location
	Now      time.Time
}

var rruleDays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Export renders events as a text/calendar feed.
//
// Single events keep their date. Weekly events start at their first
// occurrence on or after the base date and carry a WEEKLY RRULE; custom
// events start at their earliest listed date with the rest as RDATEs.
// Events that can never occur are left out.
func Export(events []model.Event, cfg ExportConfig) ([]byte, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//parishcal//events//EN")
	if cfg.Name != "" {
		cal.SetXWRCalName(cfg.Name)
	}
	cal.SetXWRTimezone(cfg.Location.String())

	for _, ev := range events {
		p, err := recurrence.PolicyFromSettings(ev.RepeatSettings)
		if err != nil {
			appLog.Error("ics: export skipped event", err, "id", ev.ID)
			continue
		}

		var (
			start  time.Time
			rule   string
			rdates []time.Time
		)
		switch p.Kind {
		case recurrence.KindNone:
			start = ev.EventDate.Time(cfg.Location)
		case recurrence.KindWeekly:
			// One second before base so a base that falls on a listed
			// weekday is itself the first instance.
			first, ok := recurrence.NextOccurrence(ev.EventDate, p, ev.EventDate.Time(cfg.Location).Add(-time.Second))
			if !ok {
				continue
			}
			start = first.Time(cfg.Location)
			rule = weeklyRule(p, cfg.Location)
		case recurrence.KindCustom:
			dates := customDates(p, cfg.Location)
			if len(dates) == 0 {
				continue
			}
			start, rdates = dates[0], dates[1:]
		}

		ve := cal.AddEvent(ev.ID + "@parishcal")
		stamp := ev.UpdatedAt
		if stamp.IsZero() {
			stamp = cfg.Now
		}
		ve.SetDtStampTime(stamp)
		if tzid := zoneName(cfg.Location); rule != "" && tzid != "" {
			// BYDAY is evaluated in the zone of DTSTART.
			ve.SetProperty(ical.ComponentPropertyDtStart, start.In(cfg.Location).Format("20060102T150405"), ical.WithTZID(tzid))
		} else {
			ve.SetStartAt(start)
		}
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if rule != "" {
			ve.AddProperty(ical.ComponentPropertyRrule, rule)
		}
		for _, d := range rdates {
			ve.AddProperty(ical.ComponentProperty("RDATE"), d.UTC().Format("20060102T150405Z"))
		}
	}

	return []byte(cal.Serialize()), nil
}

// zoneName returns the IANA name of loc, or "" when loc is UTC or has no
// name a reader could load.
func zoneName(loc *time.Location) string {
	name := loc.String()
	if name == "UTC" || name == "Local" || name == "" {
		return ""
	}
	if _, err := time.LoadLocation(name); err != nil {
		return ""
	}
	return name
}

func weeklyRule(p recurrence.Policy, loc *time.Location) string {
	opt := rrule.ROption{Freq: rrule.WEEKLY}
	var listed [7]bool
	for _, d := range p.Weekdays {
		if d >= 0 && d <= 6 {
			listed[d] = true
		}
	}
	for d, ok := range listed {
		if ok {
			opt.Byweekday = append(opt.Byweekday, rruleDays[d])
		}
	}
	if end, ok := recurrence.EndOfDay(p.RecurrenceEnd, loc); ok {
		opt.Until = end.Truncate(time.Second).UTC()
	}
	return opt.RRuleString()
}

// customDates returns the parseable listed dates up to the recurrence end,
// sorted ascending.
func customDates(p recurrence.Policy, loc *time.Location) []time.Time {
	end, hasEnd := recurrence.EndOfDay(p.RecurrenceEnd, loc)
	var out []time.Time
	for _, raw := range p.Dates {
		t, ok := recurrence.ParseInstant(raw, loc)
		if !ok || (hasEnd && t.After(end)) {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, time.Time.Compare)
	return out
}
