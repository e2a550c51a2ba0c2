package ics

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "parishcal/internal/log"
	"parishcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// idNamespace seeds the stable IDs given to imported events.
var idNamespace = uuid.MustParse("6f1d3c1e-7a0b-4c55-9a53-2f7e3f0d8c21")

// ImportConfig controls how feed events become store records.
type ImportConfig struct {
	// Location is the zone weekly rules are expressed in.
	Location *time.Location
	// Now and HorizonDays bound the window non-weekly rules are expanded in.
	Now         time.Time
	HorizonDays int
	// MaxOccurrencesPerEvent caps expanded custom dates.
	MaxOccurrencesPerEvent int
}

// SourceName is the store Source value for events imported from feed.
func SourceName(feed Feed) string {
	return "ics:" + feed.ID
}

// EventID derives a stable, URL-safe store ID from the feed and UID.
func EventID(feed Feed, uid string) string {
	return uuid.NewSHA1(idNamespace, []byte(feed.ID+"\x00"+uid)).String()
}

// ToEvents converts parsed VEVENTs into store records:
//
//   - no RRULE and no RDATE: a single occurrence
//   - plain weekly RRULE (interval 1, BYDAY only, no COUNT): weekly
//     weekdays with UNTIL as the recurrence end date
//   - anything else: custom dates expanded inside the import window,
//     EXDATEs removed
//
// RECURRENCE-ID overrides are skipped.
func ToEvents(feed Feed, vevents []VEvent, cfg ImportConfig) []model.Event {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 90
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	out := make([]model.Event, 0, len(vevents))
	seen := make(map[string]bool, len(vevents))
	for _, ve := range vevents {
		if ve.Override {
			appLog.Debug("ics: skipping recurrence override", "feed", feed.ID, "uid", ve.UID)
			continue
		}
		if seen[ve.UID] {
			appLog.Debug("ics: duplicate uid", "feed", feed.ID, "uid", ve.UID)
			continue
		}
		ev, ok := toEvent(feed, ve, cfg)
		if !ok {
			continue
		}
		seen[ve.UID] = true
		out = append(out, ev)
	}
	return out
}

func toEvent(feed Feed, ve VEvent, cfg ImportConfig) (model.Event, bool) {
	ev := model.Event{
		ID:          EventID(feed, ve.UID),
		Title:       ve.Summary,
		Description: ve.Description,
		Location:    ve.Location,
		Language:    feed.Language,
		Source:      SourceName(feed),
		EventDate:   model.DateOf(ve.Start),
		RepeatSettings: model.RepeatSettings{
			RepeatType: model.RepeatNone,
		},
	}
	if ev.Title == "" {
		ev.Title = ve.UID
	}

	if ve.RRule == "" && len(ve.RDates) == 0 {
		return ev, true
	}

	var opt *rrule.ROption
	if ve.RRule != "" {
		o, err := rrule.StrToROption(ve.RRule)
		if err != nil {
			appLog.Error("ics: failed to parse RRULE", err, "feed", feed.ID, "uid", ve.UID, "rrule", ve.RRule)
			return model.Event{}, false
		}
		opt = o
	}

	if opt != nil && len(ve.RDates) == 0 && len(ve.ExDates) == 0 && plainWeekly(opt) {
		ev.RepeatSettings = model.RepeatSettings{
			RepeatType: model.RepeatWeekly,
			WeeklyDays: weekdaysIn(opt, ve.Start, cfg.Location),
		}
		if !opt.Until.IsZero() {
			ev.RepeatSettings.RecurrenceEndDate = opt.Until.In(cfg.Location).Format("2006-01-02")
		}
		return ev, true
	}

	dates, truncated, err := expandDates(ve, opt, cfg)
	if err != nil {
		appLog.Error("ics: failed to expand recurrence", err, "feed", feed.ID, "uid", ve.UID)
		return model.Event{}, false
	}
	if truncated {
		appLog.Warn("ics: truncated occurrences", "feed", feed.ID, "uid", ve.UID, "cap", cfg.MaxOccurrencesPerEvent)
	}
	ev.RepeatSettings = model.RepeatSettings{
		RepeatType:  model.RepeatCustom,
		CustomDates: dates,
	}
	return ev, true
}

// plainWeekly reports whether opt maps onto the weekly repeat policy.
func plainWeekly(opt *rrule.ROption) bool {
	if opt.Freq != rrule.WEEKLY || opt.Interval > 1 || opt.Count > 0 {
		return false
	}
	if len(opt.Bysetpos)+len(opt.Bymonth)+len(opt.Bymonthday)+len(opt.Byyearday)+
		len(opt.Byweekno)+len(opt.Byhour)+len(opt.Byminute)+len(opt.Bysecond)+len(opt.Byeaster) > 0 {
		return false
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return false
		}
	}
	return true
}

// weekdaysIn lists the weekdays (Sunday = 0) in loc on which the rule fires.
// BYDAY is read in the zone of start, so each day is mapped through one week
// of expansion. Without BYDAY the weekday of start is used.
func weekdaysIn(opt *rrule.ROption, start time.Time, loc *time.Location) []int {
	if len(opt.Byweekday) == 0 {
		return []int{int(start.In(loc).Weekday())}
	}
	week := *opt
	week.Dtstart = start
	week.Until = time.Time{}
	week.Count = 0
	r, err := rrule.NewRRule(week)
	if err != nil {
		days := make([]int, 0, len(opt.Byweekday))
		for _, wd := range opt.Byweekday {
			days = append(days, (wd.Day()+1)%7)
		}
		slices.Sort(days)
		return days
	}
	var seen [7]bool
	for _, t := range r.Between(start, start.AddDate(0, 0, 7).Add(-time.Second), true) {
		seen[t.In(loc).Weekday()] = true
	}
	var days []int
	for d, ok := range seen {
		if ok {
			days = append(days, d)
		}
	}
	return days
}

// expandDates lists occurrences inside [Now, Now+HorizonDays] as RFC 3339
// strings. DTSTART always counts as an instance, as RFC 5545 requires.
func expandDates(ve VEvent, opt *rrule.ROption, cfg ImportConfig) ([]string, bool, error) {
	var set rrule.Set
	if opt != nil {
		opt.Dtstart = ve.Start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, false, err
		}
		set.RRule(r)
	}
	set.RDate(ve.Start)
	for _, t := range ve.RDates {
		set.RDate(t)
	}
	for _, t := range ve.ExDates {
		set.ExDate(t.In(ve.Start.Location()))
	}

	from := cfg.Now.In(ve.Start.Location())
	to := from.AddDate(0, 0, cfg.HorizonDays)
	times := set.Between(from, to, true)

	truncated := false
	if len(times) > cfg.MaxOccurrencesPerEvent {
		times = times[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	dates := make([]string, 0, len(times))
	for _, t := range times {
		dates = append(dates, t.Format(time.RFC3339))
	}
	return dates, truncated, nil
}
