// Package recurrence computes the next occurrence of a stored event.
//
// NextOccurrence is a pure function of its inputs. All wall-clock work
// (weekday, time of day, end of the recurrence end day) happens in the
// location of the reference instant, so callers pick the display zone by
// passing from.In(loc).
package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "parishcal/internal/log"
	"parishcal/internal/model"
)

// Kind selects the repeat strategy.
type Kind int

const (
	KindNone Kind = iota
	KindWeekly
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindWeekly:
		return "weekly"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrUnknownRepeatType is returned when stored repeat settings carry a tag
// this package does not understand.
var ErrUnknownRepeatType = errors.New("recurrence: unknown repeat type")

// Policy is the in-memory form of an event's repeat settings.
type Policy struct {
	Kind Kind
	// Weekdays are 0..6 with 0 = Sunday. Used by KindWeekly.
	Weekdays []int
	// Dates are ISO-8601 dates or instants. Used by KindCustom.
	Dates []string
	// RecurrenceEnd is an optional ISO-8601 calendar date, inclusive through
	// the end of that day. Ignored for KindNone.
	RecurrenceEnd string
}

// PolicyFromSettings converts stored repeat settings. An empty repeat type
// is treated as "none".
func PolicyFromSettings(rs model.RepeatSettings) (Policy, error) {
	p := Policy{RecurrenceEnd: strings.TrimSpace(rs.RecurrenceEndDate)}
	switch rs.RepeatType {
	case model.RepeatNone, "":
		p.Kind = KindNone
	case model.RepeatWeekly:
		p.Kind = KindWeekly
		p.Weekdays = append([]int(nil), rs.WeeklyDays...)
	case model.RepeatCustom:
		p.Kind = KindCustom
		p.Dates = append([]string(nil), rs.CustomDates...)
	default:
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownRepeatType, rs.RepeatType)
	}
	return p, nil
}

// Next computes the next occurrence of a stored event.
func Next(ev model.Event, from time.Time) (model.EventDate, bool, error) {
	p, err := PolicyFromSettings(ev.RepeatSettings)
	if err != nil {
		return model.EventDate{}, false, err
	}
	next, ok := NextOccurrence(ev.EventDate, p, from)
	return next, ok, nil
}

// NextOccurrence returns the next occurrence of base under p at or after
// from, or false when there is none. Comparisons use whole seconds.
//
// It panics if p.Kind is not a known Kind.
func NextOccurrence(base model.EventDate, p Policy, from time.Time) (model.EventDate, bool) {
	loc := from.Location()

	var end time.Time
	hasEnd := false
	if p.Kind != KindNone && p.RecurrenceEnd != "" {
		if e, ok := EndOfDay(p.RecurrenceEnd, loc); ok {
			end, hasEnd = e, true
			if from.After(end) {
				return model.EventDate{}, false
			}
		} else {
			appLog.Debug("recurrence: ignoring unparseable recurrence end", "value", p.RecurrenceEnd)
		}
	}

	switch p.Kind {
	case KindNone:
		if base.Seconds >= from.Unix() {
			return base, true
		}
		return model.EventDate{}, false
	case KindWeekly:
		return nextWeekly(base, p.Weekdays, from, end, hasEnd)
	case KindCustom:
		return nextCustom(p.Dates, from, end, hasEnd)
	default:
		panic(fmt.Sprintf("recurrence: unknown policy kind %v", p.Kind))
	}
}

// nextWeekly reuses base's wall-clock time of day for every occurrence.
func nextWeekly(base model.EventDate, weekdays []int, from, end time.Time, hasEnd bool) (model.EventDate, bool) {
	days := normalizeWeekdays(weekdays)
	if len(days) == 0 {
		return model.EventDate{}, false
	}

	loc := from.Location()
	b := base.Time(loc)
	hour, minute, second := b.Clock()
	slot := hour*3600 + minute*60 + second

	fh, fm, fs := from.Clock()
	nowSec := fh*3600 + fm*60 + fs
	today := int(from.Weekday())

	at := func(offset int) time.Time {
		return time.Date(from.Year(), from.Month(), from.Day()+offset, hour, minute, second, 0, loc)
	}
	pastEnd := func(t time.Time) bool {
		return hasEnd && t.After(end)
	}

	for _, d := range days {
		if d < today || (d == today && slot <= nowSec) {
			continue
		}
		c := at(d - today)
		if pastEnd(c) {
			continue
		}
		return model.DateOf(c), true
	}

	c := at(7 - today + days[0])
	if pastEnd(c) {
		return model.EventDate{}, false
	}
	return model.DateOf(c), true
}

// nextCustom returns the earliest listed date within [from, end].
func nextCustom(dates []string, from, end time.Time, hasEnd bool) (model.EventDate, bool) {
	var best time.Time
	found := false
	for _, raw := range dates {
		t, ok := ParseInstant(raw, from.Location())
		if !ok {
			appLog.Debug("recurrence: skipping unparseable custom date", "value", raw)
			continue
		}
		if t.Unix() < from.Unix() {
			continue
		}
		if hasEnd && t.After(end) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	if !found {
		return model.EventDate{}, false
	}
	return model.DateOf(best), true
}

// normalizeWeekdays drops values outside 0..6 and returns the rest sorted
// and de-duplicated.
func normalizeWeekdays(in []int) []int {
	out := make([]int, 0, len(in))
	for _, d := range in {
		if d >= 0 && d <= 6 {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
