package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// RepeatType is the stored tag of an event's repeat policy.
type RepeatType string

const (
	RepeatNone   RepeatType = "none"
	RepeatWeekly RepeatType = "weekly"
	RepeatCustom RepeatType = "custom"
)

// SourceLocal marks events authored through the admin API rather than
// imported from an ICS feed.
const SourceLocal = "local"

// EventDate is an instant as whole epoch seconds plus a nanosecond
// remainder. It is the shape the event store persists.
type EventDate struct {
	Seconds     int64 `json:"seconds" yaml:"seconds"`
	Nanoseconds int32 `json:"nanoseconds" yaml:"nanoseconds"`
}

// DateOf converts t into an EventDate.
func DateOf(t time.Time) EventDate {
	return EventDate{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

// Time returns d as a time.Time in loc (time.Local when nil).
func (d EventDate) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(d.Seconds, int64(d.Nanoseconds)).In(loc)
}

func (d EventDate) IsZero() bool {
	return d.Seconds == 0 && d.Nanoseconds == 0
}

func (d EventDate) String() string {
	return d.Time(time.UTC).Format(time.RFC3339Nano)
}

// rawDate accepts both the plain {seconds, nanoseconds} object and the
// serialized Firestore Timestamp form {_seconds, _nanoseconds}.
type rawDate struct {
	Seconds      *int64 `json:"seconds" yaml:"seconds"`
	Nanoseconds  *int32 `json:"nanoseconds" yaml:"nanoseconds"`
	USeconds     *int64 `json:"_seconds" yaml:"_seconds"`
	UNanoseconds *int32 `json:"_nanoseconds" yaml:"_nanoseconds"`
}

func (r rawDate) toDate() (EventDate, error) {
	var d EventDate
	switch {
	case r.Seconds != nil:
		d.Seconds = *r.Seconds
		if r.Nanoseconds != nil {
			d.Nanoseconds = *r.Nanoseconds
		}
	case r.USeconds != nil:
		d.Seconds = *r.USeconds
		if r.UNanoseconds != nil {
			d.Nanoseconds = *r.UNanoseconds
		}
	default:
		return d, errors.New("event date: missing seconds")
	}
	if d.Seconds < 0 || d.Nanoseconds < 0 || d.Nanoseconds >= 1e9 {
		return EventDate{}, fmt.Errorf("event date: out of range (%d, %d)", d.Seconds, d.Nanoseconds)
	}
	return d, nil
}

func parseDateString(s string) (EventDate, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return EventDate{}, fmt.Errorf("event date: %w", err)
	}
	return DateOf(t), nil
}

// UnmarshalJSON accepts an object form or an RFC 3339 string.
func (d *EventDate) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := parseDateString(s)
		if err != nil {
			return err
		}
		*d = v
		return nil
	}
	var r rawDate
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	v, err := r.toDate()
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for hand-edited store files.
func (d *EventDate) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		v, err := parseDateString(n.Value)
		if err != nil {
			return err
		}
		*d = v
		return nil
	}
	var r rawDate
	if err := n.Decode(&r); err != nil {
		return err
	}
	v, err := r.toDate()
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// RepeatSettings is the stored repeat policy of an event.
type RepeatSettings struct {
	RepeatType RepeatType `json:"repeatType" yaml:"repeatType"`
	// WeeklyDays holds weekdays 0..6 with 0 = Sunday.
	WeeklyDays []int `json:"weeklyDays,omitempty" yaml:"weeklyDays,omitempty"`
	// CustomDates holds ISO-8601 dates or instants.
	CustomDates []string `json:"customDates,omitempty" yaml:"customDates,omitempty"`
	// RecurrenceEndDate is an ISO-8601 calendar date, inclusive.
	RecurrenceEndDate string `json:"recurrenceEndDate,omitempty" yaml:"recurrenceEndDate,omitempty"`
}

// Event is a persisted calendar event before occurrence calculation.
type Event struct {
	ID          string `json:"id" yaml:"id"`
	Slug        string `json:"slug,omitempty" yaml:"slug,omitempty"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`
	// Language is "ru" or "en"; empty means the event is shown for both.
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	// Source is SourceLocal or "ics:<feed id>" for imported events.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	EventDate      EventDate      `json:"eventDate" yaml:"eventDate"`
	RepeatSettings RepeatSettings `json:"repeatSettings" yaml:"repeatSettings"`

	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Clone returns a deep copy so callers can hand out snapshots.
func (e Event) Clone() Event {
	out := e
	if e.RepeatSettings.WeeklyDays != nil {
		out.RepeatSettings.WeeklyDays = append([]int(nil), e.RepeatSettings.WeeklyDays...)
	}
	if e.RepeatSettings.CustomDates != nil {
		out.RepeatSettings.CustomDates = append([]string(nil), e.RepeatSettings.CustomDates...)
	}
	return out
}

// Recurring reports whether the event repeats.
func (e Event) Recurring() bool {
	switch e.RepeatSettings.RepeatType {
	case RepeatWeekly, RepeatCustom:
		return true
	default:
		return false
	}
}
