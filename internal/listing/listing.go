// Package listing decides which events are upcoming and what date each card
// shows.
package listing

import (
	"cmp"
	"slices"
	"time"

	appLog "parishcal/internal/log"
	"parishcal/internal/model"
	"parishcal/internal/recurrence"
)

// Options controls Build. The zero value lists everything in time.Local.
type Options struct {
	// Location is the display zone; recurrence is evaluated in it as well.
	Location *time.Location
	// HorizonDays drops upcoming events further away than this. Zero means
	// no limit.
	HorizonDays int
	// PastLimit caps Past. Zero means no past events are listed; negative
	// means no limit.
	PastLimit int
	// Language keeps events tagged with it plus untagged events.
	Language string
}

// Card is what the site renders for a single event.
type Card struct {
	ID        string `json:"id"`
	Slug      string `json:"slug,omitempty"`
	Title     string `json:"title"`
	Location  string `json:"location,omitempty"`
	Language  string `json:"language,omitempty"`
	Source    string `json:"source,omitempty"`
	Recurring bool   `json:"recurring"`
	Upcoming  bool   `json:"upcoming"`
	// DisplayAt is the next occurrence for upcoming events and the base
	// date otherwise.
	DisplayAt time.Time        `json:"display_at"`
	Next      *model.EventDate `json:"next"`
}

// Listing splits events into upcoming and past cards.
type Listing struct {
	Upcoming []Card `json:"upcoming"`
	Past     []Card `json:"past"`
}

// Build evaluates every event against now. Events whose repeat settings
// cannot be interpreted are logged and left out.
func Build(events []model.Event, now time.Time, opts Options) Listing {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	from := now.In(loc)

	var horizon time.Time
	if opts.HorizonDays > 0 {
		horizon = from.AddDate(0, 0, opts.HorizonDays)
	}

	out := Listing{Upcoming: []Card{}, Past: []Card{}}
	for _, ev := range events {
		if opts.Language != "" && ev.Language != "" && ev.Language != opts.Language {
			continue
		}
		c, err := Evaluate(ev, from)
		if err != nil {
			appLog.Error("listing: cannot evaluate event", err, "id", ev.ID)
			continue
		}
		if c.Upcoming {
			if !horizon.IsZero() && c.DisplayAt.After(horizon) {
				continue
			}
			out.Upcoming = append(out.Upcoming, c)
		} else {
			out.Past = append(out.Past, c)
		}
	}

	slices.SortStableFunc(out.Upcoming, func(a, b Card) int {
		return cmp.Or(a.DisplayAt.Compare(b.DisplayAt), cmp.Compare(a.ID, b.ID))
	})
	slices.SortStableFunc(out.Past, func(a, b Card) int {
		return cmp.Or(b.DisplayAt.Compare(a.DisplayAt), cmp.Compare(a.ID, b.ID))
	})
	if opts.PastLimit >= 0 && len(out.Past) > opts.PastLimit {
		out.Past = out.Past[:opts.PastLimit]
	}
	return out
}

// Evaluate builds the card for a single event as seen from the given
// instant; from's location is the display zone.
func Evaluate(ev model.Event, from time.Time) (Card, error) {
	next, ok, err := recurrence.Next(ev, from)
	if err != nil {
		return Card{}, err
	}
	c := Card{
		ID:        ev.ID,
		Slug:      ev.Slug,
		Title:     ev.Title,
		Location:  ev.Location,
		Language:  ev.Language,
		Source:    ev.Source,
		Recurring: ev.Recurring(),
		Upcoming:  ok,
		DisplayAt: ev.EventDate.Time(from.Location()),
	}
	if ok {
		c.Next = &next
		c.DisplayAt = next.Time(from.Location())
	}
	return c, nil
}
