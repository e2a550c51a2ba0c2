package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parishcal/internal/model"
)

func utc(y int, m time.Month, d, h, min, s int) time.Time {
	return time.Date(y, m, d, h, min, s, 0, time.UTC)
}

func TestNextOccurrenceNone(t *testing.T) {
	base := model.DateOf(utc(2025, 6, 10, 10, 0, 0))
	p := Policy{Kind: KindNone}

	got, ok := NextOccurrence(base, p, utc(2025, 6, 9, 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, base, got)

	_, ok = NextOccurrence(base, p, utc(2025, 6, 11, 0, 0, 0))
	assert.False(t, ok)

	got, ok = NextOccurrence(base, p, utc(2025, 6, 10, 10, 0, 0))
	require.True(t, ok, "base equal to from still counts")
	assert.Equal(t, base, got)
}

func TestNextOccurrenceNoneKeepsNanoseconds(t *testing.T) {
	base := model.EventDate{Seconds: utc(2025, 6, 10, 10, 0, 0).Unix(), Nanoseconds: 500}
	got, ok := NextOccurrence(base, Policy{Kind: KindNone}, utc(2025, 6, 10, 10, 0, 0).Add(900*time.Millisecond))
	require.True(t, ok, "sub-second part is not compared")
	assert.Equal(t, int32(500), got.Nanoseconds)
}

func TestNextOccurrenceNoneIgnoresRecurrenceEnd(t *testing.T) {
	base := model.DateOf(utc(2025, 6, 10, 10, 0, 0))
	got, ok := NextOccurrence(base, Policy{Kind: KindNone, RecurrenceEnd: "2025-01-01"}, utc(2025, 6, 1, 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, base, got)
}

func TestNextOccurrenceWeeklyScenarios(t *testing.T) {
	sunday := model.DateOf(utc(2025, 1, 5, 9, 0, 0))
	monday := model.DateOf(utc(2025, 1, 6, 9, 0, 0))

	tests := []struct {
		name   string
		base   model.EventDate
		policy Policy
		from   time.Time
		want   time.Time
		none   bool
	}{
		{
			name:   "later weekday in current week",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{0, 3}},
			from:   utc(2025, 1, 6, 0, 0, 0),
			want:   utc(2025, 1, 8, 9, 0, 0),
		},
		{
			name:   "same weekday slot already passed",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{0, 3}},
			from:   utc(2025, 1, 5, 9, 0, 1),
			want:   utc(2025, 1, 8, 9, 0, 0),
		},
		{
			name:   "same weekday slot still ahead",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{0, 3}},
			from:   utc(2025, 1, 5, 8, 59, 59),
			want:   utc(2025, 1, 5, 9, 0, 0),
		},
		{
			name:   "slot equal to from rolls forward",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{0}},
			from:   utc(2025, 1, 5, 9, 0, 0),
			want:   utc(2025, 1, 12, 9, 0, 0),
		},
		{
			name:   "wraps to smallest weekday next week",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{3, 1}},
			from:   utc(2025, 1, 9, 12, 0, 0),
			want:   utc(2025, 1, 13, 9, 0, 0),
		},
		{
			name:   "expired recurrence end",
			base:   monday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{1}, RecurrenceEnd: "2025-01-06"},
			from:   utc(2025, 1, 7, 0, 0, 0),
			none:   true,
		},
		{
			name:   "next week candidate past recurrence end",
			base:   monday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{1}, RecurrenceEnd: "2025-01-06"},
			from:   utc(2025, 1, 6, 10, 0, 0),
			none:   true,
		},
		{
			name:   "current week candidate past recurrence end",
			base:   monday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{5}, RecurrenceEnd: "2025-01-09"},
			from:   utc(2025, 1, 6, 0, 0, 0),
			none:   true,
		},
		{
			name:   "occurrence on recurrence end day is kept",
			base:   monday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{1}, RecurrenceEnd: "2025-01-13"},
			from:   utc(2025, 1, 7, 0, 0, 0),
			want:   utc(2025, 1, 13, 9, 0, 0),
		},
		{
			name:   "empty weekday set",
			base:   sunday,
			policy: Policy{Kind: KindWeekly},
			from:   utc(2025, 1, 6, 0, 0, 0),
			none:   true,
		},
		{
			name:   "out of range weekdays ignored",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{7, -1, 3, 3}},
			from:   utc(2025, 1, 6, 0, 0, 0),
			want:   utc(2025, 1, 8, 9, 0, 0),
		},
		{
			name:   "unparseable recurrence end is ignored",
			base:   sunday,
			policy: Policy{Kind: KindWeekly, Weekdays: []int{3}, RecurrenceEnd: "soon"},
			from:   utc(2025, 1, 6, 0, 0, 0),
			want:   utc(2025, 1, 8, 9, 0, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextOccurrence(tt.base, tt.policy, tt.from)
			if tt.none {
				assert.False(t, ok, "got %v", got)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Time(time.UTC))
		})
	}
}

func TestNextOccurrenceWeeklyUsesFromLocation(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)
	// 09:00 MSK on a Sunday, stored as a UTC instant.
	base := model.DateOf(time.Date(2025, 1, 5, 6, 0, 0, 0, time.UTC))

	from := time.Date(2025, 1, 6, 0, 30, 0, 0, msk)
	got, ok := NextOccurrence(base, Policy{Kind: KindWeekly, Weekdays: []int{0}}, from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 12, 9, 0, 0, 0, msk), got.Time(msk))

	// Late evening base: the MSK weekday differs from the UTC one.
	late := model.DateOf(time.Date(2025, 1, 5, 23, 30, 0, 0, msk))
	got, ok = NextOccurrence(late, Policy{Kind: KindWeekly, Weekdays: []int{1}}, time.Date(2025, 1, 6, 0, 0, 0, 0, msk))
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 6, 23, 30, 0, 0, msk), got.Time(msk))
}

func TestNextOccurrenceWeeklyAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	base := model.DateOf(time.Date(2025, 3, 2, 10, 0, 0, 0, ny))
	from := time.Date(2025, 3, 8, 12, 0, 0, 0, ny)

	got, ok := NextOccurrence(base, Policy{Kind: KindWeekly, Weekdays: []int{0}}, from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 9, 10, 0, 0, 0, ny), got.Time(ny))
}

func TestNextOccurrenceCustom(t *testing.T) {
	base := model.DateOf(utc(2024, 12, 1, 10, 0, 0))

	tests := []struct {
		name   string
		policy Policy
		from   time.Time
		want   time.Time
		none   bool
	}{
		{
			name:   "earliest future date regardless of order",
			policy: Policy{Kind: KindCustom, Dates: []string{"2025-03-01T00:00:00Z", "2025-02-01T00:00:00Z"}},
			from:   utc(2025, 1, 1, 0, 0, 0),
			want:   utc(2025, 2, 1, 0, 0, 0),
		},
		{
			name:   "past and malformed entries ignored",
			policy: Policy{Kind: KindCustom, Dates: []string{"2024-12-31T00:00:00Z", "not a date", "", "2025-04-01T18:30:00Z"}},
			from:   utc(2025, 1, 1, 0, 0, 0),
			want:   utc(2025, 4, 1, 18, 30, 0),
		},
		{
			name:   "entry equal to from counts",
			policy: Policy{Kind: KindCustom, Dates: []string{"2025-01-01T00:00:00Z"}},
			from:   utc(2025, 1, 1, 0, 0, 0),
			want:   utc(2025, 1, 1, 0, 0, 0),
		},
		{
			name:   "date only entries are local midnight",
			policy: Policy{Kind: KindCustom, Dates: []string{"2025-05-09"}},
			from:   utc(2025, 1, 1, 0, 0, 0),
			want:   utc(2025, 5, 9, 0, 0, 0),
		},
		{
			name:   "entries after recurrence end dropped",
			policy: Policy{Kind: KindCustom, Dates: []string{"2025-03-01T00:00:00Z", "2025-02-01T00:00:00Z"}, RecurrenceEnd: "2025-01-31"},
			from:   utc(2025, 1, 1, 0, 0, 0),
			none:   true,
		},
		{
			name:   "entry late on recurrence end day kept",
			policy: Policy{Kind: KindCustom, Dates: []string{"2025-01-31T23:59:00Z"}, RecurrenceEnd: "2025-01-31"},
			from:   utc(2025, 1, 1, 0, 0, 0),
			want:   utc(2025, 1, 31, 23, 59, 0),
		},
		{
			name:   "base date not implied",
			policy: Policy{Kind: KindCustom},
			from:   utc(2024, 1, 1, 0, 0, 0),
			none:   true,
		},
		{
			name:   "expired recurrence end",
			policy: Policy{Kind: KindCustom, Dates: []string{"2026-01-01T00:00:00Z"}, RecurrenceEnd: "2025-06-30"},
			from:   utc(2025, 7, 1, 0, 0, 0),
			none:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextOccurrence(base, tt.policy, tt.from)
			if tt.none {
				assert.False(t, ok, "got %v", got)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Time(time.UTC))
		})
	}
}

func TestNextOccurrenceUnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() {
		NextOccurrence(model.EventDate{}, Policy{Kind: Kind(42)}, time.Now())
	})
}

func TestPolicyFromSettings(t *testing.T) {
	p, err := PolicyFromSettings(model.RepeatSettings{
		RepeatType:        model.RepeatWeekly,
		WeeklyDays:        []int{0, 3},
		RecurrenceEndDate: " 2025-12-31 ",
	})
	require.NoError(t, err)
	assert.Equal(t, KindWeekly, p.Kind)
	assert.Equal(t, []int{0, 3}, p.Weekdays)
	assert.Equal(t, "2025-12-31", p.RecurrenceEnd)

	p, err = PolicyFromSettings(model.RepeatSettings{})
	require.NoError(t, err)
	assert.Equal(t, KindNone, p.Kind)

	p, err = PolicyFromSettings(model.RepeatSettings{RepeatType: model.RepeatCustom, CustomDates: []string{"2025-01-01"}})
	require.NoError(t, err)
	assert.Equal(t, KindCustom, p.Kind)
	assert.Equal(t, []string{"2025-01-01"}, p.Dates)

	_, err = PolicyFromSettings(model.RepeatSettings{RepeatType: "monthly"})
	assert.ErrorIs(t, err, ErrUnknownRepeatType)
}

func TestNextForEvent(t *testing.T) {
	ev := model.Event{
		ID:        "liturgy",
		EventDate: model.DateOf(utc(2025, 1, 5, 9, 0, 0)),
		RepeatSettings: model.RepeatSettings{
			RepeatType: model.RepeatWeekly,
			WeeklyDays: []int{0},
		},
	}
	got, ok, err := Next(ev, utc(2025, 1, 6, 0, 0, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, utc(2025, 1, 12, 9, 0, 0), got.Time(time.UTC))

	ev.RepeatSettings.RepeatType = "yearly"
	_, _, err = Next(ev, utc(2025, 1, 6, 0, 0, 0))
	assert.ErrorIs(t, err, ErrUnknownRepeatType)
}

func TestEndOfDay(t *testing.T) {
	msk := time.FixedZone("MSK", 3*3600)

	got, ok := EndOfDay("2025-01-06", msk)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 6, 23, 59, 59, 999000000, msk), got)

	got, ok = EndOfDay("2025-01-06T00:00:00.000Z", msk)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 6, 23, 59, 59, 999000000, msk), got)

	for _, bad := range []string{"", "2025-1-6", "2025-01-06x", "tomorrow"} {
		_, ok := EndOfDay(bad, msk)
		assert.False(t, ok, bad)
	}
}
