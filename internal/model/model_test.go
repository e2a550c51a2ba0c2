package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEventDateJSONForms(t *testing.T) {
	want := EventDate{Seconds: 1736067600, Nanoseconds: 250}

	tests := []struct {
		name string
		in   string
	}{
		{"plain object", `{"seconds":1736067600,"nanoseconds":250}`},
		{"serialized timestamp", `{"_seconds":1736067600,"_nanoseconds":250}`},
		{"rfc3339 string", `"2025-01-05T09:00:00.00000025Z"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got EventDate
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, want, got)
		})
	}

	out, err := json.Marshal(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":1736067600,"nanoseconds":250}`, string(out))
}

func TestEventDateJSONRejectsBadInput(t *testing.T) {
	for _, in := range []string{`{}`, `{"seconds":-1}`, `{"seconds":1,"nanoseconds":1000000000}`, `"yesterday"`} {
		var d EventDate
		assert.Error(t, json.Unmarshal([]byte(in), &d), in)
	}
}

func TestEventDateYAMLForms(t *testing.T) {
	var doc struct {
		A EventDate `yaml:"a"`
		B EventDate `yaml:"b"`
	}
	src := "a: {seconds: 1736067600, nanoseconds: 0}\nb: 2025-01-05T09:00:00Z\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	assert.Equal(t, doc.A, doc.B)
	assert.Equal(t, time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC), doc.B.Time(time.UTC))
}

func TestEventCloneIsDeep(t *testing.T) {
	ev := Event{RepeatSettings: RepeatSettings{
		RepeatType:  RepeatCustom,
		WeeklyDays:  []int{1},
		CustomDates: []string{"2025-01-01"},
	}}
	c := ev.Clone()
	c.RepeatSettings.WeeklyDays[0] = 5
	c.RepeatSettings.CustomDates[0] = "2030-01-01"

	assert.Equal(t, []int{1}, ev.RepeatSettings.WeeklyDays)
	assert.Equal(t, []string{"2025-01-01"}, ev.RepeatSettings.CustomDates)
	assert.True(t, ev.Recurring())
	assert.False(t, Event{}.Recurring())
}
