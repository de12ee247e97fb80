package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, Clock(570), c)
	assert.Equal(t, "09:30", c.String())

	c, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, Clock(1440), c)

	for _, bad := range []string{"", "9", "25:00", "12:60", "noon"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestWorkingHours_JSON(t *testing.T) {
	var wh WorkingHours
	require.NoError(t, json.Unmarshal([]byte(`{"weekday":1,"start":"09:00","end":"17:30"}`), &wh))
	assert.Equal(t, time.Monday, wh.Weekday)
	assert.Equal(t, Clock(540), wh.Start)
	assert.Equal(t, Clock(1050), wh.End)

	err := json.Unmarshal([]byte(`{"weekday":1,"start":"9am","end":"17:30"}`), &wh)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			SlotMinutes: 30,
			Timezone:    "UTC",
			Hours:       []WorkingHours{{Weekday: time.Monday, Start: 540, End: 720}},
			Blackouts:   []Blackout{{Date: "2024-12-25"}},
		}
	}
	require.NoError(t, valid().Validate())
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero slot", func(c *Config) { c.SlotMinutes = 0 }},
		{"slot longer than a day", func(c *Config) { c.SlotMinutes = 1441 }},
		{"unknown timezone", func(c *Config) { c.Timezone = "Nowhere/Else" }},
		{"start equals end", func(c *Config) { c.Hours[0].End = c.Hours[0].Start }},
		{"start after end", func(c *Config) { c.Hours[0].Start, c.Hours[0].End = 720, 540 }},
		{"bad weekday", func(c *Config) { c.Hours[0].Weekday = 7 }},
		{"duplicate weekday", func(c *Config) { c.Hours = append(c.Hours, c.Hours[0]) }},
		{"bad blackout", func(c *Config) { c.Blackouts[0].Date = "25/12/2024" }},
		{"duplicate blackout", func(c *Config) { c.Blackouts = append(c.Blackouts, c.Blackouts[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSlot_Overlaps(t *testing.T) {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s := Slot{Start: base, End: base.Add(30 * time.Minute)}

	assert.True(t, s.Overlaps(base, base.Add(30*time.Minute)))
	assert.True(t, s.Overlaps(base.Add(15*time.Minute), base.Add(45*time.Minute)))
	assert.False(t, s.Overlaps(base.Add(30*time.Minute), base.Add(time.Hour)), "adjacent intervals do not overlap")
	assert.False(t, s.Overlaps(base.Add(-30*time.Minute), base))
}
