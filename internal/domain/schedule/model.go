package schedule

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// ClockLayout is the wire format for wall-clock times.
const ClockLayout = "15:04"

const (
	DefaultSlotMinutes = 30
	DefaultTimezone    = "UTC"
	minutesPerDay      = 24 * 60
)

var (
	ErrInvalidConfig    = errors.New("invalid schedule configuration")
	ErrNotASlot         = errors.New("not a bookable slot")
	ErrBlackoutNotFound = errors.New("blackout date not found")
)

// Clock is a wall-clock time of day expressed in minutes since midnight.
type Clock int

// ParseClock parses an "HH:MM" string. "24:00" is accepted as end of day.
func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return Clock(minutesPerDay), nil
	}
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at which this clock time occurs on day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// WorkingHours is the bookable window for one weekday.
type WorkingHours struct {
	Weekday time.Weekday `json:"weekday"`
	Start   Clock        `json:"start"`
	End     Clock        `json:"end"`
}

// Blackout excludes a whole calendar date from availability.
type Blackout struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

// Config is the provider's availability configuration. It is loaded per
// request and passed explicitly to Generate and Lookup.
type Config struct {
	SlotMinutes int            `json:"slot_minutes"`
	Timezone    string         `json:"timezone"`
	Hours       []WorkingHours `json:"hours"`
	Blackouts   []Blackout     `json:"blackouts"`
	Version     int            `json:"version"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DefaultConfig is used until an administrator saves a schedule.
func DefaultConfig() Config {
	return Config{
		SlotMinutes: DefaultSlotMinutes,
		Timezone:    DefaultTimezone,
		Hours:       []WorkingHours{},
		Blackouts:   []Blackout{},
	}
}

// SlotDuration returns the fixed length of every slot.
func (c Config) SlotDuration() time.Duration {
	return time.Duration(c.SlotMinutes) * time.Minute
}

// Location resolves the provider timezone. An empty name means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfig, c.Timezone)
	}
	return loc, nil
}

func (c Config) window(day time.Weekday) (WorkingHours, bool) {
	for _, wh := range c.Hours {
		if wh.Weekday == day {
			return wh, true
		}
	}
	return WorkingHours{}, false
}

func (c Config) blackoutSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Blackouts))
	for _, b := range c.Blackouts {
		set[b.Date] = struct{}{}
	}
	return set
}

// IsBlackout reports whether date (YYYY-MM-DD) is a blackout date.
func (c Config) IsBlackout(date string) bool {
	for _, b := range c.Blackouts {
		if b.Date == date {
			return true
		}
	}
	return false
}

// Validate checks the configuration invariants. A trailing remainder shorter
// than one slot is allowed; generation truncates it.
func (c Config) Validate() error {
	if c.SlotMinutes <= 0 || c.SlotMinutes > minutesPerDay {
		return fmt.Errorf("%w: slot_minutes must be between 1 and %d", ErrInvalidConfig, minutesPerDay)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	seen := make(map[time.Weekday]bool, len(c.Hours))
	for _, wh := range c.Hours {
		if wh.Weekday < time.Sunday || wh.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidConfig, wh.Weekday)
		}
		if seen[wh.Weekday] {
			return fmt.Errorf("%w: duplicate hours for %s", ErrInvalidConfig, wh.Weekday)
		}
		seen[wh.Weekday] = true
		if wh.Start < 0 || wh.End > minutesPerDay || wh.Start >= wh.End {
			return fmt.Errorf("%w: %s start %s must be before end %s", ErrInvalidConfig, wh.Weekday, wh.Start, wh.End)
		}
	}

	dates := make(map[string]bool, len(c.Blackouts))
	for _, b := range c.Blackouts {
		if _, err := time.Parse(DateLayout, b.Date); err != nil {
			return fmt.Errorf("%w: blackout date %q is not YYYY-MM-DD", ErrInvalidConfig, b.Date)
		}
		if dates[b.Date] {
			return fmt.Errorf("%w: duplicate blackout date %s", ErrInvalidConfig, b.Date)
		}
		dates[b.Date] = true
	}
	return nil
}

// Slot is a derived, never persisted, bookable interval.
type Slot struct {
	Date  string    `json:"date"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the half-open intervals [s.Start, s.End) and
// [start, end) intersect.
func (s Slot) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && start.Before(s.End)
}
