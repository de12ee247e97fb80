package schedule

import (
	"fmt"
	"iter"
	"time"
)

// Generate yields the candidate slots of cfg for the calendar dates from..to
// (inclusive), ordered by date and then by start time. Dates are read from the
// year/month/day of from and to and interpreted in the provider timezone.
//
// Blackout dates are skipped, and so is every slot whose start is not after
// now. Pass the zero time to keep past slots. The sequence is lazy and can be
// ranged over any number of times with the same result.
func Generate(cfg Config, from, to, now time.Time) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		loc, err := cfg.Location()
		if err != nil || cfg.SlotMinutes <= 0 {
			return
		}
		step := cfg.SlotDuration()
		blackouts := cfg.blackoutSet()

		last := civilDate(to, loc)
		for day := civilDate(from, loc); !day.After(last); day = day.AddDate(0, 0, 1) {
			date := day.Format(DateLayout)
			if _, skip := blackouts[date]; skip {
				continue
			}
			wh, ok := cfg.window(day.Weekday())
			if !ok {
				continue
			}

			end := wh.End.On(day)
			for start := wh.Start.On(day); !start.Add(step).After(end); start = start.Add(step) {
				if !start.After(now) {
					continue
				}
				if !yield(Slot{Date: date, Start: start, End: start.Add(step)}) {
					return
				}
			}
		}
	}
}

// Lookup returns the generated slot that starts at clock time start on date.
// It fails with ErrNotASlot when no such candidate exists, which covers
// malformed input, blackout dates, times outside working hours, times that are
// not on a slot boundary and slots that have already started.
func Lookup(cfg Config, date, start string, now time.Time) (Slot, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrNotASlot, date)
	}
	clock, err := ParseClock(start)
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %v", ErrNotASlot, err)
	}

	want := clock.String()
	for slot := range Generate(cfg, day, day, now) {
		if slot.Start.Format(ClockLayout) == want {
			return slot, nil
		}
	}
	return Slot{}, fmt.Errorf("%w: %s %s", ErrNotASlot, date, want)
}

// Collect drains a slot sequence into a slice.
func Collect(seq iter.Seq[Slot]) []Slot {
	slots := []Slot{}
	for s := range seq {
		slots = append(slots, s)
	}
	return slots
}

func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
