package booking

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easybook/easybook/internal/domain/schedule"
)

// memRepo mirrors the Postgres guarantees: the overlap check and insert are
// atomic, so two bookings for the same slot can never both commit.
type memRepo struct {
	mu      sync.Mutex
	appts   map[uuid.UUID]*Appointment
	clients map[uuid.UUID]bool
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *memRepo) CreateIfFree(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients != nil && !m.clients[a.ClientID] {
		return fmt.Errorf("%w: %s", ErrUnknownClient, a.ClientID)
	}
	for _, existing := range m.appts {
		if existing.Confirmed() && existing.StartTime.Before(a.EndTime) && a.StartTime.Before(existing.EndTime) {
			return fmt.Errorf("%w: %s", ErrConflict, a.SlotDate)
		}
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	stored := *a
	m.appts[a.ID] = &stored
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) Cancel(_ context.Context, id, by uuid.UUID, at time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if a.Confirmed() {
		a.Status = StatusCancelled
		a.CancelledAt = &at
		a.CancelledBy = &by
		a.UpdatedAt = at
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) ListConfirmed(_ context.Context, from, to string) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if a.Confirmed() && a.SlotDate >= from && a.SlotDate <= to {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		switch {
		case f.ClientID != nil && a.ClientID != *f.ClientID:
		case f.Status != "" && a.Status != f.Status:
		case f.From != "" && a.SlotDate < f.From:
		case f.To != "" && a.SlotDate > f.To:
		default:
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memRepo) confirmed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appts {
		if a.Confirmed() {
			n++
		}
	}
	return n
}

type staticSchedule struct{ cfg schedule.Config }

func (s staticSchedule) Current(context.Context) (schedule.Config, error) { return s.cfg, nil }

type memCache struct {
	mu          sync.Mutex
	entries     map[string][]schedule.Slot
	hits        int
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]schedule.Slot)}
}

func (c *memCache) key(version int, date string) string {
	return fmt.Sprintf("%d/%s", version, date)
}

func (c *memCache) Get(_ context.Context, version int, date string) ([]schedule.Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slots, ok := c.entries[c.key(version, date)]
	if ok {
		c.hits++
	}
	return slots, ok, nil
}

func (c *memCache) Set(_ context.Context, version int, date string, slots []schedule.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(version, date)] = slots
	return nil
}

func (c *memCache) Invalidate(_ context.Context, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k[len(k)-len(date):] == date {
			delete(c.entries, k)
		}
	}
	c.invalidated = append(c.invalidated, date)
	return nil
}

// weekdayMornings is Monday to Friday 09:00-12:00 UTC in 30 minute slots,
// with 2026-03-04 blacked out.
func weekdayMornings() schedule.Config {
	cfg := schedule.DefaultConfig()
	for d := time.Monday; d <= time.Friday; d++ {
		cfg.Hours = append(cfg.Hours, schedule.WorkingHours{Weekday: d, Start: 9 * 60, End: 12 * 60})
	}
	cfg.Blackouts = []schedule.Blackout{{Date: "2026-03-04", Reason: "holiday"}}
	cfg.Version = 1
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Sunday before the first bookable Monday.
var sunday = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	repo  *memRepo
	cache *memCache
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: newMemRepo(), cache: newMemCache(), clock: &testClock{now: sunday}}
	f.svc = NewService(f.repo, staticSchedule{cfg: weekdayMornings()}, zerolog.Nop(),
		WithCache(f.cache), WithClock(f.clock.Now))
	return f
}

func client() Requester { return Requester{AccountID: uuid.New()} }

func admin() Requester { return Requester{AccountID: uuid.New(), Admin: true} }

func day(s string) time.Time {
	d, _ := time.Parse(schedule.DateLayout, s)
	return d
}

func TestBook_Success(t *testing.T) {
	f := newFixture(t)
	who := client()
	note := "first visit"

	appt, err := f.svc.Book(context.Background(), who, BookRequest{Date: "2026-03-02", Start: "09:30", Note: &note})
	require.NoError(t, err)
	assert.Equal(t, who.AccountID, appt.ClientID)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, "2026-03-02", appt.SlotDate)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), appt.StartTime)
	assert.Equal(t, 30*time.Minute, appt.EndTime.Sub(appt.StartTime))
	assert.Equal(t, "first visit", *appt.Note)
	assert.Equal(t, []string{"2026-03-02"}, f.cache.invalidated)
}

func TestBook_RejectsNonSlots(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	cases := []struct {
		name string
		req  BookRequest
	}{
		{"blackout date", BookRequest{Date: "2026-03-04", Start: "09:00"}},
		{"weekend", BookRequest{Date: "2026-03-07", Start: "09:00"}},
		{"off boundary", BookRequest{Date: "2026-03-03", Start: "09:15"}},
		{"outside hours", BookRequest{Date: "2026-03-03", Start: "12:00"}},
		{"already started", BookRequest{Date: "2026-03-02", Start: "10:00"}},
		{"past", BookRequest{Date: "2026-03-02", Start: "09:00"}},
		{"malformed date", BookRequest{Date: "03/02/2026", Start: "09:00"}},
		{"malformed start", BookRequest{Date: "2026-03-03", Start: "9am"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Book(context.Background(), client(), tc.req)
			assert.ErrorIs(t, err, ErrInvalidSlotRequest)
		})
	}
	assert.Zero(t, f.repo.confirmed())
}

func TestBook_NoteTooLong(t *testing.T) {
	f := newFixture(t)
	note := string(make([]byte, MaxNoteLength+1))

	_, err := f.svc.Book(context.Background(), client(), BookRequest{Date: "2026-03-02", Start: "09:00", Note: &note})
	assert.ErrorIs(t, err, ErrInvalidSlotRequest)
}

func TestBook_Conflict(t *testing.T) {
	f := newFixture(t)
	req := BookRequest{Date: "2026-03-02", Start: "11:00"}
	before := testutil.ToFloat64(bookingAttempts.WithLabelValues("conflict"))

	_, err := f.svc.Book(context.Background(), client(), req)
	require.NoError(t, err)
	_, err = f.svc.Book(context.Background(), client(), req)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, before+1, testutil.ToFloat64(bookingAttempts.WithLabelValues("conflict")))
	assert.Equal(t, 1, f.repo.confirmed())
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)
	const n = 16
	req := BookRequest{Date: "2026-03-03", Start: "09:00"}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Book(context.Background(), client(), req)
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 1, f.repo.confirmed())
}

func TestBook_RebookAfterCancel(t *testing.T) {
	f := newFixture(t)
	who := client()
	req := BookRequest{Date: "2026-03-02", Start: "09:00"}

	appt, err := f.svc.Book(context.Background(), who, req)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), who, appt.ID)
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), client(), req)
	assert.NoError(t, err)
}

func TestBook_ClientIdentity(t *testing.T) {
	f := newFixture(t)
	who := client()
	other := uuid.New()

	_, err := f.svc.Book(context.Background(), who, BookRequest{Date: "2026-03-02", Start: "09:00", ClientID: &other})
	assert.ErrorIs(t, err, ErrForbidden)

	self := who.AccountID
	appt, err := f.svc.Book(context.Background(), who, BookRequest{Date: "2026-03-02", Start: "09:00", ClientID: &self})
	require.NoError(t, err)
	assert.Equal(t, who.AccountID, appt.ClientID)
}

func TestBook_Admin(t *testing.T) {
	f := newFixture(t)
	root := admin()

	_, err := f.svc.Book(context.Background(), root, BookRequest{Date: "2026-03-02", Start: "09:00"})
	assert.ErrorIs(t, err, ErrInvalidSlotRequest)

	customer := uuid.New()
	appt, err := f.svc.Book(context.Background(), root, BookRequest{Date: "2026-03-02", Start: "09:00", ClientID: &customer})
	require.NoError(t, err)
	assert.Equal(t, customer, appt.ClientID)
}

func TestBook_UnknownClient(t *testing.T) {
	f := newFixture(t)
	f.repo.clients = map[uuid.UUID]bool{}
	ghost := uuid.New()

	_, err := f.svc.Book(context.Background(), admin(), BookRequest{Date: "2026-03-02", Start: "09:00", ClientID: &ghost})
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	who := client()
	appt, err := f.svc.Book(context.Background(), who, BookRequest{Date: "2026-03-02", Start: "10:00"})
	require.NoError(t, err)

	t.Run("other client is forbidden", func(t *testing.T) {
		_, err := f.svc.Cancel(context.Background(), client(), appt.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("owner cancels", func(t *testing.T) {
		got, err := f.svc.Cancel(context.Background(), who, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		require.NotNil(t, got.CancelledBy)
		assert.Equal(t, who.AccountID, *got.CancelledBy)
		assert.Equal(t, sunday, *got.CancelledAt)
	})

	t.Run("second cancel is a no-op", func(t *testing.T) {
		got, err := f.svc.Cancel(context.Background(), who, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Equal(t, sunday, *got.CancelledAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.svc.Cancel(context.Background(), who, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCancel_AdminAnyAppointment(t *testing.T) {
	f := newFixture(t)
	appt, err := f.svc.Book(context.Background(), client(), BookRequest{Date: "2026-03-02", Start: "10:00"})
	require.NoError(t, err)

	root := admin()
	got, err := f.svc.Cancel(context.Background(), root, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, root.AccountID, *got.CancelledBy)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	who := client()
	appt, err := f.svc.Book(context.Background(), who, BookRequest{Date: "2026-03-02", Start: "10:00"})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), who, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	_, err = f.svc.Get(context.Background(), client(), appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Get(context.Background(), admin(), appt.ID)
	assert.NoError(t, err)
}

func TestList_ClientsSeeOnlyTheirOwn(t *testing.T) {
	f := newFixture(t)
	alice, bob := client(), client()
	_, err := f.svc.Book(context.Background(), alice, BookRequest{Date: "2026-03-02", Start: "09:00"})
	require.NoError(t, err)
	_, err = f.svc.Book(context.Background(), bob, BookRequest{Date: "2026-03-02", Start: "09:30"})
	require.NoError(t, err)

	bobID := bob.AccountID
	items, total, err := f.svc.List(context.Background(), alice, Filter{ClientID: &bobID}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, alice.AccountID, items[0].ClientID)

	_, total, err = f.svc.List(context.Background(), admin(), Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestList_InvalidFilter(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.List(context.Background(), client(), Filter{Status: "pending"}, 20, 0)
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, _, err = f.svc.List(context.Background(), client(), Filter{From: "tomorrow"}, 20, 0)
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestListAvailableSlots(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), client(), BookRequest{Date: "2026-03-02", Start: "10:00"})
	require.NoError(t, err)

	slots, err := f.svc.ListAvailableSlots(context.Background(), day("2026-03-01"), day("2026-03-04"))
	require.NoError(t, err)

	var got []string
	for _, s := range slots {
		got = append(got, s.Date+" "+s.Start.Format(schedule.ClockLayout))
	}
	assert.Len(t, got, 11, "6 Monday slots minus one booked, 6 Tuesday slots, Wednesday blacked out")
	assert.NotContains(t, got, "2026-03-02 10:00")
	assert.Contains(t, got, "2026-03-02 10:30")
	assert.Equal(t, "2026-03-03 11:30", got[len(got)-1])
	assert.True(t, slices.IsSortedFunc(slots, func(a, b schedule.Slot) int { return a.Start.Compare(b.Start) }))
}

func TestListAvailableSlots_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.ListAvailableSlots(context.Background(), day("2026-03-07"), day("2026-03-08"))
	require.NoError(t, err)
	assert.NotNil(t, slots)
	assert.Empty(t, slots)
}

func TestListAvailableSlots_InvalidRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListAvailableSlots(context.Background(), day("2026-03-05"), day("2026-03-02"))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = f.svc.ListAvailableSlots(context.Background(), day("2026-03-01"), day("2026-03-01").AddDate(0, 0, MaxRangeDays))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = f.svc.ListAvailableSlots(context.Background(), day("2026-03-01"), day("2026-03-01").AddDate(0, 0, MaxRangeDays-1))
	assert.NoError(t, err)
}

func TestListAvailableSlots_CacheRefiltersByNow(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))

	slots, err := f.svc.ListAvailableSlots(context.Background(), day("2026-03-02"), day("2026-03-02"))
	require.NoError(t, err)
	assert.Len(t, slots, 6)
	assert.Zero(t, f.cache.hits)

	f.clock.Set(time.Date(2026, 3, 2, 10, 10, 0, 0, time.UTC))
	slots, err = f.svc.ListAvailableSlots(context.Background(), day("2026-03-02"), day("2026-03-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)
	require.Len(t, slots, 3)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), slots[0].Start)
}

func TestListAvailableSlots_BookingInvalidatesCache(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.ListAvailableSlots(context.Background(), day("2026-03-03"), day("2026-03-03"))
	require.NoError(t, err)
	require.Len(t, slots, 6)

	_, err = f.svc.Book(context.Background(), client(), BookRequest{Date: "2026-03-03", Start: "09:00"})
	require.NoError(t, err)

	slots, err = f.svc.ListAvailableSlots(context.Background(), day("2026-03-03"), day("2026-03-03"))
	require.NoError(t, err)
	assert.Len(t, slots, 5)
	assert.Equal(t, "09:30", slots[0].Start.Format(schedule.ClockLayout))
}

func TestListAvailableSlots_WithoutCache(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, staticSchedule{cfg: weekdayMornings()}, zerolog.Nop(),
		WithClock(func() time.Time { return sunday }))

	slots, err := svc.ListAvailableSlots(context.Background(), day("2026-03-02"), day("2026-03-02"))
	require.NoError(t, err)
	assert.Len(t, slots, 6)
}

func TestBookOutcome(t *testing.T) {
	assert.Equal(t, "booked", bookOutcome(nil))
	assert.Equal(t, "conflict", bookOutcome(fmt.Errorf("wrap: %w", ErrConflict)))
	assert.Equal(t, "invalid", bookOutcome(ErrInvalidSlotRequest))
	assert.Equal(t, "invalid", bookOutcome(ErrUnknownClient))
	assert.Equal(t, "forbidden", bookOutcome(ErrForbidden))
	assert.Equal(t, "error", bookOutcome(context.Canceled))
}
