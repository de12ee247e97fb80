package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/easybook/easybook/internal/domain/schedule"
	"github.com/easybook/easybook/internal/platform/telemetry"
)

const tracerName = "github.com/easybook/easybook/internal/domain/booking"

type Option func(*Service)

// WithCache enables the read-through availability cache. Book never reads it.
func WithCache(c AvailabilityCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the booking guard: it only commits appointments for generated
// slots that no confirmed appointment overlaps.
type Service struct {
	repo      Repository
	schedules ScheduleSource
	cache     AvailabilityCache
	logger    zerolog.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

func NewService(repo Repository, schedules ScheduleSource, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		schedules: schedules,
		logger:    logger.With().Str("component", "booking").Logger(),
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Book reserves the slot named by req for the requester, or for
// req.ClientID when the requester is an administrator.
func (s *Service) Book(ctx context.Context, who Requester, req BookRequest) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("slot.date", req.Date),
		attribute.String("slot.start", req.Start),
	))
	defer func() {
		bookingAttempts.WithLabelValues(bookOutcome(err)).Inc()
		endSpan(span, err)
	}()

	clientID, err := resolveClient(who, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.Note != nil && len(*req.Note) > MaxNoteLength {
		return nil, fmt.Errorf("%w: note longer than %d characters", ErrInvalidSlotRequest, MaxNoteLength)
	}

	cfg, err := s.schedules.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	slot, err := schedule.Lookup(cfg, req.Date, req.Start, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlotRequest, err)
	}

	a := &Appointment{
		ID:        uuid.New(),
		ClientID:  clientID,
		SlotDate:  slot.Date,
		StartTime: slot.Start,
		EndTime:   slot.End,
		Status:    StatusConfirmed,
		Note:      req.Note,
	}

	log := telemetry.LoggerFromContext(ctx, s.logger)
	if err := s.repo.CreateIfFree(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Warn().Str("date", a.SlotDate).Time("start", a.StartTime).
				Str("client_id", clientID.String()).Msg("slot already booked")
		}
		return nil, err
	}
	s.invalidate(ctx, a.SlotDate)

	log.Info().Str("appointment_id", a.ID.String()).Str("client_id", clientID.String()).
		Str("date", a.SlotDate).Time("start", a.StartTime).Msg("appointment booked")
	return a, nil
}

func resolveClient(who Requester, requested *uuid.UUID) (uuid.UUID, error) {
	switch {
	case requested == nil && who.Admin:
		return uuid.Nil, fmt.Errorf("%w: client_id is required when booking as administrator", ErrInvalidSlotRequest)
	case requested == nil, *requested == who.AccountID:
		return who.AccountID, nil
	case !who.Admin:
		return uuid.Nil, fmt.Errorf("%w: clients can only book for themselves", ErrForbidden)
	default:
		return *requested, nil
	}
}

// Cancel releases an appointment. Cancelling an appointment that is already
// cancelled returns it unchanged.
func (s *Service) Cancel(ctx context.Context, who Requester, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
	))
	outcome := "error"
	defer func() {
		cancellations.WithLabelValues(outcome).Inc()
		endSpan(span, err)
	}()

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			outcome = "not_found"
		}
		return nil, err
	}
	if !who.owns(a) {
		outcome = "forbidden"
		return nil, fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	if !a.Confirmed() {
		outcome = "noop"
		return a, nil
	}

	cancelled, err := s.repo.Cancel(ctx, id, who.AccountID, s.now())
	if err != nil {
		return nil, err
	}
	outcome = "cancelled"
	s.invalidate(ctx, cancelled.SlotDate)

	telemetry.LoggerFromContext(ctx, s.logger).Info().
		Str("appointment_id", id.String()).
		Str("cancelled_by", who.AccountID.String()).
		Str("date", cancelled.SlotDate).
		Msg("appointment cancelled")
	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, who Requester, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !who.owns(a) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	return a, nil
}

// List returns appointments matching f. Clients only ever see their own.
func (s *Service) List(ctx context.Context, who Requester, f Filter, limit, offset int) ([]*Appointment, int, error) {
	if !who.Admin {
		id := who.AccountID
		f.ClientID = &id
	}
	switch f.Status {
	case "", StatusConfirmed, StatusCancelled:
	default:
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(schedule.DateLayout, d); err != nil {
			return nil, 0, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidFilter, d)
		}
	}
	return s.repo.Search(ctx, f, limit, offset)
}

// ListAvailableSlots returns the generated slots between the calendar dates
// of from and to (inclusive) that have not started yet and that no confirmed
// appointment overlaps.
func (s *Service) ListAvailableSlots(ctx context.Context, from, to time.Time) (slots []schedule.Slot, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.ListAvailableSlots")
	defer func() { endSpan(span, err) }()

	first, last := dateOnly(from), dateOnly(to)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: end is before start", ErrInvalidRange)
	}
	if days := int(last.Sub(first).Hours()/24) + 1; days > MaxRangeDays {
		return nil, fmt.Errorf("%w: %d days requested, at most %d allowed", ErrInvalidRange, days, MaxRangeDays)
	}
	span.SetAttributes(
		attribute.String("range.start", first.Format(schedule.DateLayout)),
		attribute.String("range.end", last.Format(schedule.DateLayout)),
	)

	cfg, err := s.schedules.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	var (
		dates  []string
		misses []string
		perDay = make(map[string][]schedule.Slot)
	)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		date := d.Format(schedule.DateLayout)
		dates = append(dates, date)
		if cached, ok := s.cached(ctx, cfg.Version, date); ok {
			perDay[date] = cached
			continue
		}
		misses = append(misses, date)
	}

	if len(misses) > 0 {
		appts, err := s.repo.ListConfirmed(ctx, misses[0], misses[len(misses)-1])
		if err != nil {
			return nil, err
		}
		byDate := make(map[string][]*Appointment)
		for _, a := range appts {
			byDate[a.SlotDate] = append(byDate[a.SlotDate], a)
		}
		for _, date := range misses {
			day, _ := time.Parse(schedule.DateLayout, date)
			free := freeSlots(cfg, day, byDate[date])
			perDay[date] = free
			s.store(ctx, cfg.Version, date, free)
		}
	}

	now := s.now()
	slots = []schedule.Slot{}
	for _, date := range dates {
		for _, slot := range perDay[date] {
			if slot.Start.After(now) {
				slots = append(slots, slot)
			}
		}
	}
	return slots, nil
}

// freeSlots lists every slot of day, past or not, that no appointment in
// appts overlaps.
func freeSlots(cfg schedule.Config, day time.Time, appts []*Appointment) []schedule.Slot {
	free := []schedule.Slot{}
	for slot := range schedule.Generate(cfg, day, day, time.Time{}) {
		taken := false
		for _, a := range appts {
			if slot.Overlaps(a.StartTime, a.EndTime) {
				taken = true
				break
			}
		}
		if !taken {
			free = append(free, slot)
		}
	}
	return free
}

func (s *Service) cached(ctx context.Context, version int, date string) ([]schedule.Slot, bool) {
	if s.cache == nil {
		return nil, false
	}
	slots, ok, err := s.cache.Get(ctx, version, date)
	if err != nil {
		telemetry.LoggerFromContext(ctx, s.logger).Warn().Err(err).Str("date", date).Msg("availability cache read failed")
		availabilityLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		availabilityLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	availabilityLookups.WithLabelValues("hit").Inc()
	return slots, true
}

func (s *Service) store(ctx context.Context, version int, date string, slots []schedule.Slot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, version, date, slots); err != nil {
		telemetry.LoggerFromContext(ctx, s.logger).Warn().Err(err).Str("date", date).Msg("availability cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, date); err != nil {
		telemetry.LoggerFromContext(ctx, s.logger).Warn().Err(err).Str("date", date).Msg("availability cache invalidation failed")
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
