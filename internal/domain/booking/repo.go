package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/easybook/easybook/internal/domain/schedule"
)

type Repository interface {
	// CreateIfFree inserts a as confirmed unless a confirmed appointment
	// overlaps it, in which case it returns ErrConflict and writes nothing.
	CreateIfFree(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Cancel moves a confirmed appointment to cancelled. An appointment that
	// is already cancelled is returned unchanged.
	Cancel(ctx context.Context, id, by uuid.UUID, at time.Time) (*Appointment, error)
	// ListConfirmed returns confirmed appointments whose date lies in
	// [from, to], ordered by start time.
	ListConfirmed(ctx context.Context, from, to string) ([]*Appointment, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error)
}

// ScheduleSource supplies the current availability configuration.
type ScheduleSource interface {
	Current(ctx context.Context) (schedule.Config, error)
}

// AvailabilityCache stores the free slots of a date computed under a given
// schedule version. Entries hold every free slot of the day regardless of
// the current time.
type AvailabilityCache interface {
	Get(ctx context.Context, version int, date string) ([]schedule.Slot, bool, error)
	Set(ctx context.Context, version int, date string, slots []schedule.Slot) error
	Invalidate(ctx context.Context, date string) error
}
