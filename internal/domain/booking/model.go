package booking

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// MaxRangeDays bounds availability queries.
const MaxRangeDays = 62

// MaxNoteLength bounds the free-text note on an appointment.
const MaxNoteLength = 1000

type Appointment struct {
	ID          uuid.UUID  `json:"id"`
	ClientID    uuid.UUID  `json:"client_id"`
	SlotDate    string     `json:"date"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Status      string     `json:"status"`
	Note        *string    `json:"note,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy *uuid.UUID `json:"cancelled_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (a *Appointment) Confirmed() bool { return a.Status == StatusConfirmed }

// Requester is the identity on whose behalf an operation runs.
type Requester struct {
	AccountID uuid.UUID
	Admin     bool
}

func (r Requester) owns(a *Appointment) bool {
	return r.Admin || a.ClientID == r.AccountID
}

// BookRequest names a slot by its date and start time in the provider
// timezone. ClientID is only honoured for administrators.
type BookRequest struct {
	Date     string     `json:"date"`
	Start    string     `json:"start"`
	ClientID *uuid.UUID `json:"client_id,omitempty"`
	Note     *string    `json:"note,omitempty"`
}

// Filter narrows appointment listings. Dates are inclusive YYYY-MM-DD.
type Filter struct {
	ClientID *uuid.UUID
	Status   string
	From     string
	To       string
}
