package booking

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easybook",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easybook",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancellation requests by outcome.",
		},
		[]string{"outcome"},
	)

	availabilityLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "easybook",
			Subsystem: "availability",
			Name:      "cache_lookups_total",
			Help:      "Per-date availability cache lookups by result.",
		},
		[]string{"result"},
	)

	registerOnce sync.Once
)

// RegisterMetrics adds the booking collectors to reg. Later calls are no-ops.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(bookingAttempts, cancellations, availabilityLookups)
	})
}

func bookOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidSlotRequest), errors.Is(err, ErrUnknownClient):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
