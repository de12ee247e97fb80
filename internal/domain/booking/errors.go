package booking

import "errors"

var (
	ErrInvalidSlotRequest = errors.New("invalid slot request")
	ErrConflict           = errors.New("slot already booked")
	ErrNotFound           = errors.New("appointment not found")
	ErrForbidden          = errors.New("not allowed to access this appointment")
	ErrInvalidRange       = errors.New("invalid date range")
	ErrInvalidFilter      = errors.New("invalid appointment filter")
	ErrUnknownClient      = errors.New("unknown client")
)
