package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity           = errors.New("invalid quantity")
	ErrInsufficientSeats         = errors.New("insufficient seats")
	ErrEventNotFound             = errors.New("event not found")
	ErrEventClosed               = errors.New("event already started")
	ErrHoldNotFound              = errors.New("hold not found")
	ErrHoldExpired               = errors.New("hold expired")
	ErrHoldAlreadyTerminal       = errors.New("hold already terminal")
	ErrBelowCommitted            = errors.New("total seats below committed and held seats")
	ErrBookingNotFound           = errors.New("booking not found")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrPersistenceConflict       = errors.New("persistence conflict")
	ErrForbidden                 = errors.New("forbidden")
	ErrInvalidEvent              = errors.New("invalid event")
)

// InsufficientSeatsError carries how many seats were left when a
// reservation was refused.
type InsufficientSeatsError struct {
	Requested int
	Available int
}

func (e *InsufficientSeatsError) Error() string {
	return fmt.Sprintf("only %d seats available", e.Available)
}

func (e *InsufficientSeatsError) Is(target error) bool {
	return target == ErrInsufficientSeats
}
