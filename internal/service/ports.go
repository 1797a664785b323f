package service

import (
	"context"
	"time"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// SeatLedger owns the seat counters of every event and the holds taken
// against them.  All mutations of one event are linearizable.
type SeatLedger interface {
	Reserve(ctx context.Context, req model.HoldRequest) (model.SeatHold, error)
	Commit(ctx context.Context, holdID, paymentRef string) (model.SeatHold, error)
	Release(ctx context.Context, holdID string, reason model.ReleaseReason) (model.SeatHold, error)
	Expand(ctx context.Context, eventID string, newTotal int) error
	Availability(ctx context.Context, eventID string) (model.SeatCounts, error)
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.SeatHold, error)
	Hold(ctx context.Context, holdID string) (model.SeatHold, error)
}

// PaymentGateway creates payable orders and verifies payment callbacks.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (model.PaymentOrder, error)
	Verify(ctx context.Context, orderID, paymentID, signature string) (bool, error)
	KeyID() string
}

// CheckoutStore persists workflow instances keyed by hold ID.  Get
// returns model.ErrHoldNotFound when no checkout exists.
type CheckoutStore interface {
	Save(ctx context.Context, c model.Checkout) error
	Get(ctx context.Context, holdID string) (model.Checkout, error)
}

// BookingStore persists bookings.  Create is idempotent per hold: when a
// booking for the hold already exists it is returned with created=false.
type BookingStore interface {
	Create(ctx context.Context, b model.Booking) (booking model.Booking, created bool, err error)
	GetByHold(ctx context.Context, holdID string) (model.Booking, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]model.Booking, error)
	List(ctx context.Context, limit, offset int) ([]model.Booking, error)
	PendingReminders(ctx context.Context, from, to time.Time, limit int) ([]model.ReminderTarget, error)
	MarkReminderSent(ctx context.Context, bookingID string) (bool, error)
}

// EventStore persists events.  Seat counters are never written through
// it once the event exists.
type EventStore interface {
	Create(ctx context.Context, e model.Event) (model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	Update(ctx context.Context, e model.Event) (model.Event, error)
	CompleteStarted(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers a message to a recipient.  A nil error means the
// message was accepted for delivery.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}
