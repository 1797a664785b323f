package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

// NewEvent is the input for registering an event.
type NewEvent struct {
	Name       string
	Location   string
	PriceMinor int64
	Currency   string
	TotalSeats int
	StartsAt   time.Time
}

// EventUpdate carries the fields of an event to change.  Nil fields are
// left as they are.
type EventUpdate struct {
	Name       *string
	Location   *string
	PriceMinor *int64
	StartsAt   *time.Time
	TotalSeats *int
}

// Catalog serves the event and booking queries around the workflow:
// registering events, growing their seat pool and listing bookings.
type Catalog struct {
	events   EventStore
	ledger   SeatLedger
	bookings BookingStore
	clock    clock.Clock
	log      *zap.Logger
	currency string
}

// NewCatalog builds a Catalog.  currency is used for events registered
// without one.
func NewCatalog(events EventStore, ledger SeatLedger, bookings BookingStore, c clock.Clock, log *zap.Logger, currency string) *Catalog {
	if c == nil {
		c = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if currency == "" {
		currency = "INR"
	}
	return &Catalog{events: events, ledger: ledger, bookings: bookings, clock: c, log: log, currency: currency}
}

// CreateEvent registers an upcoming event with an empty seat pool usage.
func (c *Catalog) CreateEvent(ctx context.Context, in NewEvent) (model.Event, error) {
	in.Name = strings.TrimSpace(in.Name)
	now := c.clock.Now()
	switch {
	case in.Name == "":
		return model.Event{}, fmt.Errorf("%w: name is required", model.ErrInvalidEvent)
	case in.TotalSeats < 1:
		return model.Event{}, fmt.Errorf("%w: total_seats must be positive", model.ErrInvalidEvent)
	case in.PriceMinor < 0:
		return model.Event{}, fmt.Errorf("%w: price must not be negative", model.ErrInvalidEvent)
	case !in.StartsAt.After(now):
		return model.Event{}, fmt.Errorf("%w: starts_at must be in the future", model.ErrInvalidEvent)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = c.currency
	}
	ev, err := c.events.Create(ctx, model.Event{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Location:   strings.TrimSpace(in.Location),
		PriceMinor: in.PriceMinor,
		Currency:   currency,
		TotalSeats: in.TotalSeats,
		StartsAt:   in.StartsAt.UTC(),
		Status:     model.EventUpcoming,
		CreatedAt:  now,
	})
	if err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	c.log.Info("event created", zap.String("event_id", ev.ID), zap.Int("total_seats", ev.TotalSeats))
	return ev, nil
}

// ExpandSeats changes the capacity of an event.
func (c *Catalog) ExpandSeats(ctx context.Context, eventID string, newTotal int) (model.SeatCounts, error) {
	if err := c.ledger.Expand(ctx, eventID, newTotal); err != nil {
		return model.SeatCounts{}, fmt.Errorf("expand seats: %w", err)
	}
	c.log.Info("event capacity changed", zap.String("event_id", eventID), zap.Int("total_seats", newTotal))
	return c.ledger.Availability(ctx, eventID)
}

// UpdateEvent changes an upcoming event.  Name, location, price and start
// time go to the event store; a new seat total goes through the ledger,
// which refuses totals below committed and held seats.  Holds already
// taken keep the price they were granted at.
func (c *Catalog) UpdateEvent(ctx context.Context, eventID string, in EventUpdate) (model.Event, error) {
	ev, err := c.Event(ctx, eventID)
	if err != nil {
		return model.Event{}, err
	}
	if ev.Status == model.EventCompleted {
		return model.Event{}, model.ErrEventClosed
	}

	if in.Name != nil {
		ev.Name = strings.TrimSpace(*in.Name)
		if ev.Name == "" {
			return model.Event{}, fmt.Errorf("%w: name is required", model.ErrInvalidEvent)
		}
	}
	if in.Location != nil {
		ev.Location = strings.TrimSpace(*in.Location)
	}
	if in.PriceMinor != nil {
		if *in.PriceMinor < 0 {
			return model.Event{}, fmt.Errorf("%w: price must not be negative", model.ErrInvalidEvent)
		}
		ev.PriceMinor = *in.PriceMinor
	}
	if in.StartsAt != nil {
		if !in.StartsAt.After(c.clock.Now()) {
			return model.Event{}, fmt.Errorf("%w: starts_at must be in the future", model.ErrInvalidEvent)
		}
		ev.StartsAt = in.StartsAt.UTC()
	}
	if in.TotalSeats != nil {
		if *in.TotalSeats < 1 {
			return model.Event{}, fmt.Errorf("%w: total_seats must be positive", model.ErrInvalidEvent)
		}
		if _, err := c.ExpandSeats(ctx, eventID, *in.TotalSeats); err != nil {
			return model.Event{}, err
		}
	}

	updated, err := c.events.Update(ctx, ev)
	if err != nil {
		return model.Event{}, fmt.Errorf("update event: %w", err)
	}
	updated.Status = updated.StatusAt(c.clock.Now())
	c.log.Info("event updated", zap.String("event_id", eventID), zap.Int64("price_minor", updated.PriceMinor))
	return updated, nil
}

// ListEvents returns every event ordered by start time, each with its
// status as of now.
func (c *Catalog) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := c.events.List(ctx)
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	for i := range events {
		events[i].Status = events[i].StatusAt(now)
	}
	return events, nil
}

// Availability returns the seat pool snapshot of an event.
func (c *Catalog) Availability(ctx context.Context, eventID string) (model.SeatCounts, error) {
	return c.ledger.Availability(ctx, eventID)
}

// Event returns one event with its status as of now.
func (c *Catalog) Event(ctx context.Context, eventID string) (model.Event, error) {
	ev, err := c.events.Get(ctx, eventID)
	if err != nil {
		return model.Event{}, err
	}
	ev.Status = ev.StatusAt(c.clock.Now())
	return ev, nil
}

// BookingsOf lists the bookings of one principal, newest first.
func (c *Catalog) BookingsOf(ctx context.Context, principalID string) ([]model.Booking, error) {
	return c.bookings.ListByPrincipal(ctx, principalID)
}

// AllBookings pages through every booking, newest first.
func (c *Catalog) AllBookings(ctx context.Context, limit, offset int) ([]model.Booking, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return c.bookings.List(ctx, limit, offset)
}
