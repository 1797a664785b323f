// Package memory keeps events, holds, bookings and checkouts in process
// memory.  Every event has its own mutex, which is the atomic unit for
// all seat mutations of that event.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

type eventEntry struct {
	mu    sync.Mutex
	event model.Event
	holds map[string]*model.SeatHold
}

// expiredHeld sums the quantity of ACTIVE holds past their deadline.
// Caller holds e.mu.
func (e *eventEntry) expiredHeld(now time.Time) int {
	n := 0
	for _, h := range e.holds {
		if h.Status == model.HoldActive && h.Expired(now) {
			n += h.Quantity
		}
	}
	return n
}

// Ledger is the in-memory seat ledger.  It also stores the events
// themselves.
type Ledger struct {
	mu     sync.RWMutex
	events map[string]*eventEntry
	holds  map[string]string // hold ID -> event ID

	clock clock.Clock
	newID func() string
}

// NewLedger returns an empty ledger reading time from c.
func NewLedger(c clock.Clock) *Ledger {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Ledger{
		events: make(map[string]*eventEntry),
		holds:  make(map[string]string),
		clock:  c,
		newID:  uuid.NewString,
	}
}

func (l *Ledger) entry(eventID string) (*eventEntry, error) {
	l.mu.RLock()
	e, ok := l.events[eventID]
	l.mu.RUnlock()
	if !ok {
		return nil, model.ErrEventNotFound
	}
	return e, nil
}

func (l *Ledger) holdEntry(holdID string) (*eventEntry, error) {
	l.mu.RLock()
	eventID, ok := l.holds[holdID]
	var e *eventEntry
	if ok {
		e = l.events[eventID]
	}
	l.mu.RUnlock()
	if e == nil {
		return nil, model.ErrHoldNotFound
	}
	return e, nil
}

// Create stores a new event.
func (l *Ledger) Create(_ context.Context, ev model.Event) (model.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[ev.ID]; ok {
		return model.Event{}, fmt.Errorf("%w: duplicate id %s", model.ErrInvalidEvent, ev.ID)
	}
	if ev.Status == "" {
		ev.Status = model.EventUpcoming
	}
	ev.CommittedSeats, ev.HeldSeats = 0, 0
	l.events[ev.ID] = &eventEntry{event: ev, holds: make(map[string]*model.SeatHold)}
	return ev, nil
}

// Get returns a copy of the event.
func (l *Ledger) Get(_ context.Context, id string) (model.Event, error) {
	e, err := l.entry(id)
	if err != nil {
		return model.Event{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.event, nil
}

// List returns every event ordered by start time.
func (l *Ledger) List(_ context.Context) ([]model.Event, error) {
	entries := l.snapshot()
	out := make([]model.Event, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.event)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	return out, nil
}

// Update replaces the descriptive fields of an event: name, location,
// price and start time.  Seat counters and status are left alone.
func (l *Ledger) Update(_ context.Context, ev model.Event) (model.Event, error) {
	e, err := l.entry(ev.ID)
	if err != nil {
		return model.Event{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.event.Name = ev.Name
	e.event.Location = ev.Location
	e.event.PriceMinor = ev.PriceMinor
	e.event.StartsAt = ev.StartsAt
	return e.event, nil
}

// CompleteStarted marks every upcoming event whose start time passed as
// COMPLETED and returns how many changed.
func (l *Ledger) CompleteStarted(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, e := range l.snapshot() {
		e.mu.Lock()
		if e.event.Status == model.EventUpcoming && e.event.StatusAt(now) == model.EventCompleted {
			e.event.Status = model.EventCompleted
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}

// Reserve takes req.Quantity seats out of the available pool.
func (l *Ledger) Reserve(_ context.Context, req model.HoldRequest) (model.SeatHold, error) {
	if req.Quantity < 1 {
		return model.SeatHold{}, model.ErrInvalidQuantity
	}
	e, err := l.entry(req.EventID)
	if err != nil {
		return model.SeatHold{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.clock.Now()
	if e.event.StatusAt(now) == model.EventCompleted {
		return model.SeatHold{}, model.ErrEventClosed
	}
	counts := e.event.Counts(e.expiredHeld(now))
	if req.Quantity > counts.Available {
		return model.SeatHold{}, &model.InsufficientSeatsError{Requested: req.Quantity, Available: counts.Available}
	}

	h := &model.SeatHold{
		ID:             l.newID(),
		EventID:        req.EventID,
		PrincipalID:    req.PrincipalID,
		Quantity:       req.Quantity,
		UnitPriceMinor: e.event.PriceMinor,
		Currency:       e.event.Currency,
		Status:         model.HoldActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(req.TTL),
		UpdatedAt:      now,
	}
	e.holds[h.ID] = h
	e.event.HeldSeats += h.Quantity

	l.mu.Lock()
	l.holds[h.ID] = req.EventID
	l.mu.Unlock()

	return *h, nil
}

// Commit turns an ACTIVE hold into a permanent deduction.  Committing a
// hold again with the same payment reference returns it unchanged.
func (l *Ledger) Commit(_ context.Context, holdID, paymentRef string) (model.SeatHold, error) {
	e, err := l.holdEntry(holdID)
	if err != nil {
		return model.SeatHold{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.holds[holdID]
	now := l.clock.Now()
	switch h.Status {
	case model.HoldCommitted:
		if h.PaymentRef == paymentRef {
			return *h, nil
		}
		return model.SeatHold{}, model.ErrHoldAlreadyTerminal
	case model.HoldReleased:
		if h.ReleaseReason == model.ReleaseExpired {
			return model.SeatHold{}, model.ErrHoldExpired
		}
		return model.SeatHold{}, model.ErrHoldAlreadyTerminal
	}
	if h.Expired(now) {
		return model.SeatHold{}, model.ErrHoldExpired
	}

	e.event.HeldSeats -= h.Quantity
	e.event.CommittedSeats += h.Quantity
	h.Status = model.HoldCommitted
	h.PaymentRef = paymentRef
	h.UpdatedAt = now
	return *h, nil
}

// Release returns an ACTIVE hold's seats to the pool.  Releasing a
// released hold is a no-op; releasing a committed one fails.
func (l *Ledger) Release(_ context.Context, holdID string, reason model.ReleaseReason) (model.SeatHold, error) {
	e, err := l.holdEntry(holdID)
	if err != nil {
		return model.SeatHold{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.holds[holdID]
	switch h.Status {
	case model.HoldReleased:
		return *h, nil
	case model.HoldCommitted:
		return model.SeatHold{}, model.ErrHoldAlreadyTerminal
	}

	e.event.HeldSeats -= h.Quantity
	h.Status = model.HoldReleased
	h.ReleaseReason = reason
	h.UpdatedAt = l.clock.Now()
	return *h, nil
}

// Expand sets the capacity of an event.  The new total must still cover
// every committed and actively held seat.
func (l *Ledger) Expand(_ context.Context, eventID string, newTotal int) error {
	e, err := l.entry(eventID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	counts := e.event.Counts(e.expiredHeld(l.clock.Now()))
	if newTotal < counts.Committed+counts.Held {
		return model.ErrBelowCommitted
	}
	e.event.TotalSeats = newTotal
	return nil
}

// Availability returns a consistent snapshot of the seat pool.
func (l *Ledger) Availability(_ context.Context, eventID string) (model.SeatCounts, error) {
	e, err := l.entry(eventID)
	if err != nil {
		return model.SeatCounts{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.event.Counts(e.expiredHeld(l.clock.Now())), nil
}

// ExpiredHolds lists up to limit ACTIVE holds whose deadline is at or
// before now, oldest deadline first.
func (l *Ledger) ExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.SeatHold, error) {
	var out []model.SeatHold
	for _, e := range l.snapshot() {
		e.mu.Lock()
		for _, h := range e.holds {
			if h.Status == model.HoldActive && h.Expired(now) {
				out = append(out, *h)
			}
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Hold returns a copy of one hold.
func (l *Ledger) Hold(_ context.Context, holdID string) (model.SeatHold, error) {
	e, err := l.holdEntry(holdID)
	if err != nil {
		return model.SeatHold{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.holds[holdID], nil
}

func (l *Ledger) snapshot() []*eventEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*eventEntry, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e)
	}
	return out
}
