package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

// EventLookup resolves events for reminder queries.
type EventLookup interface {
	Get(ctx context.Context, id string) (model.Event, error)
}

// Bookings is the in-memory booking store.
type Bookings struct {
	mu     sync.Mutex
	byID   map[string]*model.Booking
	byHold map[string]string
	events EventLookup
}

// NewBookings returns an empty store joining reminders against events.
func NewBookings(events EventLookup) *Bookings {
	return &Bookings{
		byID:   make(map[string]*model.Booking),
		byHold: make(map[string]string),
		events: events,
	}
}

// Create stores b unless a booking for the same hold exists, in which
// case the existing one is returned with created=false.
func (s *Bookings) Create(_ context.Context, b model.Booking) (model.Booking, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byHold[b.HoldID]; ok {
		return *s.byID[id], false, nil
	}
	b.ReminderSent = false
	s.byID[b.ID] = &b
	s.byHold[b.HoldID] = b.ID
	return b, true, nil
}

func (s *Bookings) GetByHold(_ context.Context, holdID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHold[holdID]
	if !ok {
		return model.Booking{}, model.ErrBookingNotFound
	}
	return *s.byID[id], nil
}

// Get returns a booking by ID.
func (s *Bookings) Get(_ context.Context, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return model.Booking{}, model.ErrBookingNotFound
	}
	return *b, nil
}

func (s *Bookings) ListByPrincipal(_ context.Context, principalID string) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.byID {
		if b.PrincipalID == principalID {
			out = append(out, *b)
		}
	}
	sortNewest(out)
	return out, nil
}

func (s *Bookings) List(_ context.Context, limit, offset int) ([]model.Booking, error) {
	s.mu.Lock()
	out := make([]model.Booking, 0, len(s.byID))
	for _, b := range s.byID {
		out = append(out, *b)
	}
	s.mu.Unlock()

	sortNewest(out)
	if offset >= len(out) {
		return []model.Booking{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PendingReminders returns bookings without a reminder whose event starts
// within [from, to].
func (s *Bookings) PendingReminders(ctx context.Context, from, to time.Time, limit int) ([]model.ReminderTarget, error) {
	s.mu.Lock()
	pending := make([]model.Booking, 0)
	for _, b := range s.byID {
		if !b.ReminderSent {
			pending = append(pending, *b)
		}
	}
	s.mu.Unlock()

	var out []model.ReminderTarget
	for _, b := range pending {
		ev, err := s.events.Get(ctx, b.EventID)
		if err != nil {
			continue
		}
		if ev.StartsAt.Before(from) || ev.StartsAt.After(to) {
			continue
		}
		out = append(out, model.ReminderTarget{
			Booking:       b,
			EventName:     ev.Name,
			EventLocation: ev.Location,
			StartsAt:      ev.StartsAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].Booking.ID < out[j].Booking.ID
		}
		return out[i].StartsAt.Before(out[j].StartsAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkReminderSent flips the reminder flag and reports whether this call
// did the flip.
func (s *Bookings) MarkReminderSent(_ context.Context, bookingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[bookingID]
	if !ok {
		return false, model.ErrBookingNotFound
	}
	if b.ReminderSent {
		return false, nil
	}
	b.ReminderSent = true
	return true, nil
}

func sortNewest(bs []model.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].ID > bs[j].ID
		}
		return bs[i].CreatedAt.After(bs[j].CreatedAt)
	})
}
