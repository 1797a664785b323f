package model

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventUpcoming  EventStatus = "UPCOMING"
	EventCompleted EventStatus = "COMPLETED"
)

// Event is a ticketed event with a finite pool of seats.  The seat
// counters are owned by the seat ledger and change only through its
// reserve, commit, release and expand operations.
//
// Fields:
//  ID             – primary key identifier.
//  Name           – display name used in notifications.
//  Location       – venue, used in reminder messages.
//  PriceMinor     – price of one seat in minor currency units.
//  Currency       – ISO currency code of PriceMinor.
//  TotalSeats     – seat capacity.
//  CommittedSeats – seats permanently deducted by committed holds.
//  HeldSeats      – seats reserved by ACTIVE holds (including holds past
//                   their deadline that were not released yet).
//  StartsAt       – event start time (UTC).
//  Status         – UPCOMING or COMPLETED.
//  CreatedAt      – creation timestamp.
type Event struct {
	ID             string      // events.id
	Name           string      // events.name
	Location       string      // events.location
	PriceMinor     int64       // events.price_minor
	Currency       string      // events.currency
	TotalSeats     int         // events.total_seats
	CommittedSeats int         // events.committed_seats
	HeldSeats      int         // events.held_seats
	StartsAt       time.Time   // events.starts_at
	Status         EventStatus // events.status
	CreatedAt      time.Time   // events.created_at
}

// StatusAt reports the status of the event as observed at now.  Once the
// start time has passed the event is COMPLETED and never goes back.
func (e Event) StatusAt(now time.Time) EventStatus {
	if e.Status == EventCompleted || !now.Before(e.StartsAt) {
		return EventCompleted
	}
	return EventUpcoming
}

// SeatCounts is a consistent snapshot of an event's seat pool.
type SeatCounts struct {
	EventID   string `json:"event_id"`
	Total     int    `json:"total_seats"`
	Committed int    `json:"committed_seats"`
	Held      int    `json:"held_seats"`
	Available int    `json:"available_seats"`
}

// Counts builds the snapshot for the event.  expiredHeld is the part of
// HeldSeats that belongs to holds whose deadline already passed; those
// seats can no longer be committed and are treated as available.
func (e Event) Counts(expiredHeld int) SeatCounts {
	held := e.HeldSeats - expiredHeld
	if held < 0 {
		held = 0
	}
	return SeatCounts{
		EventID:   e.ID,
		Total:     e.TotalSeats,
		Committed: e.CommittedSeats,
		Held:      held,
		Available: e.TotalSeats - e.CommittedSeats - held,
	}
}
