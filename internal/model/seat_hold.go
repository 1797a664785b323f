package model

import "time"

// HoldStatus is the state of a seat hold.  ACTIVE is the only
// non-terminal state.
type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldCommitted HoldStatus = "COMMITTED"
	HoldReleased  HoldStatus = "RELEASED"
)

// ReleaseReason records why a hold was returned to the pool.
type ReleaseReason string

const (
	ReleaseExpired       ReleaseReason = "expired"
	ReleasePaymentFailed ReleaseReason = "payment_failed"
	ReleaseCancelled     ReleaseReason = "cancelled"
)

// SeatHold represents a temporary reservation of Quantity seats while the
// principal pays for them.  The unit price is frozen when the hold is
// created so that a later price change cannot alter the charged amount.
//
// Fields:
//  ID             – primary key identifier.
//  EventID        – event whose seats are held.
//  PrincipalID    – authenticated principal that owns the hold.
//  Quantity       – number of seats held.
//  UnitPriceMinor – seat price at hold time, in minor units.
//  Currency       – currency of UnitPriceMinor.
//  Status         – ACTIVE, COMMITTED or RELEASED.
//  ReleaseReason  – set when Status is RELEASED.
//  PaymentRef     – gateway payment ID, set when Status is COMMITTED.
//  CreatedAt      – creation timestamp.
//  ExpiresAt      – deadline after which the hold can no longer commit.
//  UpdatedAt      – time of the terminal transition.
type SeatHold struct {
	ID             string        // seat_holds.id
	EventID        string        // seat_holds.event_id
	PrincipalID    string        // seat_holds.principal_id
	Quantity       int           // seat_holds.quantity
	UnitPriceMinor int64         // seat_holds.unit_price_minor
	Currency       string        // seat_holds.currency
	Status         HoldStatus    // seat_holds.status
	ReleaseReason  ReleaseReason // seat_holds.release_reason (nullable)
	PaymentRef     string        // seat_holds.payment_ref (nullable)
	CreatedAt      time.Time     // seat_holds.created_at
	ExpiresAt      time.Time     // seat_holds.expires_at
	UpdatedAt      time.Time     // seat_holds.updated_at
}

// HoldRequest asks the ledger to reserve Quantity seats of EventID for
// PrincipalID until TTL elapses.
type HoldRequest struct {
	EventID     string
	PrincipalID string
	Quantity    int
	TTL         time.Duration
}

// TotalPriceMinor is the amount charged for the hold.
func (h SeatHold) TotalPriceMinor() int64 {
	return h.UnitPriceMinor * int64(h.Quantity)
}

// Expired reports whether the hold deadline has passed at now.
func (h SeatHold) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// Terminal reports whether the hold already left the ACTIVE state.
func (h SeatHold) Terminal() bool {
	return h.Status != HoldActive
}
