package model

import "time"

// CheckoutState is the state of one booking attempt.
type CheckoutState string

const (
	CheckoutInitiated       CheckoutState = "INITIATED"
	CheckoutHolding         CheckoutState = "HOLDING"
	CheckoutAwaitingPayment CheckoutState = "AWAITING_PAYMENT"
	CheckoutConfirmed       CheckoutState = "CONFIRMED"
	CheckoutRejected        CheckoutState = "REJECTED"
	CheckoutExpired         CheckoutState = "EXPIRED_OR_CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s CheckoutState) Terminal() bool {
	switch s {
	case CheckoutConfirmed, CheckoutRejected, CheckoutExpired:
		return true
	}
	return false
}

// Checkout tracks a booking attempt from the moment a hold is granted
// until it is confirmed or given up.  It is keyed by the hold ID; a
// rejected reservation never produces a hold and is therefore never
// stored.
type Checkout struct {
	HoldID      string
	EventID     string
	PrincipalID string
	Recipient   string
	Quantity    int
	AmountMinor int64
	Currency    string
	Receipt     string
	OrderID     string
	State       CheckoutState
	BookingID   string
	Reason      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentOrder is the payable order returned by the payment gateway.
type PaymentOrder struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}
