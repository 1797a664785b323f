package model

import "time"

// Booking is the permanent record of a paid hold.  It is created exactly
// once per committed hold and only ReminderSent changes afterwards.
type Booking struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	HoldID          string    `json:"hold_id"`
	PrincipalID     string    `json:"principal_id"`
	Recipient       string    `json:"-"`
	Quantity        int       `json:"quantity"`
	TotalPriceMinor int64     `json:"total_price_minor"`
	Currency        string    `json:"currency"`
	OrderID         string    `json:"order_id"`
	PaymentRef      string    `json:"payment_ref"`
	CreatedAt       time.Time `json:"created_at"`
	ReminderSent    bool      `json:"reminder_sent"`
}

// ReminderTarget joins a booking with the event details needed to write
// a reminder.
type ReminderTarget struct {
	Booking       Booking
	EventName     string
	EventLocation string
	StartsAt      time.Time
}
