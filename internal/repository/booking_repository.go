package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

const bookingColumns = `id, event_id, hold_id, principal_id, recipient, quantity, total_price_minor, currency, order_id, payment_ref, created_at, reminder_sent`

// BookingRepo provides access to the bookings table.  hold_id is unique,
// which is what makes Create idempotent per hold.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// Create inserts b.  When a booking for the same hold already exists it
// is returned with created=false and b is discarded.
func (r *BookingRepo) Create(ctx context.Context, b model.Booking) (model.Booking, bool, error) {
	const q = `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`
	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.EventID, b.HoldID, b.PrincipalID, b.Recipient, b.Quantity, b.TotalPriceMinor,
		b.Currency, b.OrderID, b.PaymentRef, b.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			existing, getErr := r.GetByHold(ctx, b.HoldID)
			if getErr != nil {
				return model.Booking{}, false, getErr
			}
			return existing, false, nil
		}
		return model.Booking{}, false, err
	}
	b.ReminderSent = false
	return b, true, nil
}

// GetByHold returns the booking created from a hold.
func (r *BookingRepo) GetByHold(ctx context.Context, holdID string) (model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE hold_id = ?`, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, model.ErrBookingNotFound
	}
	return b, err
}

// ListByPrincipal returns the bookings of one principal, newest first.
func (r *BookingRepo) ListByPrincipal(ctx context.Context, principalID string) ([]model.Booking, error) {
	return r.query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE principal_id = ? ORDER BY created_at DESC, id DESC`,
		principalID)
}

// List pages through all bookings, newest first.
func (r *BookingRepo) List(ctx context.Context, limit, offset int) ([]model.Booking, error) {
	return r.query(ctx,
		`SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

// PendingReminders returns bookings still waiting for a reminder whose
// event starts within [from, to], soonest event first.
func (r *BookingRepo) PendingReminders(ctx context.Context, from, to time.Time, limit int) ([]model.ReminderTarget, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT b.id, b.event_id, b.hold_id, b.principal_id, b.recipient, b.quantity, b.total_price_minor,
       b.currency, b.order_id, b.payment_ref, b.created_at, b.reminder_sent,
       e.name, e.location, e.starts_at
FROM bookings b
JOIN events e ON e.id = b.event_id
WHERE b.reminder_sent = 0 AND e.starts_at BETWEEN ? AND ?
ORDER BY e.starts_at, b.id
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ReminderTarget
	for rows.Next() {
		var t model.ReminderTarget
		b := &t.Booking
		if err := rows.Scan(&b.ID, &b.EventID, &b.HoldID, &b.PrincipalID, &b.Recipient, &b.Quantity,
			&b.TotalPriceMinor, &b.Currency, &b.OrderID, &b.PaymentRef, &b.CreatedAt, &b.ReminderSent,
			&t.EventName, &t.EventLocation, &t.StartsAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkReminderSent flips reminder_sent from 0 to 1 and reports whether
// this call did the flip.  Concurrent callers see exactly one true.
func (r *BookingRepo) MarkReminderSent(ctx context.Context, bookingID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE bookings SET reminder_sent = 1 WHERE id = ? AND reminder_sent = 0`, bookingID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, bookingID).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, model.ErrBookingNotFound
	}
	return false, nil
}

func (r *BookingRepo) query(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(s scanner) (model.Booking, error) {
	var b model.Booking
	err := s.Scan(&b.ID, &b.EventID, &b.HoldID, &b.PrincipalID, &b.Recipient, &b.Quantity,
		&b.TotalPriceMinor, &b.Currency, &b.OrderID, &b.PaymentRef, &b.CreatedAt, &b.ReminderSent)
	return b, err
}
