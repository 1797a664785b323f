package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

const checkoutColumns = `hold_id, event_id, principal_id, recipient, quantity, amount_minor, currency, receipt, order_id, state, booking_id, reason, expires_at, created_at, updated_at`

// CheckoutRepo persists booking workflow instances, one row per hold.
type CheckoutRepo struct {
	db *sql.DB
}

// NewCheckoutRepo returns a new CheckoutRepo bound to the given database.
func NewCheckoutRepo(db *sql.DB) *CheckoutRepo { return &CheckoutRepo{db: db} }

// Save inserts the checkout of c.HoldID or updates its mutable columns.
// A row already in a terminal state only accepts writes of that same
// state; anything else is model.ErrHoldAlreadyTerminal.
func (r *CheckoutRepo) Save(ctx context.Context, c model.Checkout) error {
	return withTx(ctx, r.db, defaultTxAttempts, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM checkouts WHERE hold_id = ? FOR UPDATE`, c.HoldID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			_, err = tx.ExecContext(ctx, `INSERT INTO checkouts (`+checkoutColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.HoldID, c.EventID, c.PrincipalID, c.Recipient, c.Quantity, c.AmountMinor, c.Currency, c.Receipt,
				c.OrderID, string(c.State), c.BookingID, c.Reason, c.ExpiresAt.UTC(), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
			return err
		}
		if err != nil {
			return err
		}
		if cur := model.CheckoutState(state); cur.Terminal() && cur != c.State {
			return model.ErrHoldAlreadyTerminal
		}
		_, err = tx.ExecContext(ctx, `UPDATE checkouts
SET order_id = ?, state = ?, booking_id = ?, reason = ?, updated_at = ?
WHERE hold_id = ? AND (state NOT IN ('CONFIRMED', 'REJECTED', 'EXPIRED_OR_CANCELLED') OR state = ?)`,
			c.OrderID, string(c.State), c.BookingID, c.Reason, c.UpdatedAt.UTC(), c.HoldID, string(c.State))
		return err
	})
}

// Get returns the checkout of a hold or model.ErrHoldNotFound.
func (r *CheckoutRepo) Get(ctx context.Context, holdID string) (model.Checkout, error) {
	var c model.Checkout
	var state string
	err := r.db.QueryRowContext(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE hold_id = ?`, holdID).Scan(
		&c.HoldID, &c.EventID, &c.PrincipalID, &c.Recipient, &c.Quantity, &c.AmountMinor, &c.Currency,
		&c.Receipt, &c.OrderID, &state, &c.BookingID, &c.Reason, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkout{}, model.ErrHoldNotFound
	}
	if err != nil {
		return model.Checkout{}, err
	}
	c.State = model.CheckoutState(state)
	return c, nil
}
