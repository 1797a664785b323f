package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

const holdColumns = `id, event_id, principal_id, quantity, unit_price_minor, currency, status, release_reason, payment_ref, created_at, expires_at, updated_at`

// SeatLedgerRepo is the MySQL seat ledger.  Every mutation runs in one
// transaction that first locks the event row with SELECT ... FOR UPDATE,
// so all reserve, commit, release and expand calls on one event are
// serialized while different events proceed independently.  Rows are
// always locked event first, hold second.
type SeatLedgerRepo struct {
	db       *sql.DB
	clock    clock.Clock
	attempts int
	newID    func() string
}

// NewSeatLedgerRepo returns a ledger bound to db.  attempts bounds how
// often a transaction is retried after a deadlock; zero uses the default.
func NewSeatLedgerRepo(db *sql.DB, c clock.Clock, attempts int) *SeatLedgerRepo {
	if c == nil {
		c = clock.NewSystem()
	}
	if attempts <= 0 {
		attempts = defaultTxAttempts
	}
	return &SeatLedgerRepo{db: db, clock: c, attempts: attempts, newID: uuid.NewString}
}

// Reserve takes req.Quantity seats out of the available pool.  Holds past
// their deadline still count in held_seats until released, but are not
// subtracted from the pool here.
func (r *SeatLedgerRepo) Reserve(ctx context.Context, req model.HoldRequest) (model.SeatHold, error) {
	if req.Quantity < 1 {
		return model.SeatHold{}, model.ErrInvalidQuantity
	}
	var hold model.SeatHold
	err := withTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		ev, err := lockEventTx(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		if ev.StatusAt(now) == model.EventCompleted {
			return model.ErrEventClosed
		}
		expired, err := expiredHeldTx(ctx, tx, ev.ID, now)
		if err != nil {
			return err
		}
		counts := ev.Counts(expired)
		if req.Quantity > counts.Available {
			return &model.InsufficientSeatsError{Requested: req.Quantity, Available: counts.Available}
		}

		hold = model.SeatHold{
			ID:             r.newID(),
			EventID:        ev.ID,
			PrincipalID:    req.PrincipalID,
			Quantity:       req.Quantity,
			UnitPriceMinor: ev.PriceMinor,
			Currency:       ev.Currency,
			Status:         model.HoldActive,
			CreatedAt:      now,
			ExpiresAt:      now.Add(req.TTL),
			UpdatedAt:      now,
		}
		const ins = `INSERT INTO seat_holds (` + holdColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, ins,
			hold.ID, hold.EventID, hold.PrincipalID, hold.Quantity, hold.UnitPriceMinor, hold.Currency,
			string(hold.Status), hold.CreatedAt, hold.ExpiresAt, hold.UpdatedAt); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE events SET held_seats = held_seats + ? WHERE id = ?`, hold.Quantity, ev.ID)
		return err
	})
	if err != nil {
		return model.SeatHold{}, err
	}
	return hold, nil
}

// Commit turns an ACTIVE hold into a permanent deduction.  Committing a
// hold again with the same payment reference returns it unchanged.
func (r *SeatLedgerRepo) Commit(ctx context.Context, holdID, paymentRef string) (model.SeatHold, error) {
	var hold model.SeatHold
	err := withTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		h, err := r.lockHoldTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		now := r.clock.Now()
		switch h.Status {
		case model.HoldCommitted:
			if h.PaymentRef != paymentRef {
				return model.ErrHoldAlreadyTerminal
			}
			hold = h
			return nil
		case model.HoldReleased:
			if h.ReleaseReason == model.ReleaseExpired {
				return model.ErrHoldExpired
			}
			return model.ErrHoldAlreadyTerminal
		}
		if h.Expired(now) {
			return model.ErrHoldExpired
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE seat_holds SET status = ?, payment_ref = ?, updated_at = ? WHERE id = ?`,
			string(model.HoldCommitted), paymentRef, now, h.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET held_seats = held_seats - ?, committed_seats = committed_seats + ? WHERE id = ?`,
			h.Quantity, h.Quantity, h.EventID); err != nil {
			return err
		}
		h.Status = model.HoldCommitted
		h.PaymentRef = paymentRef
		h.UpdatedAt = now
		hold = h
		return nil
	})
	if err != nil {
		return model.SeatHold{}, err
	}
	return hold, nil
}

// Release returns an ACTIVE hold's seats to the pool.  Releasing a
// released hold is a no-op; releasing a committed one fails.
func (r *SeatLedgerRepo) Release(ctx context.Context, holdID string, reason model.ReleaseReason) (model.SeatHold, error) {
	var hold model.SeatHold
	err := withTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		h, err := r.lockHoldTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		switch h.Status {
		case model.HoldReleased:
			hold = h
			return nil
		case model.HoldCommitted:
			return model.ErrHoldAlreadyTerminal
		}

		now := r.clock.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE seat_holds SET status = ?, release_reason = ?, updated_at = ? WHERE id = ?`,
			string(model.HoldReleased), string(reason), now, h.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET held_seats = held_seats - ? WHERE id = ?`, h.Quantity, h.EventID); err != nil {
			return err
		}
		h.Status = model.HoldReleased
		h.ReleaseReason = reason
		h.UpdatedAt = now
		hold = h
		return nil
	})
	if err != nil {
		return model.SeatHold{}, err
	}
	return hold, nil
}

// Expand sets the capacity of an event.  The new total must still cover
// every committed and actively held seat.
func (r *SeatLedgerRepo) Expand(ctx context.Context, eventID string, newTotal int) error {
	return withTx(ctx, r.db, r.attempts, func(tx *sql.Tx) error {
		ev, err := lockEventTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		expired, err := expiredHeldTx(ctx, tx, ev.ID, r.clock.Now())
		if err != nil {
			return err
		}
		counts := ev.Counts(expired)
		if newTotal < counts.Committed+counts.Held {
			return model.ErrBelowCommitted
		}
		_, err = tx.ExecContext(ctx, `UPDATE events SET total_seats = ? WHERE id = ?`, newTotal, ev.ID)
		return err
	})
}

// Availability reads the event counters and its lapsed holds in a single
// statement, so the snapshot is consistent.
func (r *SeatLedgerRepo) Availability(ctx context.Context, eventID string) (model.SeatCounts, error) {
	const q = `
SELECT e.id, e.total_seats, e.committed_seats, e.held_seats,
       COALESCE((SELECT SUM(h.quantity) FROM seat_holds h
                 WHERE h.event_id = e.id AND h.status = ? AND h.expires_at <= ?), 0)
FROM events e WHERE e.id = ?`
	var ev model.Event
	var expired int
	err := r.db.QueryRowContext(ctx, q, string(model.HoldActive), r.clock.Now(), eventID).
		Scan(&ev.ID, &ev.TotalSeats, &ev.CommittedSeats, &ev.HeldSeats, &expired)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeatCounts{}, model.ErrEventNotFound
	}
	if err != nil {
		return model.SeatCounts{}, err
	}
	return ev.Counts(expired), nil
}

// ExpiredHolds lists up to limit ACTIVE holds whose deadline is at or
// before now, oldest deadline first.
func (r *SeatLedgerRepo) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.SeatHold, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE status = ? AND expires_at <= ? ORDER BY expires_at, id LIMIT ?`,
		string(model.HoldActive), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SeatHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Hold returns one hold without locking it.
func (r *SeatLedgerRepo) Hold(ctx context.Context, holdID string) (model.SeatHold, error) {
	h, err := scanHold(r.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM seat_holds WHERE id = ?`, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeatHold{}, model.ErrHoldNotFound
	}
	return h, err
}

// lockHoldTx locks the event of a hold and then the hold itself.
func (r *SeatLedgerRepo) lockHoldTx(ctx context.Context, tx *sql.Tx, holdID string) (model.SeatHold, error) {
	var eventID string
	err := tx.QueryRowContext(ctx, `SELECT event_id FROM seat_holds WHERE id = ?`, holdID).Scan(&eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeatHold{}, model.ErrHoldNotFound
	}
	if err != nil {
		return model.SeatHold{}, err
	}
	if _, err := lockEventTx(ctx, tx, eventID); err != nil {
		return model.SeatHold{}, err
	}
	h, err := scanHold(tx.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM seat_holds WHERE id = ? FOR UPDATE`, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SeatHold{}, model.ErrHoldNotFound
	}
	return h, err
}

func lockEventTx(ctx context.Context, tx *sql.Tx, eventID string) (model.Event, error) {
	ev, err := scanEvent(tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ? FOR UPDATE`, eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, model.ErrEventNotFound
	}
	return ev, err
}

// expiredHeldTx sums the ACTIVE holds of an event whose deadline passed.
func expiredHeldTx(ctx context.Context, tx *sql.Tx, eventID string, now time.Time) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM seat_holds WHERE event_id = ? AND status = ? AND expires_at <= ?`,
		eventID, string(model.HoldActive), now.UTC()).Scan(&n)
	return n, err
}

func scanHold(s scanner) (model.SeatHold, error) {
	var h model.SeatHold
	var status string
	var reason, paymentRef sql.NullString
	err := s.Scan(&h.ID, &h.EventID, &h.PrincipalID, &h.Quantity, &h.UnitPriceMinor, &h.Currency,
		&status, &reason, &paymentRef, &h.CreatedAt, &h.ExpiresAt, &h.UpdatedAt)
	if err != nil {
		return model.SeatHold{}, err
	}
	h.Status = model.HoldStatus(status)
	h.ReleaseReason = model.ReleaseReason(reason.String)
	h.PaymentRef = paymentRef.String
	return h, nil
}
