package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

const eventColumns = `id, name, location, price_minor, currency, total_seats, committed_seats, held_seats, starts_at, status, created_at`

// EventRepo provides access to the events table.  Seat counters are only
// ever changed by SeatLedgerRepo; EventRepo writes them once, on insert.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Create inserts a new event with zeroed seat usage.
func (r *EventRepo) Create(ctx context.Context, ev model.Event) (model.Event, error) {
	if ev.Status == "" {
		ev.Status = model.EventUpcoming
	}
	ev.CommittedSeats, ev.HeldSeats = 0, 0
	const q = `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		ev.ID, ev.Name, ev.Location, ev.PriceMinor, ev.Currency, ev.TotalSeats,
		ev.StartsAt.UTC(), string(ev.Status), ev.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return model.Event{}, fmt.Errorf("%w: duplicate id %s", model.ErrInvalidEvent, ev.ID)
		}
		return model.Event{}, err
	}
	return ev, nil
}

// Get returns the event with the given ID or model.ErrEventNotFound.
func (r *EventRepo) Get(ctx context.Context, id string) (model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, model.ErrEventNotFound
	}
	return ev, err
}

// List returns every event ordered by start time.
func (r *EventRepo) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starts_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Update writes name, location, price and start time of an event and
// returns the stored row.  Seat counters and status are not touched.
func (r *EventRepo) Update(ctx context.Context, ev model.Event) (model.Event, error) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events SET name = ?, location = ?, price_minor = ?, starts_at = ? WHERE id = ?`,
		ev.Name, ev.Location, ev.PriceMinor, ev.StartsAt.UTC(), ev.ID)
	if err != nil {
		return model.Event{}, err
	}
	return r.Get(ctx, ev.ID)
}

// CompleteStarted persists COMPLETED for every upcoming event whose start
// time is at or before now.  It returns the number of events changed.
func (r *EventRepo) CompleteStarted(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE status = ? AND starts_at <= ?`,
		string(model.EventCompleted), string(model.EventUpcoming), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvent(s scanner) (model.Event, error) {
	var ev model.Event
	var status string
	err := s.Scan(&ev.ID, &ev.Name, &ev.Location, &ev.PriceMinor, &ev.Currency,
		&ev.TotalSeats, &ev.CommittedSeats, &ev.HeldSeats, &ev.StartsAt, &status, &ev.CreatedAt)
	if err != nil {
		return model.Event{}, err
	}
	ev.Status = model.EventStatus(status)
	return ev, nil
}
