package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLedgerWithEvent(t *testing.T, seats int) (*Ledger, *clock.Manual, string) {
	t.Helper()
	clk := clock.NewManual(t0)
	l := NewLedger(clk)
	ev, err := l.Create(context.Background(), model.Event{
		ID:         "ev-1",
		Name:       "Concert",
		PriceMinor: 50000,
		Currency:   "INR",
		TotalSeats: seats,
		StartsAt:   t0.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	return l, clk, ev.ID
}

func reserve(t *testing.T, l *Ledger, eventID string, qty int, ttl time.Duration) model.SeatHold {
	t.Helper()
	h, err := l.Reserve(context.Background(), model.HoldRequest{EventID: eventID, PrincipalID: "u-1", Quantity: qty, TTL: ttl})
	require.NoError(t, err)
	return h
}

func TestLedger_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("grants hold with frozen price", func(t *testing.T) {
		l, _, id := newLedgerWithEvent(t, 10)
		h := reserve(t, l, id, 3, 5*time.Minute)

		assert.Equal(t, model.HoldActive, h.Status)
		assert.Equal(t, int64(150000), h.TotalPriceMinor())
		assert.Equal(t, t0.Add(5*time.Minute), h.ExpiresAt)

		counts, err := l.Availability(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.SeatCounts{EventID: id, Total: 10, Held: 3, Available: 7}, counts)
	})

	t.Run("invalid quantity", func(t *testing.T) {
		l, _, id := newLedgerWithEvent(t, 10)
		for _, q := range []int{0, -1} {
			_, err := l.Reserve(ctx, model.HoldRequest{EventID: id, Quantity: q, TTL: time.Minute})
			assert.ErrorIs(t, err, model.ErrInvalidQuantity)
		}
	})

	t.Run("insufficient seats reports availability", func(t *testing.T) {
		l, _, id := newLedgerWithEvent(t, 10)
		reserve(t, l, id, 7, time.Minute)

		_, err := l.Reserve(ctx, model.HoldRequest{EventID: id, Quantity: 4, TTL: time.Minute})
		require.ErrorIs(t, err, model.ErrInsufficientSeats)
		var ise *model.InsufficientSeatsError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, 3, ise.Available)
		assert.Equal(t, "only 3 seats available", err.Error())
	})

	t.Run("unknown event", func(t *testing.T) {
		l, _, _ := newLedgerWithEvent(t, 10)
		_, err := l.Reserve(ctx, model.HoldRequest{EventID: "nope", Quantity: 1, TTL: time.Minute})
		assert.ErrorIs(t, err, model.ErrEventNotFound)
	})

	t.Run("started event is closed", func(t *testing.T) {
		l, clk, id := newLedgerWithEvent(t, 10)
		clk.Advance(48 * time.Hour)
		_, err := l.Reserve(ctx, model.HoldRequest{EventID: id, Quantity: 1, TTL: time.Minute})
		assert.ErrorIs(t, err, model.ErrEventClosed)
	})

	t.Run("lapsed holds do not block new reservations", func(t *testing.T) {
		l, clk, id := newLedgerWithEvent(t, 10)
		reserve(t, l, id, 10, time.Minute)
		clk.Advance(time.Minute)

		h := reserve(t, l, id, 10, time.Minute)
		assert.Equal(t, model.HoldActive, h.Status)
	})
}

func TestLedger_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("moves held seats to committed", func(t *testing.T) {
		l, _, id := newLedgerWithEvent(t, 10)
		h := reserve(t, l, id, 4, time.Minute)

		got, err := l.Commit(ctx, h.ID, "pay_1")
		require.NoError(t, err)
		assert.Equal(t, model.HoldCommitted, got.Status)
		assert.Equal(t, "pay_1", got.PaymentRef)

		counts, _ := l.Availability(ctx, id)
		assert.Equal(t, 4, counts.Committed)
		assert.Equal(t, 0, counts.Held)
		assert.Equal(t, 6, counts.Available)
	})

	t.Run("idempotent for the same payment", func(t *testing.T) {
		l, _, id := newLedgerWithEvent(t, 10)
		h := reserve(t, l, id, 4, time.Minute)

		first, err := l.Commit(ctx, h.ID, "pay_1")
		require.NoError(t, err)
		second, err := l.Commit(ctx, h.ID, "pay_1")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		counts, _ := l.Availability(ctx, id)
		assert.Equal(t, 4, counts.Committed)

		_, err = l.Commit(ctx, h.ID, "pay_2")
		assert.ErrorIs(t, err, model.ErrHoldAlreadyTerminal)
	})

	t.Run("expired hold", func(t *testing.T) {
		l, clk, id := newLedgerWithEvent(t, 10)
		h := reserve(t, l, id, 4, time.Minute)
		clk.Advance(time.Minute + time.Second)

		_, err := l.Commit(ctx, h.ID, "pay_1")
		assert.ErrorIs(t, err, model.ErrHoldExpired)

		_, err = l.Release(ctx, h.ID, model.ReleaseExpired)
		require.NoError(t, err)
		_, err = l.Commit(ctx, h.ID, "pay_1")
		assert.ErrorIs(t, err, model.ErrHoldExpired)
	})

	t.Run("released for another reason", func(t *testing.T) {
		l, _, id := newLedgerWithEvent(t, 10)
		h := reserve(t, l, id, 4, time.Minute)
		_, err := l.Release(ctx, h.ID, model.ReleasePaymentFailed)
		require.NoError(t, err)

		_, err = l.Commit(ctx, h.ID, "pay_1")
		assert.ErrorIs(t, err, model.ErrHoldAlreadyTerminal)
	})

	t.Run("unknown hold", func(t *testing.T) {
		l, _, _ := newLedgerWithEvent(t, 10)
		_, err := l.Commit(ctx, "missing", "pay_1")
		assert.ErrorIs(t, err, model.ErrHoldNotFound)
	})
}

func TestLedger_Release(t *testing.T) {
	ctx := context.Background()
	l, _, id := newLedgerWithEvent(t, 10)
	h := reserve(t, l, id, 4, time.Minute)

	got, err := l.Release(ctx, h.ID, model.ReleaseCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, got.Status)
	assert.Equal(t, model.ReleaseCancelled, got.ReleaseReason)

	again, err := l.Release(ctx, h.ID, model.ReleaseExpired)
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseCancelled, again.ReleaseReason)

	counts, _ := l.Availability(ctx, id)
	assert.Equal(t, 10, counts.Available)

	committed := reserve(t, l, id, 2, time.Minute)
	_, err = l.Commit(ctx, committed.ID, "pay_1")
	require.NoError(t, err)
	_, err = l.Release(ctx, committed.ID, model.ReleaseExpired)
	assert.ErrorIs(t, err, model.ErrHoldAlreadyTerminal)

	_, err = l.Release(ctx, "missing", model.ReleaseExpired)
	assert.ErrorIs(t, err, model.ErrHoldNotFound)
}

func TestLedger_Expand(t *testing.T) {
	ctx := context.Background()
	l, _, id := newLedgerWithEvent(t, 10)
	h := reserve(t, l, id, 4, time.Minute)
	_, err := l.Commit(ctx, h.ID, "pay_1")
	require.NoError(t, err)
	reserve(t, l, id, 3, time.Minute)

	assert.ErrorIs(t, l.Expand(ctx, id, 3), model.ErrBelowCommitted)
	err = l.Expand(ctx, id, 6)
	assert.ErrorIs(t, err, model.ErrBelowCommitted)
	assert.EqualError(t, err, "total seats below committed and held seats")
	require.NoError(t, l.Expand(ctx, id, 7))
	require.NoError(t, l.Expand(ctx, id, 20))

	counts, _ := l.Availability(ctx, id)
	assert.Equal(t, model.SeatCounts{EventID: id, Total: 20, Committed: 4, Held: 3, Available: 13}, counts)

	assert.ErrorIs(t, l.Expand(ctx, "missing", 5), model.ErrEventNotFound)
}

func TestLedger_ExpiredHolds(t *testing.T) {
	ctx := context.Background()
	l, clk, id := newLedgerWithEvent(t, 10)
	short := reserve(t, l, id, 1, time.Minute)
	longer := reserve(t, l, id, 1, 2*time.Minute)
	reserve(t, l, id, 1, time.Hour)
	done := reserve(t, l, id, 1, time.Minute)
	_, err := l.Commit(ctx, done.ID, "pay_1")
	require.NoError(t, err)

	clk.Advance(3 * time.Minute)

	got, err := l.ExpiredHolds(ctx, clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, short.ID, got[0].ID)
	assert.Equal(t, longer.ID, got[1].ID)

	limited, err := l.ExpiredHolds(ctx, clk.Now(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, _ := l.Availability(ctx, id)
	assert.Equal(t, 1, counts.Held)
	assert.Equal(t, 8, counts.Available)
}

func TestLedger_CompleteStarted(t *testing.T) {
	ctx := context.Background()
	l, clk, id := newLedgerWithEvent(t, 10)

	n, err := l.CompleteStarted(ctx, clk.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(49 * time.Hour)
	n, err = l.CompleteStarted(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = l.CompleteStarted(ctx, clk.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	ev, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.EventCompleted, ev.Status)
}

func TestLedger_ConcurrentReserveExactFit(t *testing.T) {
	l, _, id := newLedgerWithEvent(t, 25)

	var granted, refused atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(context.Background(), model.HoldRequest{EventID: id, PrincipalID: "u", Quantity: 1, TTL: time.Hour})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, model.ErrInsufficientSeats):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), granted.Load())
	assert.Equal(t, int32(75), refused.Load())
	counts, _ := l.Availability(context.Background(), id)
	assert.Equal(t, 0, counts.Available)
}

// TestLedger_ConcurrentFuzz mixes reserve, commit and release from many
// goroutines and checks the pool is never oversold and the counters match
// the holds.
func TestLedger_ConcurrentFuzz(t *testing.T) {
	const total = 40
	ctx := context.Background()
	l, _, id := newLedgerWithEvent(t, total)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			var mine []string
			for i := 0; i < 200; i++ {
				switch op := rnd.Intn(3); {
				case op == 0 || len(mine) == 0:
					h, err := l.Reserve(ctx, model.HoldRequest{EventID: id, PrincipalID: "u", Quantity: 1 + rnd.Intn(4), TTL: time.Hour})
					if err == nil {
						mine = append(mine, h.ID)
					} else if !errors.Is(err, model.ErrInsufficientSeats) {
						t.Errorf("reserve: %v", err)
					}
				case op == 1:
					_, err := l.Commit(ctx, mine[rnd.Intn(len(mine))], "pay")
					if err != nil && !errors.Is(err, model.ErrHoldAlreadyTerminal) {
						t.Errorf("commit: %v", err)
					}
				default:
					_, err := l.Release(ctx, mine[rnd.Intn(len(mine))], model.ReleaseCancelled)
					if err != nil && !errors.Is(err, model.ErrHoldAlreadyTerminal) {
						t.Errorf("release: %v", err)
					}
				}

				counts, err := l.Availability(ctx, id)
				if err != nil {
					t.Errorf("availability: %v", err)
					return
				}
				if counts.Committed+counts.Held > total || counts.Available < 0 {
					t.Errorf("oversold: %+v", counts)
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()

	ev, err := l.Get(ctx, id)
	require.NoError(t, err)

	e, err := l.entry(id)
	require.NoError(t, err)
	committed, held := 0, 0
	for _, h := range e.holds {
		switch h.Status {
		case model.HoldCommitted:
			committed += h.Quantity
		case model.HoldActive:
			held += h.Quantity
		}
	}
	assert.Equal(t, committed, ev.CommittedSeats)
	assert.Equal(t, held, ev.HeldSeats)
	assert.LessOrEqual(t, ev.CommittedSeats+ev.HeldSeats, total)
}

func TestLedger_ListAndUpdate(t *testing.T) {
	ctx := context.Background()
	l, _, id := newLedgerWithEvent(t, 10)
	_, err := l.Create(ctx, model.Event{ID: "ev-0", Name: "Opening", TotalSeats: 5, StartsAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	reserve(t, l, id, 2, time.Minute)

	events, err := l.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-0", events[0].ID)
	assert.Equal(t, id, events[1].ID)

	ev := events[1]
	ev.Name, ev.PriceMinor = "Encore", 60000
	ev.TotalSeats, ev.HeldSeats, ev.CommittedSeats = 99, 0, 42
	got, err := l.Update(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "Encore", got.Name)
	assert.Equal(t, int64(60000), got.PriceMinor)
	assert.Equal(t, 10, got.TotalSeats, "counters are not written through Update")
	assert.Equal(t, 2, got.HeldSeats)
	assert.Equal(t, 0, got.CommittedSeats)

	_, err = l.Update(ctx, model.Event{ID: "missing"})
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}
