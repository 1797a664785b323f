package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/payment"
	"github.com/iliyamo/event-seat-booking/internal/repository/memory"
)

const testSecret = "rzp_test_secret"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	orders    int
	createErr error
	verifyErr error

	// When set, CreateOrder signals entered and then waits for release.
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (model.PaymentOrder, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return model.PaymentOrder{}, g.createErr
	}
	g.orders++
	return model.PaymentOrder{
		ID:          fmt.Sprintf("order_%d", g.orders),
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		Status:      "created",
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, orderID, paymentID, signature string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return payment.VerifySignature(testSecret, orderID, paymentID, signature), nil
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

type sentMessage struct {
	Recipient, Subject, Body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{recipient, subject, body})
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	clock     *clock.Manual
	ledger    *memory.Ledger
	bookings  *memory.Bookings
	checkouts *memory.Checkouts
	gateway   *fakeGateway
	notifier  *fakeNotifier
	workflow  *BookingWorkflow
	eventID   string
}

func newFixture(t *testing.T, seats int, ttl time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		clock:     clock.NewManual(t0),
		checkouts: memory.NewCheckouts(),
		gateway:   &fakeGateway{},
		notifier:  &fakeNotifier{},
	}
	f.ledger = memory.NewLedger(f.clock)
	f.bookings = memory.NewBookings(f.ledger)
	ev, err := f.ledger.Create(context.Background(), model.Event{
		ID:         "ev-1",
		Name:       "Jazz Night",
		PriceMinor: 25000,
		Currency:   "INR",
		TotalSeats: seats,
		StartsAt:   t0.Add(72 * time.Hour),
	})
	require.NoError(t, err)
	f.eventID = ev.ID
	f.workflow = NewBookingWorkflow(WorkflowDeps{
		Ledger:    f.ledger,
		Events:    f.ledger,
		Bookings:  f.bookings,
		Checkouts: f.checkouts,
		Gateway:   f.gateway,
		Notifier:  f.notifier,
	}, WithClock(f.clock), WithHoldTTL(ttl))
	return f
}

func (f *fixture) counts(t *testing.T) model.SeatCounts {
	t.Helper()
	c, err := f.ledger.Availability(context.Background(), f.eventID)
	require.NoError(t, err)
	return c
}

func principal(id string) model.Principal {
	return model.Principal{ID: id, Role: model.RoleUser, Email: id + "@example.com"}
}

func TestBookingWorkflow_RequestHold(t *testing.T) {
	ctx := context.Background()

	t.Run("opens an order for the frozen amount", func(t *testing.T) {
		f := newFixture(t, 10, 5*time.Minute)
		res, err := f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 3)
		require.NoError(t, err)

		assert.Equal(t, int64(75000), res.Order.AmountMinor)
		assert.Equal(t, "INR", res.Order.Currency)
		assert.Equal(t, payment.Receipt("u-1", f.eventID, res.Hold.ID), res.Order.Receipt)
		assert.Equal(t, "rzp_test_key", res.KeyID)
		assert.Equal(t, t0.Add(5*time.Minute), res.Hold.ExpiresAt)

		co, err := f.workflow.Checkout(ctx, res.Hold.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CheckoutAwaitingPayment, co.State)
		assert.Equal(t, res.Order.ID, co.OrderID)
		assert.Equal(t, 3, f.counts(t).Held)
	})

	t.Run("refusal is reported verbatim", func(t *testing.T) {
		f := newFixture(t, 2, time.Minute)
		_, err := f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 3)
		require.ErrorIs(t, err, model.ErrInsufficientSeats)
		assert.Contains(t, err.Error(), "only 2 seats available")

		_, err = f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 0)
		assert.ErrorIs(t, err, model.ErrInvalidQuantity)
	})

	t.Run("order failure releases the hold", func(t *testing.T) {
		f := newFixture(t, 10, time.Minute)
		f.gateway.createErr = errors.New("connection refused")

		_, err := f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 4)
		require.ErrorIs(t, err, model.ErrGatewayUnavailable)
		assert.Equal(t, 10, f.counts(t).Available)
		assert.Equal(t, 0, f.counts(t).Held)
	})
}

// The expiry scanner runs while the payment order is still being created.
func TestBookingWorkflow_HoldExpiresDuringOrderCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	f.gateway.entered = make(chan struct{})
	f.gateway.release = make(chan struct{})

	type outcome struct {
		res HoldResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 3)
		done <- outcome{res, err}
	}()
	<-f.gateway.entered

	f.clock.Advance(2 * time.Minute)
	expired, err := f.workflow.ExpiredHolds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	holdID := expired[0].ID
	_, err = f.workflow.ExpireHold(ctx, holdID)
	require.NoError(t, err)

	close(f.gateway.release)
	out := <-done
	require.ErrorIs(t, out.err, model.ErrHoldExpired)
	assert.Empty(t, out.res.Order.ID)

	co, err := f.workflow.Checkout(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutExpired, co.State)
	assert.Equal(t, string(model.ReleaseExpired), co.Reason)

	hold, err := f.ledger.Hold(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, hold.Status)
	assert.Equal(t, 10, f.counts(t).Available)
}

// The deadline passes during order creation but no scan has run yet.
func TestBookingWorkflow_DeadlinePassesDuringOrderCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	f.gateway.entered = make(chan struct{})
	f.gateway.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 2)
		done <- err
	}()
	<-f.gateway.entered
	f.clock.Advance(time.Minute)
	close(f.gateway.release)
	require.ErrorIs(t, <-done, model.ErrHoldExpired)

	counts := f.counts(t)
	assert.Equal(t, 0, counts.Held)
	assert.Equal(t, 10, counts.Available)

	expired, err := f.workflow.ExpiredHolds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

// Three concurrent requests of four seats on a ten seat event: two fit.
func TestBookingWorkflow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10*time.Minute)

	type outcome struct {
		res HoldResult
		err error
		who model.Principal
	}
	results := make([]outcome, 3)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := principal(fmt.Sprintf("u-%d", i))
			res, err := f.workflow.RequestHold(ctx, p, f.eventID, 4)
			results[i] = outcome{res: res, err: err, who: p}
		}(i)
	}
	wg.Wait()

	var ok []outcome
	refused := 0
	for _, r := range results {
		if r.err == nil {
			ok = append(ok, r)
			continue
		}
		require.ErrorIs(t, r.err, model.ErrInsufficientSeats)
		refused++
	}
	require.Len(t, ok, 2)
	assert.Equal(t, 1, refused)

	for i, r := range ok {
		payID := fmt.Sprintf("pay_%d", i)
		sig := payment.Sign(testSecret, r.res.Order.ID, payID)
		b, err := f.workflow.ConfirmPayment(ctx, r.who, r.res.Hold.ID, payID, sig)
		require.NoError(t, err)
		assert.Equal(t, 4, b.Quantity)
		assert.Equal(t, int64(100000), b.TotalPriceMinor)
	}

	counts := f.counts(t)
	assert.Equal(t, 8, counts.Committed)
	assert.Equal(t, 2, counts.Available)
	assert.Equal(t, 2, f.notifier.count())
}

// A price change between hold and confirmation does not reach the hold.
func TestBookingWorkflow_PriceFrozenAtHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10*time.Minute)
	catalog := NewCatalog(f.ledger, f.ledger, f.bookings, f.clock, nil, "")
	p := principal("u-1")

	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Order.AmountMinor)

	newPrice := int64(40000)
	ev, err := catalog.UpdateEvent(ctx, f.eventID, EventUpdate{PriceMinor: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, newPrice, ev.PriceMinor)

	b, err := f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), b.TotalPriceMinor)

	next, err := f.workflow.RequestHold(ctx, principal("u-2"), f.eventID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), next.Order.AmountMinor)
}

func TestBookingWorkflow_ConfirmIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10*time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 2)
	require.NoError(t, err)
	sig := payment.Sign(testSecret, res.Order.ID, "pay_1")

	first, err := f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", sig)
	require.NoError(t, err)
	second, err := f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", sig)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, BookingID(res.Hold.ID), first.ID)
	assert.Equal(t, 2, f.counts(t).Committed)
	assert.Equal(t, 1, f.notifier.count())

	mine, err := f.bookings.ListByPrincipal(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_2", payment.Sign(testSecret, res.Order.ID, "pay_2"))
	assert.ErrorIs(t, err, model.ErrHoldAlreadyTerminal)
}

func TestBookingWorkflow_ConcurrentConfirmCreatesOneBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10*time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 3)
	require.NoError(t, err)
	sig := payment.Sign(testSecret, res.Order.ID, "pay_1")

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", sig)
			if assert.NoError(t, err) {
				ids[i] = b.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, BookingID(res.Hold.ID), id)
	}
	assert.Equal(t, 3, f.counts(t).Committed)
	assert.Equal(t, 1, f.notifier.count())
}

func TestBookingWorkflow_VerificationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10*time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 4)
	require.NoError(t, err)

	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", "deadbeef")
	require.ErrorIs(t, err, model.ErrPaymentVerificationFailed)
	assert.Equal(t, 10, f.counts(t).Available)

	co, err := f.workflow.Checkout(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutExpired, co.State)
	assert.Equal(t, string(model.ReleasePaymentFailed), co.Reason)

	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	assert.ErrorIs(t, err, model.ErrHoldAlreadyTerminal)
	assert.Zero(t, f.notifier.count())
}

func TestBookingWorkflow_GatewayErrorKeepsHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10*time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 4)
	require.NoError(t, err)
	sig := payment.Sign(testSecret, res.Order.ID, "pay_1")

	f.gateway.verifyErr = errors.New("timeout")
	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", sig)
	require.ErrorIs(t, err, model.ErrGatewayUnavailable)
	assert.Equal(t, 4, f.counts(t).Held)

	f.gateway.verifyErr = nil
	b, err := f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", sig)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", b.PaymentRef)
}

func TestBookingWorkflow_GatewayErrorAfterDeadlineExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 4)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.gateway.verifyErr = errors.New("timeout")
	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	require.ErrorIs(t, err, model.ErrHoldExpired)

	hold, err := f.ledger.Hold(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, hold.Status)
}

func TestBookingWorkflow_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 4)
	require.NoError(t, err)

	_, err = f.workflow.RequestHold(ctx, principal("u-2"), f.eventID, 1)
	require.ErrorIs(t, err, model.ErrInsufficientSeats)

	f.clock.Advance(time.Minute + time.Second)
	expired, err := f.workflow.ExpiredHolds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	hold, err := f.workflow.ExpireHold(ctx, expired[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReleaseExpired, hold.ReleaseReason)

	co, err := f.workflow.Checkout(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutExpired, co.State)

	_, err = f.workflow.RequestHold(ctx, principal("u-2"), f.eventID, 4)
	require.NoError(t, err)

	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	assert.ErrorIs(t, err, model.ErrHoldExpired)
}

func TestBookingWorkflow_ConfirmAfterDeadlineBeforeScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 4)
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	require.ErrorIs(t, err, model.ErrHoldExpired)

	hold, err := f.ledger.Hold(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HoldReleased, hold.Status)
	assert.Equal(t, 0, f.counts(t).Held)

	expired, err := f.workflow.ExpiredHolds(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestBookingWorkflow_ExpireCommittedHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 1)
	require.NoError(t, err)
	_, err = f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	require.NoError(t, err)

	_, err = f.workflow.ExpireHold(ctx, res.Hold.ID)
	assert.ErrorIs(t, err, model.ErrHoldAlreadyTerminal)

	co, err := f.workflow.Checkout(ctx, res.Hold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckoutConfirmed, co.State)
}

func TestBookingWorkflow_ConfirmChecksOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	res, err := f.workflow.RequestHold(ctx, principal("u-1"), f.eventID, 1)
	require.NoError(t, err)

	_, err = f.workflow.ConfirmPayment(ctx, principal("u-2"), res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.workflow.ConfirmPayment(ctx, principal("u-1"), "missing", "pay_1", "00")
	assert.ErrorIs(t, err, model.ErrHoldNotFound)
}

func TestBookingWorkflow_NotifierFailureDoesNotFailBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, time.Minute)
	f.notifier.err = errors.New("broker down")
	p := principal("u-1")
	res, err := f.workflow.RequestHold(ctx, p, f.eventID, 1)
	require.NoError(t, err)

	b, err := f.workflow.ConfirmPayment(ctx, p, res.Hold.ID, "pay_1", payment.Sign(testSecret, res.Order.ID, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, "u-1@example.com", b.Recipient)
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "250.00", FormatMinor(25000))
	assert.Equal(t, "0.05", FormatMinor(5))
	assert.Equal(t, "-1.50", FormatMinor(-150))
}
