package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/metrics"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/payment"
)

// DefaultHoldTTL is how long a hold waits for payment unless configured
// otherwise.
const DefaultHoldTTL = 10 * time.Minute

// bookingNamespace seeds the name-based booking IDs so the same hold
// always maps to the same booking.
var bookingNamespace = uuid.MustParse("6f0c1a8e-3d5b-4b7e-9a41-2c8f0e7d5b13")

// BookingID returns the booking identifier derived from a hold.
func BookingID(holdID string) string {
	return uuid.NewSHA1(bookingNamespace, []byte(holdID)).String()
}

// HoldResult is what a caller needs to take the principal to checkout.
type HoldResult struct {
	Hold  model.SeatHold
	Order model.PaymentOrder
	KeyID string
}

// WorkflowDeps groups the collaborators of a BookingWorkflow.
type WorkflowDeps struct {
	Ledger    SeatLedger
	Events    EventStore
	Bookings  BookingStore
	Checkouts CheckoutStore
	Gateway   PaymentGateway
	Notifier  Notifier
}

// WorkflowOption customises a BookingWorkflow.
type WorkflowOption func(*BookingWorkflow)

// WithHoldTTL sets how long holds wait for payment.
func WithHoldTTL(ttl time.Duration) WorkflowOption {
	return func(w *BookingWorkflow) {
		if ttl > 0 {
			w.holdTTL = ttl
		}
	}
}

// WithClock replaces the system clock.
func WithClock(c clock.Clock) WorkflowOption {
	return func(w *BookingWorkflow) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithLogger sets the workflow logger.
func WithLogger(l *zap.Logger) WorkflowOption {
	return func(w *BookingWorkflow) {
		if l != nil {
			w.log = l
		}
	}
}

// BookingWorkflow drives a booking attempt through hold, payment order,
// verification and commit or release.  Gateway calls are never made while
// the ledger holds an event's lock; the ledger calls return before the
// gateway is contacted.
type BookingWorkflow struct {
	ledger    SeatLedger
	events    EventStore
	bookings  BookingStore
	checkouts CheckoutStore
	gateway   PaymentGateway
	notifier  Notifier

	clock   clock.Clock
	log     *zap.Logger
	tracer  trace.Tracer
	holdTTL time.Duration
}

// NewBookingWorkflow wires a workflow.  Notifier may be nil, in which case
// no confirmation notices are sent.
func NewBookingWorkflow(deps WorkflowDeps, opts ...WorkflowOption) *BookingWorkflow {
	w := &BookingWorkflow{
		ledger:    deps.Ledger,
		events:    deps.Events,
		bookings:  deps.Bookings,
		checkouts: deps.Checkouts,
		gateway:   deps.Gateway,
		notifier:  deps.Notifier,
		clock:     clock.NewSystem(),
		log:       zap.NewNop(),
		tracer:    otel.Tracer("github.com/iliyamo/event-seat-booking/internal/service"),
		holdTTL:   DefaultHoldTTL,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HoldTTL reports the configured hold lifetime.
func (w *BookingWorkflow) HoldTTL() time.Duration { return w.holdTTL }

// RequestHold reserves quantity seats of an event for the principal and
// opens a payment order for them.  A refused reservation is returned as
// is (ErrInvalidQuantity, *InsufficientSeatsError, ...).  When the order
// cannot be created the hold is released again and ErrGatewayUnavailable
// is returned.  A hold that ended while its order was being created is
// reported as ErrHoldExpired.
func (w *BookingWorkflow) RequestHold(ctx context.Context, p model.Principal, eventID string, quantity int) (res HoldResult, err error) {
	ctx, span := w.tracer.Start(ctx, "workflow.request_hold", trace.WithAttributes(
		attribute.String("event_id", eventID),
		attribute.String("principal_id", p.ID),
		attribute.Int("quantity", quantity),
	))
	defer func() { endSpan(span, err) }()

	hold, err := w.ledger.Reserve(ctx, model.HoldRequest{
		EventID:     eventID,
		PrincipalID: p.ID,
		Quantity:    quantity,
		TTL:         w.holdTTL,
	})
	if err != nil {
		metrics.HoldsRejected.WithLabelValues(rejectReason(err)).Inc()
		return HoldResult{}, fmt.Errorf("reserve seats: %w", err)
	}
	span.SetAttributes(attribute.String("hold_id", hold.ID))

	now := w.clock.Now()
	co := model.Checkout{
		HoldID:      hold.ID,
		EventID:     hold.EventID,
		PrincipalID: p.ID,
		Recipient:   p.Email,
		Quantity:    hold.Quantity,
		AmountMinor: hold.TotalPriceMinor(),
		Currency:    hold.Currency,
		Receipt:     payment.Receipt(p.ID, hold.EventID, hold.ID),
		State:       model.CheckoutHolding,
		ExpiresAt:   hold.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.checkouts.Save(ctx, co); err != nil {
		w.abandon(ctx, hold.ID, model.ReleaseCancelled)
		return HoldResult{}, fmt.Errorf("save checkout: %w", err)
	}

	order, err := w.gateway.CreateOrder(ctx, co.AmountMinor, co.Currency, co.Receipt)
	if err != nil {
		w.log.Warn("payment order creation failed, releasing hold",
			zap.String("hold_id", hold.ID), zap.Error(err))
		w.abandon(ctx, hold.ID, model.ReleaseCancelled)
		w.markExpired(ctx, co, "order creation failed")
		if !errors.Is(err, model.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
		}
		return HoldResult{}, err
	}

	co.OrderID = order.ID
	co.State = model.CheckoutAwaitingPayment
	co.UpdatedAt = w.clock.Now()
	if err := w.checkouts.Save(ctx, co); err != nil {
		if errors.Is(err, model.ErrHoldAlreadyTerminal) {
			w.log.Warn("hold ended while the payment order was created",
				zap.String("hold_id", hold.ID), zap.String("order_id", order.ID))
			return HoldResult{}, model.ErrHoldExpired
		}
		w.abandon(ctx, hold.ID, model.ReleaseCancelled)
		return HoldResult{}, fmt.Errorf("save checkout: %w", err)
	}

	// The expiry scanner may have released the hold while the order was
	// being created.
	if cur, err := w.ledger.Hold(ctx, hold.ID); err != nil {
		w.log.Warn("hold not reloaded after order creation", zap.String("hold_id", hold.ID), zap.Error(err))
	} else if cur.Terminal() || cur.Expired(w.clock.Now()) {
		w.log.Warn("hold ended while the payment order was created",
			zap.String("hold_id", hold.ID), zap.String("order_id", order.ID))
		if !cur.Terminal() {
			w.expire(ctx, co)
		}
		return HoldResult{}, model.ErrHoldExpired
	}

	metrics.HoldsGranted.Inc()
	w.log.Info("seats held",
		zap.String("hold_id", hold.ID),
		zap.String("event_id", hold.EventID),
		zap.Int("quantity", hold.Quantity),
		zap.String("order_id", order.ID),
		zap.Time("expires_at", hold.ExpiresAt))

	return HoldResult{Hold: hold, Order: order, KeyID: w.gateway.KeyID()}, nil
}

// ConfirmPayment verifies the gateway callback for a hold and, when the
// signature is valid and the hold is still committable, turns it into a
// booking.  Repeating a successful confirmation with the same payment ID
// returns the same booking.
func (w *BookingWorkflow) ConfirmPayment(ctx context.Context, p model.Principal, holdID, paymentID, signature string) (b model.Booking, err error) {
	ctx, span := w.tracer.Start(ctx, "workflow.confirm_payment", trace.WithAttributes(
		attribute.String("hold_id", holdID),
		attribute.String("principal_id", p.ID),
	))
	defer func() { endSpan(span, err) }()

	co, err := w.checkouts.Get(ctx, holdID)
	if err != nil {
		return model.Booking{}, fmt.Errorf("load checkout: %w", err)
	}
	if co.PrincipalID != p.ID {
		return model.Booking{}, model.ErrForbidden
	}

	switch co.State {
	case model.CheckoutConfirmed:
		existing, err := w.bookings.GetByHold(ctx, holdID)
		if err != nil {
			return model.Booking{}, fmt.Errorf("load booking: %w", err)
		}
		if existing.PaymentRef != paymentID {
			return model.Booking{}, model.ErrHoldAlreadyTerminal
		}
		return existing, nil
	case model.CheckoutExpired:
		if co.Reason == string(model.ReleaseExpired) {
			return model.Booking{}, model.ErrHoldExpired
		}
		return model.Booking{}, model.ErrHoldAlreadyTerminal
	}
	if co.OrderID == "" {
		return model.Booking{}, fmt.Errorf("%w: no payment order for hold", model.ErrPaymentVerificationFailed)
	}

	ok, err := w.gateway.Verify(ctx, co.OrderID, paymentID, signature)
	if err != nil {
		if !w.clock.Now().Before(co.ExpiresAt) {
			w.expire(ctx, co)
			return model.Booking{}, model.ErrHoldExpired
		}
		if !errors.Is(err, model.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrGatewayUnavailable, err)
		}
		return model.Booking{}, err
	}
	if !ok {
		if w.abandon(ctx, holdID, model.ReleasePaymentFailed) {
			w.markExpired(ctx, co, string(model.ReleasePaymentFailed))
		}
		return model.Booking{}, model.ErrPaymentVerificationFailed
	}

	hold, err := w.ledger.Commit(ctx, holdID, paymentID)
	if err != nil {
		if errors.Is(err, model.ErrHoldExpired) {
			w.expire(ctx, co)
		}
		return model.Booking{}, fmt.Errorf("commit hold: %w", err)
	}

	booking, created, err := w.bookings.Create(ctx, model.Booking{
		ID:              BookingID(hold.ID),
		EventID:         hold.EventID,
		HoldID:          hold.ID,
		PrincipalID:     hold.PrincipalID,
		Recipient:       co.Recipient,
		Quantity:        hold.Quantity,
		TotalPriceMinor: hold.TotalPriceMinor(),
		Currency:        hold.Currency,
		OrderID:         co.OrderID,
		PaymentRef:      paymentID,
		CreatedAt:       w.clock.Now(),
	})
	if err != nil {
		// The hold stays committed; a retried confirmation finds it and
		// creates the booking then.
		return model.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	co.State = model.CheckoutConfirmed
	co.BookingID = booking.ID
	co.Reason = ""
	co.UpdatedAt = w.clock.Now()
	if err := w.checkouts.Save(ctx, co); err != nil {
		w.log.Warn("checkout state not saved", zap.String("hold_id", holdID), zap.Error(err))
	}

	if created {
		metrics.BookingsConfirmed.Inc()
		w.log.Info("booking confirmed",
			zap.String("booking_id", booking.ID),
			zap.String("hold_id", holdID),
			zap.String("payment_id", paymentID))
		w.sendConfirmation(ctx, booking)
	}
	return booking, nil
}

// ExpireHold releases a hold whose deadline passed and closes its
// checkout.  ErrHoldAlreadyTerminal is returned when the hold committed
// first.
func (w *BookingWorkflow) ExpireHold(ctx context.Context, holdID string) (hold model.SeatHold, err error) {
	ctx, span := w.tracer.Start(ctx, "workflow.expire_hold", trace.WithAttributes(
		attribute.String("hold_id", holdID),
	))
	defer func() { endSpan(span, err) }()

	hold, err = w.ledger.Release(ctx, holdID, model.ReleaseExpired)
	if err != nil {
		return model.SeatHold{}, err
	}
	metrics.HoldsReleased.WithLabelValues(string(model.ReleaseExpired)).Inc()

	co, err := w.checkouts.Get(ctx, holdID)
	switch {
	case errors.Is(err, model.ErrHoldNotFound):
		return hold, nil
	case err != nil:
		w.log.Warn("checkout not loaded after expiry", zap.String("hold_id", holdID), zap.Error(err))
		return hold, nil
	}
	if !co.State.Terminal() {
		w.markExpired(ctx, co, string(model.ReleaseExpired))
	}
	return hold, nil
}

// ExpiredHolds lists ACTIVE holds whose deadline has passed.
func (w *BookingWorkflow) ExpiredHolds(ctx context.Context, limit int) ([]model.SeatHold, error) {
	return w.ledger.ExpiredHolds(ctx, w.clock.Now(), limit)
}

// Checkout returns the workflow record of a hold.
func (w *BookingWorkflow) Checkout(ctx context.Context, holdID string) (model.Checkout, error) {
	return w.checkouts.Get(ctx, holdID)
}

// expire releases the hold as expired and closes the checkout.
func (w *BookingWorkflow) expire(ctx context.Context, co model.Checkout) {
	if w.abandon(ctx, co.HoldID, model.ReleaseExpired) {
		w.markExpired(ctx, co, string(model.ReleaseExpired))
	}
}

// abandon releases a hold and reports whether it is now RELEASED.  A hold
// that committed in the meantime is left alone.
func (w *BookingWorkflow) abandon(ctx context.Context, holdID string, reason model.ReleaseReason) bool {
	if _, err := w.ledger.Release(ctx, holdID, reason); err != nil {
		if !errors.Is(err, model.ErrHoldAlreadyTerminal) {
			w.log.Error("release hold failed",
				zap.String("hold_id", holdID), zap.String("reason", string(reason)), zap.Error(err))
		}
		return false
	}
	metrics.HoldsReleased.WithLabelValues(string(reason)).Inc()
	return true
}

func (w *BookingWorkflow) markExpired(ctx context.Context, co model.Checkout, reason string) {
	co.State = model.CheckoutExpired
	co.Reason = reason
	co.UpdatedAt = w.clock.Now()
	if err := w.checkouts.Save(ctx, co); err != nil {
		w.log.Warn("checkout state not saved", zap.String("hold_id", co.HoldID), zap.Error(err))
	}
}

// sendConfirmation is best effort; a failed notice never fails the booking.
func (w *BookingWorkflow) sendConfirmation(ctx context.Context, b model.Booking) {
	if w.notifier == nil || b.Recipient == "" {
		return
	}
	name := b.EventID
	if ev, err := w.events.Get(ctx, b.EventID); err == nil {
		name = ev.Name
	}
	subject := fmt.Sprintf("Booking confirmed: %s", name)
	body := fmt.Sprintf("Your booking for %s is confirmed.\nSeats: %d\nTotal: %s %s\nPayment ID: %s\nBooking ID: %s",
		name, b.Quantity, FormatMinor(b.TotalPriceMinor), b.Currency, b.PaymentRef, b.ID)
	if err := w.notifier.Send(ctx, b.Recipient, subject, body); err != nil {
		w.log.Warn("confirmation notice not sent", zap.String("booking_id", b.ID), zap.Error(err))
	}
}

// FormatMinor renders minor currency units with two decimals.
func FormatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, model.ErrInsufficientSeats):
		return "insufficient_seats"
	case errors.Is(err, model.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, model.ErrEventClosed):
		return "event_closed"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
