package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// BookingFlow is the part of service.BookingWorkflow the handlers drive.
type BookingFlow interface {
	RequestHold(ctx context.Context, p model.Principal, eventID string, quantity int) (service.HoldResult, error)
	ConfirmPayment(ctx context.Context, p model.Principal, holdID, paymentID, signature string) (model.Booking, error)
	Checkout(ctx context.Context, holdID string) (model.Checkout, error)
}

// BookingHandler serves the customer side: holding seats, confirming the
// payment and listing the caller's bookings.
type BookingHandler struct {
	flow    BookingFlow
	catalog *service.Catalog
}

// NewBookingHandler constructs a BookingHandler.  Both dependencies must
// be non-nil.
func NewBookingHandler(flow BookingFlow, catalog *service.Catalog) *BookingHandler {
	if flow == nil || catalog == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{flow: flow, catalog: catalog}
}

type holdRequest struct {
	Quantity int `json:"quantity"`
}

type holdResponse struct {
	HoldID    string             `json:"hold_id"`
	EventID   string             `json:"event_id"`
	Quantity  int                `json:"quantity"`
	ExpiresAt time.Time          `json:"expires_at"`
	Order     model.PaymentOrder `json:"order"`
	KeyID     string             `json:"key_id"`
}

// Hold handles POST /v1/events/:id/holds.  The body is {"quantity": n}.
// On success the seats are held until expires_at and the response carries
// the payment order the client hands to the checkout page.
func (h *BookingHandler) Hold(c echo.Context) error {
	p, err := getPrincipal(c)
	if err != nil {
		return err
	}
	var body holdRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.flow.RequestHold(c.Request().Context(), p, c.Param("id"), body.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, holdResponse{
		HoldID:    res.Hold.ID,
		EventID:   res.Hold.EventID,
		Quantity:  res.Hold.Quantity,
		ExpiresAt: res.Hold.ExpiresAt,
		Order:     res.Order,
		KeyID:     res.KeyID,
	})
}

type confirmRequest struct {
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Confirm handles POST /v1/holds/:id/confirm with the payment ID and
// signature returned by the checkout page.  Repeating a successful
// confirmation returns the same booking.
func (h *BookingHandler) Confirm(c echo.Context) error {
	p, err := getPrincipal(c)
	if err != nil {
		return err
	}
	var body confirmRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	body.PaymentID = strings.TrimSpace(body.PaymentID)
	if body.PaymentID == "" || strings.TrimSpace(body.Signature) == "" {
		return badRequest(c, "razorpay_payment_id and razorpay_signature are required")
	}
	b, err := h.flow.ConfirmPayment(c.Request().Context(), p, c.Param("id"), body.PaymentID, body.Signature)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type checkoutResponse struct {
	HoldID    string              `json:"hold_id"`
	EventID   string              `json:"event_id"`
	State     model.CheckoutState `json:"state"`
	Quantity  int                 `json:"quantity"`
	Amount    int64               `json:"amount"`
	Currency  string              `json:"currency"`
	OrderID   string              `json:"order_id,omitempty"`
	BookingID string              `json:"booking_id,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Status handles GET /v1/holds/:id and reports where the checkout of
// the caller's hold stands.
func (h *BookingHandler) Status(c echo.Context) error {
	p, err := getPrincipal(c)
	if err != nil {
		return err
	}
	co, err := h.flow.Checkout(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if co.PrincipalID != p.ID && p.Role != model.RoleAdmin {
		return writeError(c, model.ErrHoldNotFound)
	}
	return c.JSON(http.StatusOK, checkoutResponse{
		HoldID:    co.HoldID,
		EventID:   co.EventID,
		State:     co.State,
		Quantity:  co.Quantity,
		Amount:    co.AmountMinor,
		Currency:  co.Currency,
		OrderID:   co.OrderID,
		BookingID: co.BookingID,
		Reason:    co.Reason,
		ExpiresAt: co.ExpiresAt,
	})
}

type bookingView struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	HoldID     string    `json:"hold_id"`
	Quantity   int       `json:"quantity"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	PaymentRef string    `json:"payment_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func toBookingView(b model.Booking, _ int) bookingView {
	return bookingView{
		ID:         b.ID,
		EventID:    b.EventID,
		HoldID:     b.HoldID,
		Quantity:   b.Quantity,
		Amount:     b.TotalPriceMinor,
		Currency:   b.Currency,
		PaymentRef: b.PaymentRef,
		CreatedAt:  b.CreatedAt,
	}
}

// MyBookings handles GET /v1/my-bookings, newest first.
func (h *BookingHandler) MyBookings(c echo.Context) error {
	p, err := getPrincipal(c)
	if err != nil {
		return err
	}
	bs, err := h.catalog.BookingsOf(c.Request().Context(), p.ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": lo.Map(bs, toBookingView)})
}
