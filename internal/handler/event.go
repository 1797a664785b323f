package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/service"
)

// EventHandler serves the public event endpoints and the admin side of
// the catalog.
type EventHandler struct {
	catalog *service.Catalog
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(catalog *service.Catalog) *EventHandler {
	if catalog == nil {
		panic("nil catalog passed to NewEventHandler")
	}
	return &EventHandler{catalog: catalog}
}

type eventView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Location   string            `json:"location"`
	Price      int64             `json:"price"`
	Currency   string            `json:"currency"`
	TotalSeats int               `json:"total_seats"`
	StartsAt   time.Time         `json:"starts_at"`
	Status     model.EventStatus `json:"status"`
}

func toEventView(ev model.Event) eventView {
	return eventView{
		ID:         ev.ID,
		Name:       ev.Name,
		Location:   ev.Location,
		Price:      ev.PriceMinor,
		Currency:   ev.Currency,
		TotalSeats: ev.TotalSeats,
		StartsAt:   ev.StartsAt,
		Status:     ev.Status,
	}
}

// List handles GET /v1/events.
func (h *EventHandler) List(c echo.Context) error {
	events, err := h.catalog.ListEvents(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	views := lo.Map(events, func(ev model.Event, _ int) eventView { return toEventView(ev) })
	return c.JSON(http.StatusOK, echo.Map{"events": views})
}

// Get handles GET /v1/events/:id.
func (h *EventHandler) Get(c echo.Context) error {
	ev, err := h.catalog.Event(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toEventView(ev))
}

// Availability handles GET /v1/events/:id/availability.  Lapsed holds the
// scanner has not released yet are already counted as available.
func (h *EventHandler) Availability(c echo.Context) error {
	counts, err := h.catalog.Availability(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

type createEventRequest struct {
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Price      int64     `json:"price"` // minor units
	Currency   string    `json:"currency"`
	TotalSeats int       `json:"total_seats"`
	StartsAt   time.Time `json:"starts_at"`
}

// Create handles POST /v1/admin/events.
func (h *EventHandler) Create(c echo.Context) error {
	var body createEventRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	ev, err := h.catalog.CreateEvent(c.Request().Context(), service.NewEvent{
		Name:       body.Name,
		Location:   body.Location,
		PriceMinor: body.Price,
		Currency:   body.Currency,
		TotalSeats: body.TotalSeats,
		StartsAt:   body.StartsAt,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toEventView(ev))
}

type updateEventRequest struct {
	Name       *string    `json:"name"`
	Location   *string    `json:"location"`
	Price      *int64     `json:"price"`
	TotalSeats *int       `json:"total_seats"`
	StartsAt   *time.Time `json:"starts_at"`
}

// Update handles PUT /v1/admin/events/:id.  Omitted fields keep their
// value; existing holds keep the price they were granted at.
func (h *EventHandler) Update(c echo.Context) error {
	var body updateEventRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	ev, err := h.catalog.UpdateEvent(c.Request().Context(), c.Param("id"), service.EventUpdate{
		Name:       body.Name,
		Location:   body.Location,
		PriceMinor: body.Price,
		StartsAt:   body.StartsAt,
		TotalSeats: body.TotalSeats,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toEventView(ev))
}

type expandRequest struct {
	TotalSeats int `json:"total_seats"`
}

// ExpandSeats handles PUT /v1/admin/events/:id/seats.  The new total may
// shrink the pool as long as it still covers committed and held seats.
func (h *EventHandler) ExpandSeats(c echo.Context) error {
	var body expandRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	counts, err := h.catalog.ExpandSeats(c.Request().Context(), c.Param("id"), body.TotalSeats)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

type adminBookingView struct {
	bookingView
	PrincipalID  string `json:"principal_id"`
	OrderID      string `json:"order_id"`
	ReminderSent bool   `json:"reminder_sent"`
}

// ListBookings handles GET /v1/admin/bookings?limit=&offset=.
func (h *EventHandler) ListBookings(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return badRequest(c, "limit must be an integer")
	}
	offset, err := queryInt(c, "offset")
	if err != nil || offset < 0 {
		return badRequest(c, "offset must be a non-negative integer")
	}
	bs, err := h.catalog.AllBookings(c.Request().Context(), limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	views := lo.Map(bs, func(b model.Booking, i int) adminBookingView {
		return adminBookingView{
			bookingView:  toBookingView(b, i),
			PrincipalID:  b.PrincipalID,
			OrderID:      b.OrderID,
			ReminderSent: b.ReminderSent,
		}
	})
	return c.JSON(http.StatusOK, echo.Map{"bookings": views})
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(c echo.Context, name string) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
