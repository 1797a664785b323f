package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

// errorStatus maps domain errors to the status and machine readable code
// returned to clients.  Unknown errors are 500.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, model.ErrInvalidEvent):
		return http.StatusBadRequest, "invalid_event"
	case errors.Is(err, model.ErrInsufficientSeats):
		return http.StatusConflict, "insufficient_seats"
	case errors.Is(err, model.ErrEventNotFound):
		return http.StatusNotFound, "event_not_found"
	case errors.Is(err, model.ErrHoldNotFound):
		return http.StatusNotFound, "hold_not_found"
	case errors.Is(err, model.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"
	case errors.Is(err, model.ErrEventClosed):
		return http.StatusConflict, "event_closed"
	case errors.Is(err, model.ErrHoldExpired):
		return http.StatusGone, "hold_expired"
	case errors.Is(err, model.ErrHoldAlreadyTerminal):
		return http.StatusConflict, "hold_already_terminal"
	case errors.Is(err, model.ErrBelowCommitted):
		return http.StatusConflict, "below_committed"
	case errors.Is(err, model.ErrPaymentVerificationFailed):
		return http.StatusPaymentRequired, "payment_verification_failed"
	case errors.Is(err, model.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, model.ErrPersistenceConflict):
		return http.StatusServiceUnavailable, "persistence_conflict"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError renders err as {"error": code, "message": ...}.  Internal
// errors are returned to echo so the request logger records them and the
// client gets a generic body.
func writeError(c echo.Context, err error) error {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		return err
	}
	msg := err.Error()
	var short *model.InsufficientSeatsError
	if errors.As(err, &short) {
		msg = short.Error()
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad_request", "message": msg})
}

// getPrincipal returns the caller set by middleware.JWTAuth.
func getPrincipal(c echo.Context) (model.Principal, error) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok || p.ID == "" {
		return model.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return p, nil
}
