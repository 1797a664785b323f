package middleware

// identity.go holds the request identity helpers shared by the rate limiter
// and the request logger: the authenticated user and the correlation ID.

import (
	"github.com/labstack/echo/v4"
	"github.com/lithammer/shortuuid/v3"
)

// CorrelationHeader carries the correlation ID in and out of the service.
const CorrelationHeader = "X-Correlation-ID"

const correlationKey = "correlation_id"

// CorrelationID reuses the caller's correlation ID or mints a short one,
// echoes it on the response and stores it in the context.
func CorrelationID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(CorrelationHeader)
			if id == "" || len(id) > 64 {
				id = shortuuid.New()
			}
			c.Set(correlationKey, id)
			c.Response().Header().Set(CorrelationHeader, id)
			return next(c)
		}
	}
}

// CorrelationIDFrom returns the ID set by CorrelationID, or "".
func CorrelationIDFrom(c echo.Context) string {
	s, _ := c.Get(correlationKey).(string)
	return s
}

// userID returns the authenticated subject, or "anon".
func userID(c echo.Context) string {
	if s, ok := c.Get(userIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
