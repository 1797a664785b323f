package middleware // reusable HTTP middleware for the echo server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/utils"
)

// Context keys set by JWTAuth.
const (
	principalKey = "principal"
	userIDKey    = "user_id"
	roleKey      = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the caller as a model.Principal in the request context.  The
// subject and role are also set under "user_id" and "role" so the rate
// limiter and RequireRole can read them without importing model.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			p, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(principalKey, p)
			c.Set(userIDKey, p.ID)
			c.Set(roleKey, p.Role)
			return next(c)
		}
	}
}

// PrincipalFrom returns the principal stored by JWTAuth.
func PrincipalFrom(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(principalKey).(model.Principal)
	return p, ok
}
