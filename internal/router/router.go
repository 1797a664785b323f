package router // package router builds the echo server and registers the API routes

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/iliyamo/event-seat-booking/internal/config"
	"github.com/iliyamo/event-seat-booking/internal/handler"
	"github.com/iliyamo/event-seat-booking/internal/middleware"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

// ServiceName names the server in traces.
const ServiceName = "event-seat-booking"

// Deps carries what the routes need.
type Deps struct {
	Bookings  *handler.BookingHandler
	Events    *handler.EventHandler
	JWTSecret string
	RateLimit config.RateLimitConfig
	Redis     *redis.Client // optional; nil disables rate limiting
	Log       *zap.Logger
}

// New returns an echo server with the shared middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(
		echomw.Recover(),
		middleware.CorrelationID(),
		otelecho.Middleware(ServiceName),
		middleware.RequestLogger(d.Log.Named("http")),
	)

	RegisterRoutes(e)
	RegisterPublic(e, d.Events)
	RegisterCustomer(e, d.Bookings, d.JWTSecret, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	RegisterAdmin(e, d.Events, d.JWTSecret)
	return e
}

// RegisterRoutes registers the operational endpoints: health and metrics.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the unauthenticated event endpoints.
func RegisterPublic(e *echo.Echo, h *handler.EventHandler) {
	e.GET("/v1/events", h.List)
	e.GET("/v1/events/:id", h.Get)
	e.GET("/v1/events/:id/availability", h.Availability)
}

// RegisterCustomer registers the booking endpoints.  They require a valid
// access token of any role; the limiter runs after authentication so it
// can key on the user.
func RegisterCustomer(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
	)
	g.POST("/events/:id/holds", h.Hold, limiter)
	g.POST("/holds/:id/confirm", h.Confirm, limiter)
	g.GET("/holds/:id", h.Status)
	g.GET("/my-bookings", h.MyBookings)
}

// RegisterAdmin registers the catalog administration endpoints.
func RegisterAdmin(e *echo.Echo, h *handler.EventHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.POST("/events", h.Create)
	g.PUT("/events/:id", h.Update)
	g.PUT("/events/:id/seats", h.ExpandSeats)
	g.GET("/bookings", h.ListBookings)
}
