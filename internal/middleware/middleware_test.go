package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/event-seat-booking/internal/config"
	"github.com/iliyamo/event-seat-booking/internal/model"
	"github.com/iliyamo/event-seat-booking/internal/utils"
)

const secret = "mw-secret"

func bearer(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, sub+"@example.com", time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func newServer(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/who", func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok {
			return c.String(http.StatusOK, "nobody")
		}
		return c.String(http.StatusOK, p.ID+"/"+p.Role+"/"+p.Email)
	}, mw...)
	return e
}

func do(e *echo.Echo, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := newServer(JWTAuth(secret))

	rec := do(e, bearer(t, "u1", model.RoleUser))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1/USER/u1@example.com", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(e, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "Bearer nope").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "Basic dTpw").Code)
}

func TestRequireRole(t *testing.T) {
	e := newServer(JWTAuth(secret), RequireRole(model.RoleAdmin))

	assert.Equal(t, http.StatusForbidden, do(e, bearer(t, "u1", model.RoleUser)).Code)
	assert.Equal(t, http.StatusOK, do(e, bearer(t, "a1", model.RoleAdmin)).Code)
}

func TestCorrelationID(t *testing.T) {
	e := newServer(CorrelationID())

	rec := do(e, "")
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(CorrelationHeader, "abc123")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get(CorrelationHeader))
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	e.Use(CorrelationID(), RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing", func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "gone") })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, int64(http.StatusNotFound), entries[1].ContextMap()["status"])
	assert.NotEmpty(t, entries[0].ContextMap()["correlation_id"])
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	e := newServer(NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(e, "").Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/events/e1/holds", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/events/:id/holds")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}
	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(cfg, c))

	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:anon", buildRateKey(cfg, c))

	c.Set(userIDKey, "u7")
	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:10.0.0.1:user:u7:route:POST /v1/events/:id/holds", buildRateKey(cfg, c))
}
