package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func serve(e *echo.Echo, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServiceKey(t *testing.T) {
	e := echo.New()
	e.GET("/internal/ping", okHandler, ServiceKey("s3cret"))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "guess", http.StatusUnauthorized},
		{"valid", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.key != "" {
				headers[ServiceKeyHeader] = tt.key
			}
			rec := serve(e, http.MethodGet, "/internal/ping", headers)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServiceKeyDisabled(t *testing.T) {
	e := echo.New()
	e.GET("/internal/ping", okHandler, ServiceKey(""))
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/internal/ping", nil).Code)
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }
	rl.SetLimit("/api/", time.Hour, 2)

	e := echo.New()
	e.Use(rl.RateLimit())
	e.GET("/api/ledger/:userId", okHandler)
	e.GET("/health", okHandler)

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/ledger/u1", nil).Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/ledger/u1", nil).Code)
	rec := serve(e, http.MethodGet, "/api/ledger/u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/health", nil).Code, "health is never limited")

	// the block outlives the limiter and is lifted after blockDuration
	assert.Equal(t, http.StatusTooManyRequests, serve(e, http.MethodGet, "/api/ledger/u1", nil).Code)
	now = now.Add(rl.blockDuration + time.Second)
	rl.sweep()
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/ledger/u1", nil).Code)
}

func TestRateLimiterPrefixSelection(t *testing.T) {
	rl := NewRateLimiter()
	rl.SetLimit("/api/ledger/", time.Second, 3)
	assert.Equal(t, 3, rl.specFor("/api/ledger/u1").burst)
	assert.Equal(t, 50, rl.specFor("/api/genealogy/u1").burst)
	assert.Equal(t, rl.defaultLimit, rl.specFor("/ws/ledger/u1"))
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/api/x", okHandler)

	rec := serve(e, http.MethodGet, "/api/x", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestDashboardCORS(t *testing.T) {
	e := echo.New()
	e.Use(DashboardCORS("https://dash.example.com, "))
	e.GET("/api/x", okHandler)

	rec := serve(e, http.MethodOptions, "/api/x", map[string]string{
		echo.HeaderOrigin:                     "https://dash.example.com",
		echo.HeaderAccessControlRequestMethod: http.MethodGet,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = serve(e, http.MethodGet, "/api/x", map[string]string{echo.HeaderOrigin: "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
