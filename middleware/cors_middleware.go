package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// DashboardCORS allows the dashboard origins to call the read API. allowed is the
// comma-separated CORS_ALLOWED_ORIGINS value; empty allows localhost dev servers only.
func DashboardCORS(allowed string) echo.MiddlewareFunc {
	origins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
	}
	for _, origin := range strings.Split(allowed, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	return echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, ServiceKeyHeader},
		ExposeHeaders: []string{echo.HeaderContentLength, echo.HeaderContentType},
		MaxAge:        86400,
	})
}
