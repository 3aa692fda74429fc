package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/HSouheill/mlm_ledger/models"
)

// ServiceKeyHeader carries the shared key upstream services send to /internal routes.
const ServiceKeyHeader = "X-API-Key"

// ServiceKey guards internal routes with a shared key. An empty key disables the check,
// which config only allows in development.
func ServiceKey(key string) echo.MiddlewareFunc {
	if key == "" {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echoMiddleware.KeyAuthWithConfig(echoMiddleware.KeyAuthConfig{
		KeyLookup: "header:" + ServiceKeyHeader,
		Validator: func(got string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, models.Response{
				Status:  http.StatusUnauthorized,
				Message: "Invalid or missing service key",
			})
		},
	})
}
