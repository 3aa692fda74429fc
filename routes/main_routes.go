package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HSouheill/mlm_ledger/controllers"
	"github.com/HSouheill/mlm_ledger/middleware"
	"github.com/HSouheill/mlm_ledger/websocket"
)

// Controllers groups everything the router serves.
type Controllers struct {
	Query       *controllers.QueryController
	Events      *controllers.EventController
	Operations  *controllers.OperationsController
	Withdrawals *controllers.WithdrawalController
	Hub         *websocket.Hub
	Health      func() error
}

// SetupRoutes configures all routes by calling the individual route registration functions.
func SetupRoutes(e *echo.Echo, ctrl Controllers, serviceKey string) {
	e.Match([]string{http.MethodGet, http.MethodHead}, "/health", func(c echo.Context) error {
		status, state := http.StatusOK, "healthy"
		if ctrl.Health != nil {
			if err := ctrl.Health(); err != nil {
				status, state = http.StatusServiceUnavailable, "unhealthy"
			}
		}
		return c.JSON(status, map[string]string{"status": state})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	serviceKeyAuth := middleware.ServiceKey(serviceKey)
	RegisterLedgerRoutes(e, ctrl.Query, ctrl.Hub)
	RegisterInternalRoutes(e, ctrl.Events, ctrl.Operations, ctrl.Hub, serviceKeyAuth)
	RegisterWithdrawalRoutes(e, ctrl.Withdrawals, serviceKeyAuth)
}
