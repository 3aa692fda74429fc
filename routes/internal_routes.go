package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/controllers"
	"github.com/HSouheill/mlm_ledger/websocket"
)

// RegisterInternalRoutes registers event intake and back-office operations. Every route
// requires the service key.
func RegisterInternalRoutes(e *echo.Echo, ec *controllers.EventController, oc *controllers.OperationsController, hub *websocket.Hub, serviceKey echo.MiddlewareFunc) {
	internal := e.Group("/internal", serviceKey)

	// Inbound events
	internal.POST("/events/deposit-confirmed", ec.DepositConfirmed)
	internal.POST("/events/period-elapsed", ec.PeriodElapsed)

	// Genealogy
	internal.POST("/users", oc.Onboard)
	internal.POST("/users/:userId/archive", oc.ArchiveUser)

	// Deposits
	internal.POST("/deposits", oc.RegisterDeposit)
	internal.POST("/deposits/:depositId/confirm", oc.ConfirmDeposit)
	internal.POST("/deposits/:depositId/fail", oc.FailDeposit)
	internal.POST("/deposits/:depositId/dormant", oc.MarkDepositDormant)
	internal.POST("/deposits/:depositId/reactivate", oc.ReactivateDeposit)
	internal.POST("/deposits/:depositId/accrue", oc.AccrueDeposit)

	// Commissions
	internal.GET("/commission-batches/:batchId", oc.GetBatch)
	internal.POST("/commission-batches/:batchId/process", oc.ProcessBatch)
	internal.POST("/commission-batches/:batchId/pay", oc.PayBatch)
	internal.POST("/commissions/:recordId/revert", oc.RevertCommission)
	internal.POST("/commissions/:recordId/cancel", oc.CancelCommission)

	// Accruals
	internal.POST("/accruals/retry", oc.RetryAccruals)
	internal.POST("/accruals/:recordId/cancel", oc.CancelAccrual)

	// All-users dashboard feed
	if hub != nil {
		internal.GET("/ws/ledger", func(c echo.Context) error {
			return websocket.HandleWebSocket(c, hub, "")
		})
	}
}
