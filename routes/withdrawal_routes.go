package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/controllers"
)

// RegisterWithdrawalRoutes registers the payout routes. Decisions require the service key.
func RegisterWithdrawalRoutes(e *echo.Echo, wc *controllers.WithdrawalController, serviceKey echo.MiddlewareFunc) {
	if wc == nil {
		return
	}
	e.GET("/api/withdrawals/:userId", wc.GetWithdrawals)

	internal := e.Group("/internal/withdrawals", serviceKey)
	internal.POST("", wc.RequestWithdrawal)
	internal.POST("/:withdrawalId/approve", wc.ApproveWithdrawal)
	internal.POST("/:withdrawalId/reject", wc.RejectWithdrawal)
}
