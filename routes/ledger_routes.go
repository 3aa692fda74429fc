package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/controllers"
	"github.com/HSouheill/mlm_ledger/websocket"
)

// RegisterLedgerRoutes registers the read-only dashboard routes.
func RegisterLedgerRoutes(e *echo.Echo, qc *controllers.QueryController, hub *websocket.Hub) {
	api := e.Group("/api")

	api.GET("/genealogy/:userId", qc.GetGenealogy)
	api.GET("/ledger/:userId", qc.GetLedger)
	api.GET("/commissions/:userId", qc.GetCommissions)
	api.GET("/accruals/:userId", qc.GetAccruals)
	api.GET("/deposits/:userId", qc.GetDeposits)
	api.GET("/team-statistics", qc.GetTeamStatistics)

	// Per-user push of committed ledger events
	if hub != nil {
		e.GET("/ws/ledger/:userId", func(c echo.Context) error {
			return websocket.HandleWebSocket(c, hub, c.Param("userId"))
		})
	}
}
