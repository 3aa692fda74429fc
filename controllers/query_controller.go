package controllers

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/services"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 500
)

// LedgerView is the ledger dashboard payload.
type LedgerView struct {
	Summary      *models.LedgerSummary      `json:"summary"`
	Transactions []models.LedgerTransaction `json:"transactions"`
}

// QueryController serves the read-only dashboard endpoints.
type QueryController struct {
	query *services.QueryService
}

func NewQueryController(query *services.QueryService) *QueryController {
	return &QueryController{query: query}
}

// GetGenealogy returns a user's node, upline and direct referrals.
func (qc *QueryController) GetGenealogy(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := qc.query.GetGenealogy(ctx, c.Param("userId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Genealogy retrieved successfully", view)
}

// GetLedger returns the bucket balances and the latest transactions. ?limit= caps the list.
func (qc *QueryController) GetLedger(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	limit := int64(defaultTransactionLimit)
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxTransactionLimit {
			return badRequest(c, "limit must be between 1 and 500", nil)
		}
		limit = n
	}

	userID := c.Param("userId")
	summary, err := qc.query.GetLedgerSummary(ctx, userID)
	if err != nil {
		return fail(c, err)
	}
	txs, err := qc.query.GetLedgerTransactions(ctx, userID, limit)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Ledger retrieved successfully", LedgerView{Summary: summary, Transactions: txs})
}

// GetCommissions lists commissions received by a user, optionally filtered by ?status=.
func (qc *QueryController) GetCommissions(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	status := models.CommissionStatus(c.QueryParam("status"))
	records, err := qc.query.GetCommissionHistory(ctx, c.Param("userId"), status)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Commissions retrieved successfully", records)
}

func (qc *QueryController) GetAccruals(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	records, err := qc.query.GetAccrualHistory(ctx, c.Param("userId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Accruals retrieved successfully", records)
}

func (qc *QueryController) GetDeposits(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	deposits, err := qc.query.GetDeposits(ctx, c.Param("userId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Deposits retrieved successfully", deposits)
}

// GetTeamStatistics returns node counts and volume per genealogy level.
func (qc *QueryController) GetTeamStatistics(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	stats, err := qc.query.GetTeamStatistics(ctx)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Team statistics retrieved successfully", stats)
}
