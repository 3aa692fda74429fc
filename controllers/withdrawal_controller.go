package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/services"
)

type WithdrawalController struct {
	withdrawals *services.WithdrawalService
}

func NewWithdrawalController(withdrawals *services.WithdrawalService) *WithdrawalController {
	return &WithdrawalController{withdrawals: withdrawals}
}

// RequestWithdrawal records a payout request from a withdrawable bucket.
func (wc *WithdrawalController) RequestWithdrawal(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.WithdrawalRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "Invalid withdrawal request", err)
	}
	w, err := wc.withdrawals.Request(ctx, req.UserID, req.Bucket, req.Amount, req.Note)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Withdrawal requested",
		Data:    w,
	})
}

func (wc *WithdrawalController) ApproveWithdrawal(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.WithdrawalDecision
	if err := bind(c, &req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	w, err := wc.withdrawals.Approve(ctx, c.Param("withdrawalId"), req.Note)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Withdrawal approved", w)
}

func (wc *WithdrawalController) RejectWithdrawal(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.ReasonRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "A reason is required", err)
	}
	w, err := wc.withdrawals.Reject(ctx, c.Param("withdrawalId"), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Withdrawal rejected", w)
}

// GetWithdrawals lists a user's withdrawals, optionally filtered by ?status=.
func (wc *WithdrawalController) GetWithdrawals(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := wc.withdrawals.ListByUser(ctx, c.Param("userId"), models.WithdrawalStatus(c.QueryParam("status")))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Withdrawals retrieved successfully", list)
}
