package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/services"
)

// OperationsController exposes the back-office operations behind the service key.
type OperationsController struct {
	genealogy   *services.GenealogyService
	deposits    *services.DepositService
	commissions *services.CommissionService
	accruals    *services.AccrualService
}

func NewOperationsController(genealogy *services.GenealogyService, deposits *services.DepositService, commissions *services.CommissionService, accruals *services.AccrualService) *OperationsController {
	return &OperationsController{
		genealogy:   genealogy,
		deposits:    deposits,
		commissions: commissions,
		accruals:    accruals,
	}
}

// Onboard places a user in the genealogy and opens their ledger.
func (oc *OperationsController) Onboard(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.OnboardRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "Invalid onboarding request", err)
	}
	node, err := oc.genealogy.Onboard(ctx, req.UserID, req.ReferralCode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "User onboarded successfully",
		Data:    node,
	})
}

func (oc *OperationsController) ArchiveUser(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := oc.genealogy.Archive(ctx, c.Param("userId")); err != nil {
		return fail(c, err)
	}
	return ok(c, "User archived", nil)
}

func (oc *OperationsController) RegisterDeposit(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.RegisterDepositRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "Invalid deposit request", err)
	}
	d, err := oc.deposits.Register(ctx, req.UserID, req.Amount, req.TxHash, req.DepositID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, models.Response{
		Status:  http.StatusCreated,
		Message: "Deposit registered",
		Data:    d,
	})
}

// ConfirmDeposit activates a deposit, credits its principal and distributes commissions.
func (oc *OperationsController) ConfirmDeposit(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	d, result, err := oc.deposits.Confirm(ctx, c.Param("depositId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Deposit confirmed", map[string]interface{}{
		"deposit":      d,
		"distribution": result,
	})
}

func (oc *OperationsController) FailDeposit(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.ReasonRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "A reason is required", err)
	}
	d, err := oc.deposits.Fail(ctx, c.Param("depositId"), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Deposit marked as failed", d)
}

func (oc *OperationsController) MarkDepositDormant(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	d, err := oc.deposits.MarkDormant(ctx, c.Param("depositId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Deposit marked as dormant", d)
}

func (oc *OperationsController) ReactivateDeposit(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	d, err := oc.deposits.Reactivate(ctx, c.Param("depositId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Deposit reactivated", d)
}

func (oc *OperationsController) GetBatch(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	batch, err := oc.commissions.GetBatch(ctx, c.Param("batchId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Batch retrieved successfully", batch)
}

// ProcessBatch moves a distributed batch's PENDING commissions to PROCESSING.
func (oc *OperationsController) ProcessBatch(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := oc.commissions.Process(ctx, c.Param("batchId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Batch processing", map[string]int64{"updated": n})
}

// PayBatch moves a batch's PROCESSING commissions to PAID.
func (oc *OperationsController) PayBatch(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := oc.commissions.MarkPaid(ctx, c.Param("batchId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Batch paid", map[string]int64{"updated": n})
}

func (oc *OperationsController) RevertCommission(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	rec, err := oc.commissions.Revert(ctx, c.Param("recordId"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Commission reverted to pending", rec)
}

// CancelCommission cancels a commission and reverses its ledger credit.
func (oc *OperationsController) CancelCommission(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.ReasonRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "A reason is required", err)
	}
	rec, err := oc.commissions.Cancel(ctx, c.Param("recordId"), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Commission cancelled", rec)
}

// RetryAccruals re-runs the FAILED accruals of a period.
func (oc *OperationsController) RetryAccruals(c echo.Context) error {
	ctx, cancel := batchContext(c)
	defer cancel()

	var req models.PeriodRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "Invalid period", err)
	}
	summary, err := oc.accruals.RetryFailed(ctx, req.Period)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Failed accruals retried", summary)
}

// AccrueDeposit runs one period for the owner of a single deposit.
func (oc *OperationsController) AccrueDeposit(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.PeriodRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "Invalid period", err)
	}
	rec, err := oc.accruals.AccrueDeposit(ctx, c.Param("depositId"), req.Period)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Deposit accrued", rec)
}

func (oc *OperationsController) CancelAccrual(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var req models.ReasonRequest
	if err := bind(c, &req); err != nil {
		return badRequest(c, "A reason is required", err)
	}
	rec, err := oc.accruals.Cancel(ctx, c.Param("recordId"), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Accrual cancelled", rec)
}
