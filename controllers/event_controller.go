package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/services"
)

// EventController accepts the inbound events from upstream services.
type EventController struct {
	events *services.EventService
}

func NewEventController(events *services.EventService) *EventController {
	return &EventController{events: events}
}

// DepositConfirmed distributes commissions for a deposit. A redelivered event answers 200
// with the existing distribution.
func (ec *EventController) DepositConfirmed(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var evt models.DepositConfirmedEvent
	if err := bind(c, &evt); err != nil {
		return badRequest(c, "Invalid DepositConfirmed event", err)
	}

	result, err := ec.events.HandleDepositConfirmed(ctx, evt)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, models.Response{
			Status:  http.StatusCreated,
			Message: "Commissions distributed",
			Data:    result,
		})
	case errors.Is(err, models.ErrDuplicate) && result != nil:
		return ok(c, "Deposit already distributed", result)
	default:
		return fail(c, err)
	}
}

// PeriodElapsed runs the accrual batch for a period.
func (ec *EventController) PeriodElapsed(c echo.Context) error {
	ctx, cancel := batchContext(c)
	defer cancel()

	var evt models.PeriodElapsed
	if err := bind(c, &evt); err != nil {
		return badRequest(c, "Invalid PeriodElapsed event", err)
	}

	summary, err := ec.events.HandlePeriodElapsed(ctx, evt)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, "Accrual batch finished", summary)
}
