package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/models"
)

// EventService is the entry point for the two inbound events.
type EventService struct {
	commissions *CommissionService
	accruals    *AccrualService
	validate    *validator.Validate
	log         logrus.FieldLogger
}

func NewEventService(commissions *CommissionService, accruals *AccrualService, deps Deps) *EventService {
	deps = deps.withDefaults()
	return &EventService{
		commissions: commissions,
		accruals:    accruals,
		validate:    validator.New(),
		log:         deps.Logger.WithField("component", "events"),
	}
}

// HandleDepositConfirmed distributes commissions for a confirmed deposit. Redelivery of an
// already distributed deposit returns the existing records and models.ErrDuplicate.
func (s *EventService) HandleDepositConfirmed(ctx context.Context, evt models.DepositConfirmedEvent) (*DistributionResult, error) {
	if err := s.validate.Struct(evt); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	result, err := s.commissions.Distribute(ctx, evt)
	s.logOutcome(err, logrus.Fields{"event": "DepositConfirmed", "depositId": evt.DepositID, "userId": evt.UserID})
	return result, err
}

// HandlePeriodElapsed runs the accrual batch for the elapsed period.
func (s *EventService) HandlePeriodElapsed(ctx context.Context, evt models.PeriodElapsed) (*models.AccrualBatchSummary, error) {
	if err := s.validate.Struct(evt); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	summary, err := s.accruals.Run(ctx, evt.Period)
	s.logOutcome(err, logrus.Fields{"event": "PeriodElapsed", "period": evt.Period})
	return summary, err
}

func (s *EventService) logOutcome(err error, fields logrus.Fields) {
	entry := s.log.WithFields(fields)
	switch {
	case err == nil:
		entry.Debug("event handled")
	case errors.Is(err, models.ErrDuplicate):
		entry.WithError(err).Info("event already handled")
	case models.IsRecoverable(err):
		entry.WithError(err).Warn("event rejected")
	default:
		entry.WithError(err).Error("event failed")
	}
}
