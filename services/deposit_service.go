package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/utils"
)

// DepositConfirmedHandler receives the event a confirmed deposit emits.
type DepositConfirmedHandler interface {
	HandleDepositConfirmed(ctx context.Context, evt models.DepositConfirmedEvent) (*DistributionResult, error)
}

// DepositService owns the deposit state machine. Chain confirmation happens upstream; this
// service only records its outcome.
type DepositService struct {
	store     DepositStore
	genealogy GenealogyStore
	ledger    *LedgerService
	handler   DepositConfirmedHandler
	deps      Deps
	log       logrus.FieldLogger
}

func NewDepositService(store DepositStore, genealogy GenealogyStore, ledger *LedgerService, deps Deps) *DepositService {
	deps = deps.withDefaults()
	return &DepositService{
		store:     store,
		genealogy: genealogy,
		ledger:    ledger,
		deps:      deps,
		log:       deps.Logger.WithField("component", "deposit"),
	}
}

// SetHandler wires the consumer of DepositConfirmed. Without one, confirmation only credits
// the principal.
func (s *DepositService) SetHandler(h DepositConfirmedHandler) {
	s.handler = h
}

// Register records a PENDING deposit. An empty depositID is generated.
func (s *DepositService) Register(ctx context.Context, userID string, amount decimal.Decimal, txHash, depositID string) (*models.Deposit, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	if depositID == "" {
		depositID = uuid.NewString()
	} else if depositID, err = validateID("depositId", depositID); err != nil {
		return nil, err
	}
	amount = utils.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive, got %s", models.ErrValidation, amount)
	}
	if _, err := s.genealogy.FindNode(ctx, userID); err != nil {
		return nil, err
	}

	now := s.deps.now()
	d := &models.Deposit{
		ID:            depositID,
		UserID:        userID,
		Amount:        amount,
		State:         models.DepositPending,
		TotalEarnings: decimal.Zero,
		TxHash:        utils.SanitizeInput(txHash),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertDeposit(ctx, d); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"depositId": d.ID, "userId": userID, "amount": amount.String()}).Info("deposit registered")
	return d, nil
}

// Confirm moves a PENDING deposit through CONFIRMED to ACTIVE, credits its principal and
// emits DepositConfirmed. Confirming an already active deposit re-emits the event, which the
// commission engine treats as a no-op.
func (s *DepositService) Confirm(ctx context.Context, depositID string) (*models.Deposit, *DistributionResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	depositID, err := validateID("depositId", depositID)
	if err != nil {
		return nil, nil, err
	}

	var d *models.Deposit
	fresh := false
	err = s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		fresh = false
		current, err := s.store.FindDeposit(ctx, depositID)
		if err != nil {
			return err
		}
		switch current.State {
		case models.DepositActive, models.DepositDormant, models.DepositCompleted:
			d = current
			return nil
		case models.DepositPending:
		default:
			return fmt.Errorf("%w: deposit %s is %s", models.ErrInvalidTransition, depositID, current.State)
		}

		now := s.deps.now()
		if _, err := s.store.TransitionDeposit(ctx, depositID, []models.DepositState{models.DepositPending}, models.DepositConfirmed, now, ""); err != nil {
			return err
		}
		_, err = s.ledger.apply(ctx, current.UserID, models.BucketPrincipal, models.DirectionCredit, current.Amount, current.PrincipalReference())
		if err != nil && !errors.Is(err, models.ErrDuplicate) {
			return err
		}
		d, err = s.store.TransitionDeposit(ctx, depositID, []models.DepositState{models.DepositConfirmed}, models.DepositActive, now, "")
		if err != nil {
			return err
		}
		fresh = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if fresh {
		s.log.WithFields(logrus.Fields{"depositId": d.ID, "userId": d.UserID}).Info("deposit confirmed")
		s.deps.Audit.Record(ctx, models.AuditEvent{
			Type:      models.AuditDepositConfirmed,
			UserID:    d.UserID,
			Reference: d.PrincipalReference(),
			Bucket:    models.BucketPrincipal,
			Amount:    d.Amount,
			Data:      map[string]any{"depositId": d.ID, "txHash": d.TxHash},
			At:        d.UpdatedAt,
		})
	}

	if s.handler == nil {
		return d, nil, nil
	}
	result, err := s.handler.HandleDepositConfirmed(ctx, models.DepositConfirmedEvent{UserID: d.UserID, DepositID: d.ID, Amount: d.Amount})
	if err != nil && !errors.Is(err, models.ErrDuplicate) {
		return d, result, err
	}
	return d, result, nil
}

// Fail marks a PENDING deposit FAILED with reason.
func (s *DepositService) Fail(ctx context.Context, depositID, reason string) (*models.Deposit, error) {
	return s.transition(ctx, depositID, models.DepositPending, models.DepositFailed, utils.SanitizeInput(reason))
}

// MarkDormant pauses accruals on an ACTIVE deposit.
func (s *DepositService) MarkDormant(ctx context.Context, depositID string) (*models.Deposit, error) {
	return s.transition(ctx, depositID, models.DepositActive, models.DepositDormant, "")
}

// Reactivate resumes accruals on a DORMANT deposit.
func (s *DepositService) Reactivate(ctx context.Context, depositID string) (*models.Deposit, error) {
	return s.transition(ctx, depositID, models.DepositDormant, models.DepositActive, "")
}

func (s *DepositService) transition(ctx context.Context, depositID string, from, to models.DepositState, reason string) (*models.Deposit, error) {
	depositID, err := validateID("depositId", depositID)
	if err != nil {
		return nil, err
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	d, err := s.store.TransitionDeposit(ctx, depositID, []models.DepositState{from}, to, s.deps.now(), reason)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"depositId": d.ID, "state": d.State}).Info("deposit state changed")
	return d, nil
}

func (s *DepositService) Get(ctx context.Context, depositID string) (*models.Deposit, error) {
	depositID, err := validateID("depositId", depositID)
	if err != nil {
		return nil, err
	}
	return s.store.FindDeposit(ctx, depositID)
}

func (s *DepositService) ListByUser(ctx context.Context, userID string) ([]models.Deposit, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListDeposits(ctx, models.DepositFilter{UserID: userID})
}
