package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/utils"
)

// WithdrawalService handles payout requests against the income and commission buckets.
// A request reserves nothing; approval debits the bucket and fails when it no longer covers
// the amount.
type WithdrawalService struct {
	store  WithdrawalStore
	ledger *LedgerService
	deps   Deps
	log    logrus.FieldLogger
}

func NewWithdrawalService(store WithdrawalStore, ledger *LedgerService, deps Deps) *WithdrawalService {
	deps = deps.withDefaults()
	return &WithdrawalService{
		store:  store,
		ledger: ledger,
		deps:   deps,
		log:    deps.Logger.WithField("component", "withdrawal"),
	}
}

// Request records a PENDING withdrawal of amount from bucket.
func (s *WithdrawalService) Request(ctx context.Context, userID string, bucket models.Bucket, amount decimal.Decimal, note string) (*models.Withdrawal, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	if !models.Withdrawable(bucket) {
		return nil, fmt.Errorf("%w: cannot withdraw from %q", models.ErrValidation, bucket)
	}
	amount = utils.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive, got %s", models.ErrValidation, amount)
	}
	balance, err := s.ledger.GetBalance(ctx, userID, bucket)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s holds %s, requested %s", models.ErrInsufficientBalance, bucket, balance, amount)
	}

	w := &models.Withdrawal{
		ID:        primitive.NewObjectID(),
		UserID:    userID,
		Bucket:    bucket,
		Amount:    amount,
		Status:    models.WithdrawalPending,
		UserNote:  utils.SanitizeInput(note),
		CreatedAt: s.deps.now(),
	}
	if err := s.store.InsertWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"withdrawalId": w.ID.Hex(), "userId": userID, "bucket": bucket, "amount": amount.String()}).Info("withdrawal requested")
	s.audit(ctx, models.AuditWithdrawalRequested, w)
	return w, nil
}

// Approve debits the bucket and marks the withdrawal APPROVED in one transaction.
func (s *WithdrawalService) Approve(ctx context.Context, withdrawalID, note string) (*models.Withdrawal, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	id, err := parseObjectID("withdrawalId", withdrawalID)
	if err != nil {
		return nil, err
	}

	var approved *models.Withdrawal
	err = s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		w, err := s.store.TransitionWithdrawal(ctx, id, models.WithdrawalApproved, s.deps.now(), utils.SanitizeInput(note))
		if err != nil {
			return err
		}
		_, err = s.ledger.apply(ctx, w.UserID, w.Bucket, models.DirectionDebit, w.Amount, w.LedgerReference())
		if err != nil && !errors.Is(err, models.ErrDuplicate) {
			return err
		}
		approved = w
		return nil
	})
	if err != nil {
		s.log.WithField("withdrawalId", withdrawalID).WithError(err).Warn("withdrawal approval failed")
		return nil, err
	}

	s.deps.Metrics.ObserveLedgerWrite(approved.Bucket, models.DirectionDebit, approved.Amount, nil)
	s.log.WithFields(logrus.Fields{"withdrawalId": approved.ID.Hex(), "userId": approved.UserID}).Info("withdrawal approved")
	s.audit(ctx, models.AuditWithdrawalApproved, approved)
	return approved, nil
}

// Reject closes a PENDING withdrawal without touching the ledger.
func (s *WithdrawalService) Reject(ctx context.Context, withdrawalID, reason string) (*models.Withdrawal, error) {
	id, err := parseObjectID("withdrawalId", withdrawalID)
	if err != nil {
		return nil, err
	}
	reason = utils.SanitizeInput(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", models.ErrValidation)
	}
	w, err := s.store.TransitionWithdrawal(ctx, id, models.WithdrawalRejected, s.deps.now(), reason)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"withdrawalId": w.ID.Hex(), "userId": w.UserID}).Info("withdrawal rejected")
	s.audit(ctx, models.AuditWithdrawalRejected, w)
	return w, nil
}

func (s *WithdrawalService) Get(ctx context.Context, withdrawalID string) (*models.Withdrawal, error) {
	id, err := parseObjectID("withdrawalId", withdrawalID)
	if err != nil {
		return nil, err
	}
	return s.store.FindWithdrawal(ctx, id)
}

func (s *WithdrawalService) ListByUser(ctx context.Context, userID string, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListWithdrawals(ctx, userID, status)
}

func (s *WithdrawalService) audit(ctx context.Context, eventType string, w *models.Withdrawal) {
	at := w.CreatedAt
	if w.ProcessedAt != nil {
		at = *w.ProcessedAt
	}
	s.deps.Audit.Record(ctx, models.AuditEvent{
		Type:      eventType,
		UserID:    w.UserID,
		Reference: w.LedgerReference(),
		Bucket:    w.Bucket,
		Amount:    w.Amount,
		Data:      map[string]any{"withdrawalId": w.ID.Hex(), "status": w.Status},
		At:        at,
	})
}
