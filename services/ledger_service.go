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

// LedgerService owns the per-user bucket balances. Every write is keyed by a unique reference
// and appended to the transaction log; replaying a reference is a models.ErrDuplicate no-op.
type LedgerService struct {
	store LedgerStore
	deps  Deps
	log   logrus.FieldLogger
}

func NewLedgerService(store LedgerStore, deps Deps) *LedgerService {
	deps = deps.withDefaults()
	return &LedgerService{
		store: store,
		deps:  deps,
		log:   deps.Logger.WithField("component", "ledger"),
	}
}

// InitAccount creates the zeroed stored buckets of userID. It is idempotent.
func (s *LedgerService) InitAccount(ctx context.Context, userID string) error {
	userID, err := validateID("userId", userID)
	if err != nil {
		return err
	}
	return s.store.InitAccount(ctx, userID, s.deps.now())
}

// Credit adds amount to bucket. TOTAL is derived and cannot be written.
func (s *LedgerService) Credit(ctx context.Context, userID string, bucket models.Bucket, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	return s.write(ctx, userID, bucket, models.DirectionCredit, amount, reference)
}

// Debit removes amount from bucket, failing with models.ErrInsufficientBalance when the
// balance does not cover it.
func (s *LedgerService) Debit(ctx context.Context, userID string, bucket models.Bucket, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	return s.write(ctx, userID, bucket, models.DirectionDebit, amount, reference)
}

func (s *LedgerService) write(ctx context.Context, userID string, bucket models.Bucket, direction models.Direction, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.apply(ctx, userID, bucket, direction, amount, reference)
	s.deps.Metrics.ObserveLedgerWrite(bucket, direction, amount, err)
	if err != nil {
		if !errors.Is(err, models.ErrDuplicate) {
			s.log.WithFields(logrus.Fields{
				"userId":    userID,
				"bucket":    bucket,
				"direction": direction,
				"reference": reference,
			}).WithError(err).Warn("ledger write rejected")
		}
		return tx, err
	}

	auditType := models.AuditLedgerCredit
	if direction == models.DirectionDebit {
		auditType = models.AuditLedgerDebit
	}
	s.deps.Audit.Record(ctx, models.AuditEvent{
		Type:      auditType,
		UserID:    tx.UserID,
		Reference: tx.Reference,
		Bucket:    tx.Bucket,
		Amount:    tx.Amount,
		Data:      map[string]any{"balanceAfter": tx.BalanceAfter.String()},
		At:        tx.CreatedAt,
	})
	return tx, nil
}

// apply performs one write inside the caller's transaction, or its own when there is none.
// Engines call it directly and report their own audit events after commit.
func (s *LedgerService) apply(ctx context.Context, userID string, bucket models.Bucket, direction models.Direction, amount decimal.Decimal, reference string) (*models.LedgerTransaction, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	if bucket == models.BucketTotal {
		return nil, fmt.Errorf("%w: %s is derived and cannot be written", models.ErrValidation, models.BucketTotal)
	}
	if !bucket.Stored() {
		return nil, fmt.Errorf("%w: unknown bucket %q", models.ErrValidation, bucket)
	}
	amount = utils.RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", models.ErrValidation, amount)
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", models.ErrValidation)
	}

	var result *models.LedgerTransaction
	err = s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.store.FindTransaction(ctx, reference)
		if err == nil {
			result = existing
			return fmt.Errorf("ledger reference %s: %w", reference, models.ErrDuplicate)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		now := s.deps.now()
		delta := amount
		if direction == models.DirectionDebit {
			delta = amount.Neg()
		}
		entry, err := s.store.IncrementBalance(ctx, userID, bucket, delta, now)
		if err != nil {
			return err
		}

		tx := &models.LedgerTransaction{
			ID:           primitive.NewObjectID(),
			Reference:    reference,
			UserID:       userID,
			Bucket:       bucket,
			Direction:    direction,
			Amount:       amount,
			BalanceAfter: entry.Balance,
			CreatedAt:    now,
		}
		if err := s.store.InsertTransaction(ctx, tx); err != nil {
			return err
		}
		result = tx
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return result, err
		}
		return nil, err
	}
	return result, nil
}

// GetBalance returns the balance of one bucket. TOTAL is computed from the stored buckets.
// A bucket that was never written has a zero balance.
func (s *LedgerService) GetBalance(ctx context.Context, userID string, bucket models.Bucket) (decimal.Decimal, error) {
	if !bucket.Valid() {
		return decimal.Zero, fmt.Errorf("%w: unknown bucket %q", models.ErrValidation, bucket)
	}
	if bucket == models.BucketTotal {
		summary, err := s.GetSummary(ctx, userID)
		if err != nil {
			return decimal.Zero, err
		}
		return summary.Balance(models.BucketTotal), nil
	}

	userID, err := validateID("userId", userID)
	if err != nil {
		return decimal.Zero, err
	}
	entry, err := s.store.FindEntry(ctx, userID, bucket)
	if errors.Is(err, models.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return entry.Balance, nil
}

// GetSummary returns every bucket of userID with TOTAL derived at read time.
func (s *LedgerService) GetSummary(ctx context.Context, userID string) (*models.LedgerSummary, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, userID)
	if err != nil {
		return nil, err
	}
	return models.NewLedgerSummary(userID, entries), nil
}

// ListTransactions returns the newest ledger lines of userID first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, limit int64) ([]models.LedgerTransaction, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

func validateID(field, id string) (string, error) {
	clean, err := utils.SanitizeIdentifier(id)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrValidation, field, err)
	}
	return clean, nil
}
