package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/utils"
)

const (
	defaultFanoutLimit      = models.MaxDepth
	distributionLockTimeout = 2 * time.Minute
)

// DistributionResult is the outcome of one Distribute call.
type DistributionResult struct {
	BatchID string                    `json:"batchId"`
	Records []models.CommissionRecord `json:"records"`
	Total   decimal.Decimal           `json:"total"`
}

// CommissionService fans a confirmed deposit out to the depositor's cached upline.
type CommissionService struct {
	store     CommissionStore
	genealogy GenealogyStore
	ledger    *LedgerService
	deps      Deps
	fanout    int
	log       logrus.FieldLogger
}

func NewCommissionService(store CommissionStore, genealogy GenealogyStore, ledger *LedgerService, deps Deps, fanoutLimit int) *CommissionService {
	deps = deps.withDefaults()
	if fanoutLimit <= 0 {
		fanoutLimit = defaultFanoutLimit
	}
	return &CommissionService{
		store:     store,
		genealogy: genealogy,
		ledger:    ledger,
		deps:      deps,
		fanout:    fanoutLimit,
		log:       deps.Logger.WithField("component", "commission"),
	}
}

// Distribute pays every cached ancestor of the depositor its level's share of the deposit.
// Each ancestor is one transactional unit: record, team statistics, ledger credit. A deposit
// whose batch is already DISTRIBUTED returns the existing records with models.ErrDuplicate;
// a batch left OPEN by a failure resumes with the legs not yet applied.
func (s *CommissionService) Distribute(ctx context.Context, evt models.DepositConfirmedEvent) (*DistributionResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	started := time.Now()
	defer s.deps.Metrics.ObserveDistribution(started)

	evt, err := normalizeDepositEvent(evt)
	if err != nil {
		return nil, err
	}
	logger := s.log.WithFields(logrus.Fields{
		"depositId": evt.DepositID,
		"userId":    evt.UserID,
		"amount":    evt.Amount.String(),
	})

	release, err := s.deps.Locker.Acquire(ctx, "distribution:"+evt.DepositID, distributionLockTimeout)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			s.deps.Metrics.ObserveLockContention("distribution")
			return nil, fmt.Errorf("distribution of deposit %s in progress: %w", evt.DepositID, models.ErrDuplicate)
		}
		return nil, err
	}
	defer release()

	node, err := s.genealogy.FindNode(ctx, evt.UserID)
	if err != nil {
		return nil, err
	}

	batch, err := s.openBatch(ctx, evt, node)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchDistributed {
		result, err := s.batchResult(ctx, batch.BatchID)
		if err != nil {
			return nil, err
		}
		return result, fmt.Errorf("deposit %s already distributed in batch %s: %w", evt.DepositID, batch.BatchID, models.ErrDuplicate)
	}

	// the upline was frozen into the batch; the tree is not read again
	records := make([]*models.CommissionRecord, len(batch.Upline))
	applied := make([]bool, len(batch.Upline))
	g := new(errgroup.Group)
	g.SetLimit(s.fanout)
	for i, ancestor := range batch.Upline {
		i, ancestor := i, ancestor
		g.Go(func() error {
			rec, fresh, err := s.applyLeg(ctx, batch, ancestor)
			if err != nil {
				s.deps.Metrics.ObserveCommissionLeg(ancestor.Level, "error")
				logger.WithError(err).WithFields(logrus.Fields{
					"batchId":     batch.BatchID,
					"recipientId": ancestor.UserID,
					"level":       ancestor.Level,
				}).Error("commission leg failed")
				return fmt.Errorf("level %d leg to %s: %w", ancestor.Level, ancestor.UserID, err)
			}
			records[i], applied[i] = rec, fresh
			if fresh {
				s.deps.Metrics.ObserveCommissionLeg(ancestor.Level, "applied")
			} else {
				s.deps.Metrics.ObserveCommissionLeg(ancestor.Level, "skipped")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch %s left open: %w", batch.BatchID, err)
	}

	if err := s.store.MarkBatchDistributed(ctx, batch.BatchID, s.deps.now()); err != nil {
		return nil, err
	}

	result := &DistributionResult{BatchID: batch.BatchID, Records: []models.CommissionRecord{}, Total: decimal.Zero}
	for i, rec := range records {
		result.Records = append(result.Records, *rec)
		result.Total = result.Total.Add(rec.Amount)
		if applied[i] {
			s.deps.Audit.Record(ctx, models.AuditEvent{
				Type:      models.AuditCommissionDistributed,
				UserID:    rec.RecipientUserID,
				Reference: rec.LedgerReference(),
				Bucket:    models.BucketCommission,
				Amount:    rec.Amount,
				Data: map[string]any{
					"batchId":         rec.DistributionBatchID,
					"sourceUserId":    rec.SourceUserID,
					"sourceDepositId": rec.SourceDepositID,
					"level":           rec.Level,
				},
				At: rec.CreatedAt,
			})
		}
	}

	logger.WithFields(logrus.Fields{
		"batchId": batch.BatchID,
		"legs":    len(result.Records),
		"total":   result.Total.String(),
	}).Info("commission distributed")
	return result, nil
}

func normalizeDepositEvent(evt models.DepositConfirmedEvent) (models.DepositConfirmedEvent, error) {
	var err error
	if evt.UserID, err = validateID("userId", evt.UserID); err != nil {
		return evt, err
	}
	if evt.DepositID, err = validateID("depositId", evt.DepositID); err != nil {
		return evt, err
	}
	evt.Amount = utils.RoundMoney(evt.Amount)
	if !evt.Amount.IsPositive() {
		return evt, fmt.Errorf("%w: deposit amount must be positive, got %s", models.ErrValidation, evt.Amount)
	}
	return evt, nil
}

// openBatch returns the batch of the deposit, creating it on first delivery. Creation decides
// once whether the depositor is a new team member and freezes the upline.
func (s *CommissionService) openBatch(ctx context.Context, evt models.DepositConfirmedEvent, node *models.GenealogyNode) (*models.CommissionBatch, error) {
	batch, err := s.store.FindBatchByDeposit(ctx, evt.DepositID)
	if errors.Is(err, models.ErrNotFound) {
		batch, err = s.createBatch(ctx, evt, node)
		if errors.Is(err, models.ErrDuplicate) {
			batch, err = s.store.FindBatchByDeposit(ctx, evt.DepositID)
		}
	}
	if err != nil {
		return nil, err
	}
	if !batch.Matches(evt) {
		return nil, fmt.Errorf("%w: deposit %s was distributed for %s/%s, event says %s/%s",
			models.ErrValidation, evt.DepositID, batch.SourceUserID, batch.SourceAmount, evt.UserID, evt.Amount)
	}
	return batch, nil
}

func (s *CommissionService) createBatch(ctx context.Context, evt models.DepositConfirmedEvent, node *models.GenealogyNode) (*models.CommissionBatch, error) {
	var batch *models.CommissionBatch
	err := s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.deps.now()
		newMember, err := s.genealogy.MarkActivated(ctx, node.UserID, now)
		if err != nil {
			return err
		}
		batch = &models.CommissionBatch{
			BatchID:         uuid.NewString(),
			SourceDepositID: evt.DepositID,
			SourceUserID:    evt.UserID,
			SourceAmount:    evt.Amount,
			Upline:          node.Ancestors.List(),
			NewTeamMember:   newMember,
			AppliedLegs:     []string{},
			Status:          models.BatchOpen,
			CreatedAt:       now,
		}
		return s.store.InsertBatch(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// applyLeg is one fan-out unit. It reports whether this call applied the leg.
func (s *CommissionService) applyLeg(ctx context.Context, batch *models.CommissionBatch, ancestor models.Ancestor) (*models.CommissionRecord, bool, error) {
	var (
		stored *models.CommissionRecord
		fresh  bool
	)
	err := s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		fresh = false
		now := s.deps.now()
		rec, err := models.NewCommissionRecord(batch, ancestor, now)
		if err != nil {
			return err
		}
		stored, _, err = s.store.UpsertRecord(ctx, rec)
		if err != nil {
			return err
		}

		current, err := s.store.FindBatch(ctx, batch.BatchID)
		if err != nil {
			return err
		}
		if current.HasLeg(ancestor.UserID) {
			return nil
		}

		delta := models.TeamDelta{Volume: batch.SourceAmount, Commission: stored.Amount}
		// the direct parent counted the member when the referral was recorded
		if batch.NewTeamMember && ancestor.Level > 1 {
			delta.TeamSize = 1
		}
		if err := s.genealogy.ApplyTeamDelta(ctx, ancestor.UserID, delta, now); err != nil {
			return err
		}
		if stored.Amount.IsPositive() {
			_, err := s.ledger.apply(ctx, ancestor.UserID, models.BucketCommission, models.DirectionCredit, stored.Amount, stored.LedgerReference())
			if err != nil && !errors.Is(err, models.ErrDuplicate) {
				return err
			}
		}
		if err := s.store.MarkLegApplied(ctx, batch.BatchID, ancestor.UserID); err != nil {
			return err
		}
		fresh = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, fresh, nil
}

func (s *CommissionService) batchResult(ctx context.Context, batchID string) (*DistributionResult, error) {
	records, err := s.store.ListRecords(ctx, models.CommissionFilter{BatchID: batchID})
	if err != nil {
		return nil, err
	}
	result := &DistributionResult{BatchID: batchID, Records: records, Total: decimal.Zero}
	for _, rec := range records {
		result.Total = result.Total.Add(rec.Amount)
	}
	return result, nil
}

// Process moves every PENDING record of a distributed batch to PROCESSED.
func (s *CommissionService) Process(ctx context.Context, batchID string) (int64, error) {
	return s.transitionBatch(ctx, batchID, models.CommissionPending, models.CommissionProcessed)
}

// MarkPaid moves every PROCESSED record of a batch to PAID.
func (s *CommissionService) MarkPaid(ctx context.Context, batchID string) (int64, error) {
	return s.transitionBatch(ctx, batchID, models.CommissionProcessed, models.CommissionPaid)
}

func (s *CommissionService) transitionBatch(ctx context.Context, batchID string, from, to models.CommissionStatus) (int64, error) {
	batchID, err := validateID("batchId", batchID)
	if err != nil {
		return 0, err
	}
	batch, err := s.store.FindBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if batch.Status != models.BatchDistributed {
		return 0, fmt.Errorf("%w: batch %s is still %s", models.ErrInvalidTransition, batchID, batch.Status)
	}
	n, err := s.store.TransitionBatchRecords(ctx, batchID, from, to, s.deps.now())
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"batchId": batchID, "from": from, "to": to, "records": n}).Info("commission batch transitioned")
	return n, nil
}

// Revert sends a PROCESSED record back to PENDING for correction.
func (s *CommissionService) Revert(ctx context.Context, recordID string) (*models.CommissionRecord, error) {
	id, err := parseObjectID("recordId", recordID)
	if err != nil {
		return nil, err
	}
	return s.store.TransitionRecord(ctx, id, []models.CommissionStatus{models.CommissionProcessed}, models.CommissionPending, s.deps.now(), "")
}

// Cancel voids a PENDING or PROCESSED record. The credited amount is debited from the
// recipient's COMMISSION bucket and removed from its commissionEarned in the same transaction.
func (s *CommissionService) Cancel(ctx context.Context, recordID, reason string) (*models.CommissionRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	id, err := parseObjectID("recordId", recordID)
	if err != nil {
		return nil, err
	}
	reason = utils.SanitizeInput(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a cancellation reason is required", models.ErrValidation)
	}

	var rec *models.CommissionRecord
	err = s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := s.deps.now()
		var err error
		rec, err = s.store.TransitionRecord(ctx, id, models.CommissionSourcesFor(models.CommissionCancelled), models.CommissionCancelled, now, reason)
		if err != nil {
			return err
		}
		if !rec.Amount.IsPositive() {
			return nil
		}
		if _, err := s.ledger.apply(ctx, rec.RecipientUserID, models.BucketCommission, models.DirectionDebit, rec.Amount, rec.CancellationReference()); err != nil {
			return err
		}
		return s.genealogy.ApplyTeamDelta(ctx, rec.RecipientUserID, models.TeamDelta{Commission: rec.Amount.Neg()}, now)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Audit.Record(ctx, models.AuditEvent{
		Type:      models.AuditCommissionCancelled,
		UserID:    rec.RecipientUserID,
		Reference: rec.CancellationReference(),
		Bucket:    models.BucketCommission,
		Amount:    rec.Amount,
		Data:      map[string]any{"reason": reason, "batchId": rec.DistributionBatchID},
		At:        rec.UpdatedAt,
	})
	return rec, nil
}

func (s *CommissionService) GetRecord(ctx context.Context, recordID string) (*models.CommissionRecord, error) {
	id, err := parseObjectID("recordId", recordID)
	if err != nil {
		return nil, err
	}
	return s.store.FindRecord(ctx, id)
}

func (s *CommissionService) GetBatch(ctx context.Context, batchID string) (*models.CommissionBatch, error) {
	batchID, err := validateID("batchId", batchID)
	if err != nil {
		return nil, err
	}
	return s.store.FindBatch(ctx, batchID)
}

func parseObjectID(field, hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s %q is not a valid id", models.ErrValidation, field, hex)
	}
	return id, nil
}
