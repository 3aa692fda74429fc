package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
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
	defaultAccrualWorkers = 8
	accrualLockTimeout    = 30 * time.Minute
)

type accrualOutcome string

const (
	accrualCompleted accrualOutcome = "completed"
	accrualSkipped   accrualOutcome = "skipped"
	accrualFailed    accrualOutcome = "failed"
)

// AccrualService pays the periodic return on active deposits, one record per user per period.
type AccrualService struct {
	accruals AccrualStore
	deposits DepositStore
	ledger   *LedgerService
	deps     Deps
	workers  int
	log      logrus.FieldLogger
}

func NewAccrualService(accruals AccrualStore, deposits DepositStore, ledger *LedgerService, deps Deps, workers int) *AccrualService {
	deps = deps.withDefaults()
	if workers <= 0 {
		workers = defaultAccrualWorkers
	}
	return &AccrualService{
		accruals: accruals,
		deposits: deposits,
		ledger:   ledger,
		deps:     deps,
		workers:  workers,
		log:      deps.Logger.WithField("component", "accrual"),
	}
}

type userDeposits struct {
	userID   string
	deposits []models.Deposit
}

// Run accrues period for every user holding eligible deposits. A user whose record for the
// period already exists is skipped unless that record FAILED, in which case it is retried.
// One user's failure is recorded on its record and does not stop the batch.
func (s *AccrualService) Run(ctx context.Context, period string) (*models.AccrualBatchSummary, error) {
	return s.runLocked(ctx, period, nil)
}

// RetryFailed re-runs only the users whose record for period is FAILED.
func (s *AccrualService) RetryFailed(ctx context.Context, period string) (*models.AccrualBatchSummary, error) {
	if err := s.checkPeriod(period); err != nil {
		return nil, err
	}
	failed, err := s.accruals.ListAccruals(ctx, models.AccrualFilter{Period: period, Status: models.AccrualFailed})
	if err != nil {
		return nil, err
	}
	users := make(map[string]bool, len(failed))
	for _, rec := range failed {
		users[rec.UserID] = true
	}
	return s.runLocked(ctx, period, users)
}

// AccrueDeposit runs period for the owner of depositID. A deposit that is not ACTIVE, has
// reached the period cap or already accrued for period fails with models.ErrNotEligible.
func (s *AccrualService) AccrueDeposit(ctx context.Context, depositID, period string) (*models.AccrualRecord, error) {
	d, err := s.CheckEligibility(ctx, depositID, period)
	if err != nil {
		return nil, err
	}
	summary, err := s.runLocked(ctx, period, map[string]bool{d.UserID: true})
	if err != nil {
		return nil, err
	}
	rec, err := s.accruals.FindAccrualByUserPeriod(ctx, d.UserID, period)
	if err != nil {
		return nil, err
	}
	if summary.Failed > 0 {
		return rec, fmt.Errorf("accrual %s failed: %s", rec.ID.Hex(), rec.FailureReason)
	}
	return rec, nil
}

// CheckEligibility returns the deposit when it may accrue for period.
func (s *AccrualService) CheckEligibility(ctx context.Context, depositID, period string) (*models.Deposit, error) {
	depositID, err := validateID("depositId", depositID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPeriod(period); err != nil {
		return nil, err
	}
	d, err := s.deposits.FindDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if !d.EligibleFor(period) {
		return nil, fmt.Errorf("deposit %s is %s after %d periods, not eligible for %s: %w", d.ID, d.State, d.MonthsActive, period, models.ErrNotEligible)
	}
	return d, nil
}

// checkPeriod accepts a well-formed period that has already started.
func (s *AccrualService) checkPeriod(period string) error {
	start, err := utils.ParsePeriod(period)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if start.After(s.deps.now()) {
		return fmt.Errorf("%w: period %s has not started", models.ErrValidation, period)
	}
	return nil
}

func (s *AccrualService) runLocked(ctx context.Context, period string, onlyUsers map[string]bool) (*models.AccrualBatchSummary, error) {
	if err := s.checkPeriod(period); err != nil {
		return nil, err
	}

	release, err := s.deps.Locker.Acquire(ctx, "accrual:"+period, accrualLockTimeout)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			s.deps.Metrics.ObserveLockContention("accrual")
			return nil, fmt.Errorf("accrual run for %s in progress: %w", period, models.ErrDuplicate)
		}
		return nil, err
	}
	defer release()

	eligible, err := s.deposits.ListEligibleDeposits(ctx, period, models.MaxAccrualPeriods)
	if err != nil {
		return nil, err
	}
	groups := groupByUser(eligible, period, onlyUsers)

	summary := &models.AccrualBatchSummary{
		BatchID:      uuid.NewString(),
		Period:       period,
		Users:        len(groups),
		TotalAccrued: decimal.Zero,
		StartedAt:    s.deps.now(),
	}
	logger := s.log.WithFields(logrus.Fields{"period": period, "batchId": summary.BatchID})
	logger.WithField("users", len(groups)).Info("accrual batch started")

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			outcome, amount := s.accrueUser(ctx, summary.BatchID, period, group, logger)
			s.deps.Metrics.ObserveAccrual(string(outcome))

			mu.Lock()
			defer mu.Unlock()
			summary.Deposits += len(group.deposits)
			switch outcome {
			case accrualCompleted:
				summary.Completed++
				summary.TotalAccrued = summary.TotalAccrued.Add(amount)
			case accrualSkipped:
				summary.Skipped++
			case accrualFailed:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = s.deps.now()
	s.deps.Metrics.ObserveAccrualBatch(summary)
	logger.WithFields(logrus.Fields{
		"completed": summary.Completed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"total":     summary.TotalAccrued.String(),
	}).Info("accrual batch finished")
	return summary, nil
}

func groupByUser(deposits []models.Deposit, period string, onlyUsers map[string]bool) []userDeposits {
	index := map[string]int{}
	var groups []userDeposits
	for _, d := range deposits {
		if onlyUsers != nil && !onlyUsers[d.UserID] {
			continue
		}
		if !d.EligibleFor(period) {
			continue
		}
		i, ok := index[d.UserID]
		if !ok {
			i = len(groups)
			index[d.UserID] = i
			groups = append(groups, userDeposits{userID: d.UserID})
		}
		groups[i].deposits = append(groups[i].deposits, d)
	}
	return groups
}

// accrueUser books one user's period. Errors end up on the record, not in the return value.
func (s *AccrualService) accrueUser(ctx context.Context, batchID, period string, group userDeposits, logger logrus.FieldLogger) (accrualOutcome, decimal.Decimal) {
	logger = logger.WithField("userId", group.userID)

	shares, amount := accrualShares(group.deposits)
	rec, err := s.prepareRecord(ctx, batchID, period, group, amount)
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			logger.WithError(err).Info("accrual already recorded, skipping")
			return accrualSkipped, decimal.Zero
		}
		logger.WithError(err).Error("failed to prepare accrual record")
		return accrualFailed, decimal.Zero
	}

	rec, err = s.accruals.TransitionAccrual(ctx, rec.ID, []models.AccrualStatus{models.AccrualPending}, models.AccrualProcessing, s.deps.now(), "")
	if err != nil {
		logger.WithError(err).Error("failed to start accrual")
		return accrualFailed, decimal.Zero
	}

	var completed []models.Deposit
	err = s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		completed = completed[:0]
		now := s.deps.now()
		for i, d := range group.deposits {
			advanced, err := s.deposits.AdvanceAccrual(ctx, d.ID, period, shares[i], models.MaxAccrualPeriods, now)
			if err != nil {
				return err
			}
			if booked := advanced.TotalEarnings.Sub(d.TotalEarnings); !booked.Equal(shares[i]) {
				return fmt.Errorf("%w: deposit %s booked %s of a %s share", models.ErrInvariantViolation, d.ID, booked, shares[i])
			}
			if advanced.State == models.DepositCompleted {
				completed = append(completed, *advanced)
			}
		}
		if rec.AccrualAmount.IsPositive() {
			_, err := s.ledger.apply(ctx, group.userID, models.BucketPeriodicIncome, models.DirectionCredit, rec.AccrualAmount, rec.LedgerReference())
			if err != nil && !errors.Is(err, models.ErrDuplicate) {
				return err
			}
		}
		done, err := s.accruals.TransitionAccrual(ctx, rec.ID, []models.AccrualStatus{models.AccrualProcessing}, models.AccrualCompleted, now, "")
		if err != nil {
			return err
		}
		rec = done
		return nil
	})
	if err != nil {
		s.fail(ctx, rec, err, logger)
		return accrualFailed, decimal.Zero
	}

	s.deps.Audit.Record(ctx, models.AuditEvent{
		Type:      models.AuditAccrualCompleted,
		UserID:    rec.UserID,
		Reference: rec.LedgerReference(),
		Bucket:    models.BucketPeriodicIncome,
		Amount:    rec.AccrualAmount,
		Data:      map[string]any{"period": rec.Period, "batchId": rec.BatchID, "deposits": len(group.deposits)},
		At:        rec.UpdatedAt,
	})
	for _, d := range completed {
		s.deps.Audit.Record(ctx, models.AuditEvent{
			Type:   models.AuditDepositCompleted,
			UserID: d.UserID,
			Amount: d.TotalEarnings,
			Data:   map[string]any{"depositId": d.ID, "monthsActive": d.MonthsActive},
			At:     d.UpdatedAt,
		})
	}
	return accrualCompleted, rec.AccrualAmount
}

// accrualShares returns each deposit's share of the period and their sum, which is the
// amount credited to the user.
func accrualShares(deposits []models.Deposit) ([]decimal.Decimal, decimal.Decimal) {
	shares := make([]decimal.Decimal, len(deposits))
	total := decimal.Zero
	for i := range deposits {
		shares[i] = deposits[i].AccrualShare()
		total = total.Add(shares[i])
	}
	return shares, total
}

// prepareRecord inserts the user's PENDING record, or reopens a FAILED one. Any other existing
// record yields models.ErrDuplicate.
func (s *AccrualService) prepareRecord(ctx context.Context, batchID, period string, group userDeposits, amount decimal.Decimal) (*models.AccrualRecord, error) {
	now := s.deps.now()
	base := decimal.Zero
	ids := make([]string, 0, len(group.deposits))
	for _, d := range group.deposits {
		base = base.Add(d.Amount)
		ids = append(ids, d.ID)
	}
	rec := &models.AccrualRecord{
		ID:               primitive.NewObjectID(),
		UserID:           group.userID,
		Period:           period,
		BaseAmount:       base,
		Rate:             models.AccrualRate,
		AccrualAmount:    amount,
		BatchID:          batchID,
		SourceDepositIDs: ids,
		Status:           models.AccrualPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.accruals.InsertAccrual(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, models.ErrDuplicate) {
		return nil, err
	}

	existing, err := s.accruals.FindAccrualByUserPeriod(ctx, group.userID, period)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.AccrualFailed {
		return nil, fmt.Errorf("accrual %s/%s is %s: %w", group.userID, period, existing.Status, models.ErrDuplicate)
	}
	rec.ID = existing.ID
	return s.accruals.ReopenFailedAccrual(ctx, rec)
}

func (s *AccrualService) fail(ctx context.Context, rec *models.AccrualRecord, cause error, logger logrus.FieldLogger) {
	entry := logger.WithError(cause).WithField("accrualId", rec.ID.Hex())
	if models.IsDataIntegrityFault(cause) {
		entry.Error("accrual needs review")
	} else {
		entry.Warn("accrual failed")
	}

	failed, err := s.accruals.TransitionAccrual(ctx, rec.ID, []models.AccrualStatus{models.AccrualProcessing}, models.AccrualFailed, s.deps.now(), cause.Error())
	if err != nil {
		logger.WithError(err).Error("failed to record accrual failure")
		return
	}
	s.deps.Audit.Record(ctx, models.AuditEvent{
		Type:      models.AuditAccrualFailed,
		UserID:    failed.UserID,
		Reference: failed.LedgerReference(),
		Amount:    failed.AccrualAmount,
		Data:      map[string]any{"period": failed.Period, "reason": failed.FailureReason, "attempts": failed.Attempts},
		At:        failed.UpdatedAt,
	})
}

// Cancel withdraws a PENDING or FAILED record. Nothing was credited for it.
func (s *AccrualService) Cancel(ctx context.Context, recordID, reason string) (*models.AccrualRecord, error) {
	id, err := parseObjectID("recordId", recordID)
	if err != nil {
		return nil, err
	}
	return s.accruals.TransitionAccrual(ctx, id,
		[]models.AccrualStatus{models.AccrualPending, models.AccrualFailed},
		models.AccrualCancelled, s.deps.now(), utils.SanitizeInput(reason))
}

func (s *AccrualService) GetRecord(ctx context.Context, recordID string) (*models.AccrualRecord, error) {
	id, err := parseObjectID("recordId", recordID)
	if err != nil {
		return nil, err
	}
	return s.accruals.FindAccrual(ctx, id)
}
