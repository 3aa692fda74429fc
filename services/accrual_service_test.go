package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/repositories/memory"
	"github.com/HSouheill/mlm_ledger/utils"
)

func TestAccrualPaysEightPercent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A", "B")
	h.deposit(t, "B", "dep-1", 1000)
	h.deposit(t, "B", "dep-2", 3000)

	summary, err := h.events.HandlePeriodElapsed(ctx, models.PeriodElapsed{Period: "2024-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Users)
	assert.Equal(t, 2, summary.Deposits)
	assert.Equal(t, 1, summary.Completed)
	assert.True(t, summary.TotalAccrued.Equal(dec("320")))

	assert.True(t, h.balance(t, "B", models.BucketPeriodicIncome).Equal(dec("320")))
	// TOTAL is income plus commission, never principal
	assert.True(t, h.balance(t, "B", models.BucketTotal).Equal(dec("320")))
	assert.True(t, h.balance(t, "A", models.BucketTotal).Equal(dec("400")))

	d1, err := h.deposits.Get(ctx, "dep-1")
	require.NoError(t, err)
	d2, err := h.deposits.Get(ctx, "dep-2")
	require.NoError(t, err)
	assert.True(t, d1.TotalEarnings.Equal(dec("80")))
	assert.True(t, d2.TotalEarnings.Equal(dec("240")))
	assert.Equal(t, "2024-01", d1.LastAccruedPeriod)

	history, err := h.accruals.accruals.ListAccruals(ctx, models.AccrualFilter{UserID: "B"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.AccrualCompleted, history[0].Status)
	assert.ElementsMatch(t, []string{"dep-1", "dep-2"}, history[0].SourceDepositIDs)
}

func TestAccrualRunIsIdempotentPerPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.deposit(t, "A", "dep-1", 1000)

	_, err := h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	again, err := h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	assert.Zero(t, again.Completed)
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(dec("80")))

	// a deposit activated after the run makes the user eligible again, but the record exists
	h.deposit(t, "A", "dep-2", 500)
	late, err := h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	assert.Equal(t, 1, late.Skipped)
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(dec("80")))
}

func TestAccrualStopsAtTwentyFivePeriods(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.deposit(t, "A", "dep-1", 1000)

	period := "2024-01"
	for i := 1; i <= models.MaxAccrualPeriods; i++ {
		h.startPeriod(t, period)
		summary, err := h.accruals.Run(ctx, period)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Completed, "period %d", i)

		d, err := h.deposits.Get(ctx, "dep-1")
		require.NoError(t, err)
		assert.Equal(t, i, d.MonthsActive)
		if i < models.MaxAccrualPeriods {
			assert.Equal(t, models.DepositActive, d.State)
		} else {
			assert.Equal(t, models.DepositCompleted, d.State)
			assert.NotNil(t, d.CompletedAt)
		}

		period, err = utils.NextPeriod(period)
		require.NoError(t, err)
	}

	// 25 x 8% is twice the principal
	income := h.balance(t, "A", models.BucketPeriodicIncome)
	assert.True(t, income.Equal(dec("1000").Mul(models.MaxAccrualMultiple())), income.String())

	h.startPeriod(t, period)
	summary, err := h.accruals.Run(ctx, period)
	require.NoError(t, err)
	assert.Zero(t, summary.Users)
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(income))

	_, err = h.accruals.AccrueDeposit(ctx, "dep-1", period)
	assert.ErrorIs(t, err, models.ErrNotEligible)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 1, h.audit.count(models.AuditDepositCompleted))
}

func TestAccrualNeverExceedsTwiceThePrincipal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	for _, id := range []string{"dep-1", "dep-2"} {
		_, err := h.deposits.Register(ctx, "A", dec("1.000005"), "", id)
		require.NoError(t, err)
		_, _, err = h.deposits.Confirm(ctx, id)
		require.NoError(t, err)
	}

	period := "2024-01"
	for i := 1; i <= models.MaxAccrualPeriods; i++ {
		h.startPeriod(t, period)
		summary, err := h.accruals.Run(ctx, period)
		require.NoError(t, err)
		require.Equal(t, 1, summary.Completed, "period %d", i)

		rec, err := h.accruals.accruals.FindAccrualByUserPeriod(ctx, "A", period)
		require.NoError(t, err)
		booked := decimal.Zero
		for _, id := range []string{"dep-1", "dep-2"} {
			d, err := h.deposits.Get(ctx, id)
			require.NoError(t, err)
			require.True(t, d.TotalEarnings.LessThanOrEqual(d.EarningsCap()), "period %d: %s earned %s", i, id, d.TotalEarnings)
			booked = booked.Add(d.TotalEarnings)
		}
		assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(booked), "period %d", i)
		assert.True(t, rec.AccrualAmount.LessThanOrEqual(dec("0.16002")), rec.AccrualAmount.String())

		period, err = utils.NextPeriod(period)
		require.NoError(t, err)
	}

	for _, id := range []string{"dep-1", "dep-2"} {
		d, err := h.deposits.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.DepositCompleted, d.State)
		assert.True(t, d.TotalEarnings.Equal(dec("2.00001")), d.TotalEarnings.String())
	}
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(dec("4.00002")))
}

func TestAccrualRejectsPeriodsNotYetStarted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.deposit(t, "A", "dep-1", 1000)

	_, err := h.accruals.Run(ctx, "2024-02")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.accruals.RetryFailed(ctx, "2024-02")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.accruals.AccrueDeposit(ctx, "dep-1", "2024-02")
	assert.ErrorIs(t, err, models.ErrValidation)

	d, err := h.deposits.Get(ctx, "dep-1")
	require.NoError(t, err)
	assert.Zero(t, d.MonthsActive)
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).IsZero())
}

func TestAccrualSkipsPeriodsBeforeActivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.deposit(t, "A", "dep-1", 1000)

	summary, err := h.accruals.Run(ctx, "2023-12")
	require.NoError(t, err)
	assert.Zero(t, summary.Users)
	_, err = h.accruals.AccrueDeposit(ctx, "dep-1", "2023-12")
	assert.ErrorIs(t, err, models.ErrNotEligible)

	summary, err = h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(dec("80")))
}

// flakyDeposits fails AdvanceAccrual for one user a fixed number of times.
type flakyDeposits struct {
	*memory.Store
	failFor  string
	failures int32
}

func (f *flakyDeposits) AdvanceAccrual(ctx context.Context, id, period string, share decimal.Decimal, maxPeriods int, at time.Time) (*models.Deposit, error) {
	d, err := f.Store.FindDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID == f.failFor && atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, errInjected
	}
	return f.Store.AdvanceAccrual(ctx, id, period, share, maxPeriods, at)
}

func TestAccrualFailureIsIsolatedAndRetried(t *testing.T) {
	flaky := &flakyDeposits{failFor: "B", failures: 1}
	h := newHarness(t, withDepositStore(func(s *memory.Store) DepositStore {
		flaky.Store = s
		return flaky
	}))
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.onboardChain(t, "B")
	h.deposit(t, "A", "dep-a", 1000)
	h.deposit(t, "B", "dep-b", 2000)

	summary, err := h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(dec("80")))
	assert.True(t, h.balance(t, "B", models.BucketPeriodicIncome).IsZero())

	failed, err := h.accruals.accruals.FindAccrualByUserPeriod(ctx, "B", "2024-01")
	require.NoError(t, err)
	assert.Equal(t, models.AccrualFailed, failed.Status)
	assert.Contains(t, failed.FailureReason, errInjected.Error())
	d, err := h.deposits.Get(ctx, "dep-b")
	require.NoError(t, err)
	assert.Zero(t, d.MonthsActive)

	retried, err := h.accruals.RetryFailed(ctx, "2024-01")
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Users)
	assert.Equal(t, 1, retried.Completed)
	assert.True(t, h.balance(t, "B", models.BucketPeriodicIncome).Equal(dec("160")))
	assert.True(t, h.balance(t, "A", models.BucketPeriodicIncome).Equal(dec("80")))

	done, err := h.accruals.GetRecord(ctx, failed.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.AccrualCompleted, done.Status)
	assert.Equal(t, failed.ID, done.ID)
	assert.Equal(t, 1, h.audit.count(models.AuditAccrualFailed))
}

func TestAccrueDepositChecksEligibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.deposit(t, "A", "dep-1", 1000)

	_, err := h.deposits.MarkDormant(ctx, "dep-1")
	require.NoError(t, err)
	_, err = h.accruals.AccrueDeposit(ctx, "dep-1", "2024-01")
	assert.ErrorIs(t, err, models.ErrNotEligible)

	dormant, err := h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	assert.Zero(t, dormant.Users)

	_, err = h.deposits.Reactivate(ctx, "dep-1")
	require.NoError(t, err)
	rec, err := h.accruals.AccrueDeposit(ctx, "dep-1", "2024-01")
	require.NoError(t, err)
	assert.Equal(t, models.AccrualCompleted, rec.Status)
	assert.True(t, rec.AccrualAmount.Equal(dec("80")))

	_, err = h.accruals.AccrueDeposit(ctx, "dep-1", "2024-1")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.accruals.AccrueDeposit(ctx, "missing", "2024-01")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPendingDepositDoesNotAccrue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	_, err := h.deposits.Register(ctx, "A", dec("1000"), "0xabc", "dep-1")
	require.NoError(t, err)

	summary, err := h.accruals.Run(ctx, "2024-01")
	require.NoError(t, err)
	assert.Zero(t, summary.Users)

	failed, err := h.deposits.Fail(ctx, "dep-1", "chain reorg")
	require.NoError(t, err)
	assert.Equal(t, models.DepositFailed, failed.State)
	_, _, err = h.deposits.Confirm(ctx, "dep-1")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.True(t, h.balance(t, "A", models.BucketPrincipal).IsZero())
}

func TestCancelAccrual(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A")
	h.deposit(t, "A", "dep-1", 1000)
	rec, err := h.accruals.AccrueDeposit(ctx, "dep-1", "2024-01")
	require.NoError(t, err)

	_, err = h.accruals.Cancel(ctx, rec.ID.Hex(), "duplicate payout")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAccrualRunLockContention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	release, err := h.deps.Locker.Acquire(ctx, "accrual:2024-01", time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = h.accruals.Run(ctx, "2024-01")
	assert.ErrorIs(t, err, models.ErrDuplicate)
	_, err = h.accruals.Run(ctx, "January")
	assert.ErrorIs(t, err, models.ErrValidation)
}
