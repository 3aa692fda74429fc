package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDepositStateTransitions(t *testing.T) {
	assert.True(t, DepositPending.CanTransitionTo(DepositConfirmed))
	assert.True(t, DepositConfirmed.CanTransitionTo(DepositActive))
	assert.True(t, DepositActive.CanTransitionTo(DepositCompleted))
	assert.True(t, DepositDormant.CanTransitionTo(DepositActive))
	assert.False(t, DepositPending.CanTransitionTo(DepositActive))
	assert.False(t, DepositCompleted.CanTransitionTo(DepositActive))
	assert.False(t, DepositFailed.CanTransitionTo(DepositPending))
}

func TestDepositEligibleFor(t *testing.T) {
	d := &Deposit{ID: "d1", State: DepositActive, MonthsActive: 24, LastAccruedPeriod: "2024-01"}
	assert.True(t, d.EligibleFor("2024-02"))
	assert.False(t, d.EligibleFor("2024-01"))

	d.MonthsActive = MaxAccrualPeriods
	assert.False(t, d.EligibleFor("2024-02"))

	d.MonthsActive = 3
	d.State = DepositDormant
	assert.False(t, d.EligibleFor("2024-02"))
	assert.Equal(t, "principal:d1", d.PrincipalReference())
}

func TestDepositEligibleForRespectsActivationMonth(t *testing.T) {
	activated := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	d := &Deposit{ID: "d1", State: DepositActive, ActivatedAt: &activated}
	assert.False(t, d.EligibleFor("2024-02"))
	assert.True(t, d.EligibleFor("2024-03"))
	assert.True(t, d.EligibleFor("2024-04"))
}

func TestDepositAccrualShare(t *testing.T) {
	d := &Deposit{Amount: decimal.RequireFromString("1.000005"), State: DepositActive}
	assert.True(t, d.EarningsCap().Equal(decimal.RequireFromString("2.00001")))
	assert.True(t, d.AccrualShare().Equal(decimal.RequireFromString("0.08")))

	d.MonthsActive = MaxAccrualPeriods - 1
	d.TotalEarnings = decimal.RequireFromString("1.92")
	assert.True(t, d.AccrualShare().Equal(decimal.RequireFromString("0.08001")))

	d.MonthsActive = 10
	d.TotalEarnings = decimal.RequireFromString("1.98")
	assert.True(t, d.AccrualShare().Equal(decimal.RequireFromString("0.02001")))

	d.TotalEarnings = d.EarningsCap()
	assert.True(t, d.AccrualShare().IsZero())
}

func TestAccrualTerms(t *testing.T) {
	assert.True(t, MaxAccrualMultiple().Equal(decimal.NewFromInt(2)))
	assert.True(t, AccrualFailed.CanTransitionTo(AccrualPending))
	assert.False(t, AccrualCompleted.CanTransitionTo(AccrualPending))
	assert.False(t, AccrualPending.CanTransitionTo(AccrualCompleted))
}

func TestWithdrawalTransitions(t *testing.T) {
	assert.True(t, WithdrawalPending.CanTransitionTo(WithdrawalApproved))
	assert.True(t, WithdrawalPending.CanTransitionTo(WithdrawalRejected))
	assert.False(t, WithdrawalApproved.CanTransitionTo(WithdrawalRejected))
	assert.True(t, Withdrawable(BucketCommission))
	assert.False(t, Withdrawable(BucketPrincipal))
	assert.False(t, Withdrawable(BucketTotal))
}
