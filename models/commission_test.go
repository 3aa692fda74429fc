package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionRates(t *testing.T) {
	assert.True(t, MaxCommissionShare().Equal(decimal.RequireFromString("0.20")))

	rate, err := CommissionRate(1)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.10")))

	_, err = CommissionRate(0)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = CommissionRate(MaxDepth + 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCommissionStatusTransitions(t *testing.T) {
	assert.True(t, CommissionPending.CanTransitionTo(CommissionProcessed))
	assert.True(t, CommissionProcessed.CanTransitionTo(CommissionPaid))
	assert.True(t, CommissionProcessed.CanTransitionTo(CommissionPending))
	assert.True(t, CommissionPending.CanTransitionTo(CommissionCancelled))
	assert.False(t, CommissionPending.CanTransitionTo(CommissionPaid))
	assert.False(t, CommissionPaid.CanTransitionTo(CommissionCancelled))
	assert.False(t, CommissionCancelled.CanTransitionTo(CommissionPending))

	assert.ElementsMatch(t, []CommissionStatus{CommissionPending, CommissionProcessed}, CommissionSourcesFor(CommissionCancelled))
	assert.Equal(t, []CommissionStatus{CommissionProcessed}, CommissionSourcesFor(CommissionPaid))
	assert.False(t, CommissionStatus("EARNED").Valid())
}

func testBatch() *CommissionBatch {
	return &CommissionBatch{
		BatchID:         "batch-1",
		SourceDepositID: "dep-1",
		SourceUserID:    "C",
		SourceAmount:    decimal.NewFromInt(1000),
		Status:          BatchOpen,
	}
}

func TestNewCommissionRecord(t *testing.T) {
	batch := testBatch()
	total := decimal.Zero
	for level := 1; level <= MaxDepth; level++ {
		rec, err := NewCommissionRecord(batch, Ancestor{Level: level, UserID: "up"}, testTime)
		require.NoError(t, err)
		assert.Equal(t, CommissionPending, rec.Status)
		assert.Equal(t, "batch-1", rec.DistributionBatchID)
		assert.Equal(t, "commission:"+rec.ID.Hex(), rec.LedgerReference())
		total = total.Add(rec.Amount)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(200)), "total %s", total)

	_, err := NewCommissionRecord(batch, Ancestor{Level: 1, UserID: "C"}, testTime)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	_, err = NewCommissionRecord(batch, Ancestor{Level: 6, UserID: "up"}, testTime)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCommissionBatch(t *testing.T) {
	batch := testBatch()
	batch.AppliedLegs = []string{"B"}
	assert.True(t, batch.HasLeg("B"))
	assert.False(t, batch.HasLeg("A"))

	assert.True(t, batch.Matches(DepositConfirmedEvent{UserID: "C", DepositID: "dep-1", Amount: decimal.RequireFromString("1000.0000001")}))
	assert.False(t, batch.Matches(DepositConfirmedEvent{UserID: "C", DepositID: "dep-1", Amount: decimal.NewFromInt(999)}))
	assert.False(t, batch.Matches(DepositConfirmedEvent{UserID: "D", DepositID: "dep-1", Amount: decimal.NewFromInt(1000)}))
}
