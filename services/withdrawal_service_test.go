package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/mlm_ledger/models"
)

func TestWithdrawalApproveDebitsBucket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A", "B")
	h.deposit(t, "B", "dep-1", 1000)

	_, err := h.withdrawals.Request(ctx, "A", models.BucketCommission, dec("100.01"), "")
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
	_, err = h.withdrawals.Request(ctx, "B", models.BucketPrincipal, dec("10"), "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = h.withdrawals.Request(ctx, "A", models.BucketCommission, dec("0"), "")
	assert.ErrorIs(t, err, models.ErrValidation)

	w, err := h.withdrawals.Request(ctx, "A", models.BucketCommission, dec("60"), "to my wallet")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.True(t, h.balance(t, "A", models.BucketCommission).Equal(dec("100")), "requests reserve nothing")

	approved, err := h.withdrawals.Approve(ctx, w.ID.Hex(), "sent")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalApproved, approved.Status)
	assert.Equal(t, "sent", approved.AdminNote)
	assert.True(t, h.balance(t, "A", models.BucketCommission).Equal(dec("40")))
	assert.True(t, h.balance(t, "A", models.BucketTotal).Equal(dec("40")))

	_, err = h.withdrawals.Approve(ctx, w.ID.Hex(), "")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.True(t, h.balance(t, "A", models.BucketCommission).Equal(dec("40")))
	assert.Equal(t, 1, h.audit.count(models.AuditWithdrawalApproved))
}

func TestWithdrawalApprovalRollsBackWhenBalanceShrank(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.onboardChain(t, "A", "B")
	h.deposit(t, "B", "dep-1", 1000)

	first, err := h.withdrawals.Request(ctx, "A", models.BucketCommission, dec("70"), "")
	require.NoError(t, err)
	second, err := h.withdrawals.Request(ctx, "A", models.BucketCommission, dec("70"), "")
	require.NoError(t, err)

	_, err = h.withdrawals.Approve(ctx, first.ID.Hex(), "")
	require.NoError(t, err)
	_, err = h.withdrawals.Approve(ctx, second.ID.Hex(), "")
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)

	still, err := h.withdrawals.Get(ctx, second.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, still.Status)
	assert.True(t, h.balance(t, "A", models.BucketCommission).Equal(dec("30")))

	_, err = h.withdrawals.Reject(ctx, second.ID.Hex(), " ")
	assert.ErrorIs(t, err, models.ErrValidation)
	rejected, err := h.withdrawals.Reject(ctx, second.ID.Hex(), "insufficient funds")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "insufficient funds", rejected.RejectionReason)

	pending, err := h.withdrawals.ListByUser(ctx, "A", models.WithdrawalPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := h.withdrawals.ListByUser(ctx, "A", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
