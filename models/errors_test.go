package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("deposit d1: %w", ErrNotEligible)
	assert.True(t, errors.Is(wrapped, ErrNotEligible))
	assert.True(t, errors.Is(wrapped, ErrValidation))
	assert.True(t, IsRecoverable(wrapped))
	assert.True(t, IsRecoverable(fmt.Errorf("x: %w", ErrDuplicate)))
	assert.False(t, IsRecoverable(ErrInsufficientBalance))
	assert.True(t, IsDataIntegrityFault(fmt.Errorf("x: %w", ErrDepthExceeded)))
	assert.False(t, IsDataIntegrityFault(ErrNotFound))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("a: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("a: %w", ErrDuplicate), http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrInsufficientBalance, http.StatusPaymentRequired},
		{ErrNotEligible, http.StatusBadRequest},
		{ErrInvariantViolation, http.StatusUnprocessableEntity},
		{errors.New("connection reset by peer"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestLedgerSummaryDerivesTotal(t *testing.T) {
	earlier := testTime
	later := testTime.Add(time.Hour)
	summary := NewLedgerSummary("u1", []LedgerEntry{
		{UserID: "u1", Bucket: BucketPrincipal, Balance: decimal.NewFromInt(1000), LifetimeCredits: decimal.NewFromInt(1000), LastTransactionAt: &earlier},
		{UserID: "u1", Bucket: BucketPeriodicIncome, Balance: decimal.NewFromInt(80), LifetimeCredits: decimal.NewFromInt(80), LastTransactionAt: &later},
		{UserID: "u1", Bucket: BucketCommission, Balance: decimal.NewFromInt(15), LifetimeCredits: decimal.NewFromInt(20), LastTransactionAt: &earlier},
	})

	assert.True(t, summary.Balance(BucketTotal).Equal(decimal.NewFromInt(95)))
	assert.True(t, summary.Buckets[BucketTotal].LifetimeCredits.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, later, *summary.Buckets[BucketTotal].LastTransactionAt)
	assert.Equal(t, later, *summary.LastTransactionAt)

	empty := NewLedgerSummary("u2", nil)
	assert.Len(t, empty.Buckets, 4)
	assert.True(t, empty.Balance(BucketTotal).IsZero())
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket("COMMISSION")
	assert.NoError(t, err)
	assert.Equal(t, BucketCommission, b)
	assert.True(t, BucketTotal.Valid())
	assert.False(t, BucketTotal.Stored())

	_, err = ParseBucket("BONUS")
	assert.ErrorIs(t, err, ErrValidation)
}
