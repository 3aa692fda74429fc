package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Accrual terms: 8% per period for 25 periods is 200% of principal.
var AccrualRate = decimal.RequireFromString("0.08")

const MaxAccrualPeriods = 25

// MaxAccrualMultiple is the lifetime return cap as a multiple of principal.
func MaxAccrualMultiple() decimal.Decimal {
	return AccrualRate.Mul(decimal.NewFromInt(MaxAccrualPeriods))
}

type AccrualStatus string

const (
	AccrualPending    AccrualStatus = "PENDING"
	AccrualProcessing AccrualStatus = "PROCESSING"
	AccrualCompleted  AccrualStatus = "COMPLETED"
	AccrualFailed     AccrualStatus = "FAILED"
	AccrualCancelled  AccrualStatus = "CANCELLED"
)

var accrualTransitions = map[AccrualStatus][]AccrualStatus{
	AccrualPending:    {AccrualProcessing, AccrualCancelled},
	AccrualProcessing: {AccrualCompleted, AccrualFailed},
	AccrualFailed:     {AccrualPending, AccrualCancelled},
}

// CanTransitionTo reports whether s -> next is allowed. FAILED may be reopened to PENDING.
func (s AccrualStatus) CanTransitionTo(next AccrualStatus) bool {
	for _, allowed := range accrualTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s AccrualStatus) Valid() bool {
	switch s {
	case AccrualPending, AccrualProcessing, AccrualCompleted, AccrualFailed, AccrualCancelled:
		return true
	}
	return false
}

// AccrualRecord is the single payout of one user for one period.
type AccrualRecord struct {
	ID               primitive.ObjectID `json:"id" bson:"_id"`
	UserID           string             `json:"userId" bson:"userId"`
	Period           string             `json:"period" bson:"period"`
	BaseAmount       decimal.Decimal    `json:"baseAmount" bson:"baseAmount"`
	Rate             decimal.Decimal    `json:"rate" bson:"rate"`
	AccrualAmount    decimal.Decimal    `json:"accrualAmount" bson:"accrualAmount"`
	BatchID          string             `json:"batchId" bson:"batchId"`
	SourceDepositIDs []string           `json:"sourceDepositIds" bson:"sourceDepositIds"`
	Status           AccrualStatus      `json:"status" bson:"status"`
	FailureReason    string             `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	Attempts         int                `json:"attempts" bson:"attempts"`
	ProcessedAt      *time.Time         `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
	CreatedAt        time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// LedgerReference is the idempotency key of the PERIODIC_INCOME credit.
func (r *AccrualRecord) LedgerReference() string {
	return "accrual:" + r.ID.Hex()
}

// AccrualFilter selects records for history and retry queries. Empty fields are ignored.
type AccrualFilter struct {
	UserID  string
	Period  string
	BatchID string
	Status  AccrualStatus
}

// AccrualBatchSummary reports the outcome of one period run.
type AccrualBatchSummary struct {
	BatchID      string          `json:"batchId"`
	Period       string          `json:"period"`
	Users        int             `json:"users"`
	Deposits     int             `json:"deposits"`
	Completed    int             `json:"completed"`
	Skipped      int             `json:"skipped"`
	Failed       int             `json:"failed"`
	TotalAccrued decimal.Decimal `json:"totalAccrued"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}
