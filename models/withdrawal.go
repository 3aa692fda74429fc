package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "PENDING"
	WithdrawalApproved WithdrawalStatus = "APPROVED"
	WithdrawalRejected WithdrawalStatus = "REJECTED"
)

// CanTransitionTo reports whether a withdrawal may move from s to next. Only PENDING moves.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	return s == WithdrawalPending && (next == WithdrawalApproved || next == WithdrawalRejected)
}

// Withdrawal is a user's request to take funds out of a withdrawable bucket. The bucket is
// debited only on approval.
type Withdrawal struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID          string             `bson:"userId" json:"userId"`
	Bucket          Bucket             `bson:"bucket" json:"bucket"`
	Amount          decimal.Decimal    `bson:"amount" json:"amount"`
	Status          WithdrawalStatus   `bson:"status" json:"status"`
	UserNote        string             `bson:"userNote,omitempty" json:"userNote,omitempty"`
	AdminNote       string             `bson:"adminNote,omitempty" json:"adminNote,omitempty"`
	RejectionReason string             `bson:"rejectionReason,omitempty" json:"rejectionReason,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	ProcessedAt     *time.Time         `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
}

// LedgerReference is the idempotency key of the debit made on approval.
func (w *Withdrawal) LedgerReference() string {
	return "withdrawal:" + w.ID.Hex()
}

// Withdrawable reports whether funds may be withdrawn from b. Principal stays locked for the
// lifetime of its deposit.
func Withdrawable(b Bucket) bool {
	return b == BucketPeriodicIncome || b == BucketCommission
}

// WithdrawalRequest is the body of a withdrawal request.
type WithdrawalRequest struct {
	UserID string          `json:"userId" validate:"required,max=128"`
	Bucket Bucket          `json:"bucket" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note" validate:"omitempty,max=512"`
}

// WithdrawalDecision is the operator's note when approving or rejecting.
type WithdrawalDecision struct {
	Note string `json:"note" validate:"omitempty,max=512"`
}
