package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/utils"
)

// CommissionRates is the fixed payout table; index 0 is level 1.
var CommissionRates = [MaxDepth]decimal.Decimal{
	decimal.RequireFromString("0.10"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.03"),
	decimal.RequireFromString("0.01"),
	decimal.RequireFromString("0.01"),
}

// CommissionRate returns the fixed rate for level (1..MaxDepth).
func CommissionRate(level int) (decimal.Decimal, error) {
	if level < 1 || level > MaxDepth {
		return decimal.Zero, fmt.Errorf("%w: commission level %d out of range", ErrValidation, level)
	}
	return CommissionRates[level-1], nil
}

// MaxCommissionShare is the sum of every level's rate (20%).
func MaxCommissionShare() decimal.Decimal {
	total := decimal.Zero
	for _, r := range CommissionRates {
		total = total.Add(r)
	}
	return total
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "PENDING"
	CommissionProcessed CommissionStatus = "PROCESSED"
	CommissionPaid      CommissionStatus = "PAID"
	CommissionCancelled CommissionStatus = "CANCELLED"
)

var commissionTransitions = map[CommissionStatus][]CommissionStatus{
	CommissionPending:   {CommissionProcessed, CommissionCancelled},
	CommissionProcessed: {CommissionPaid, CommissionPending, CommissionCancelled},
}

// CanTransitionTo reports whether the record lifecycle allows s -> next.
// PAID and CANCELLED are terminal.
func (s CommissionStatus) CanTransitionTo(next CommissionStatus) bool {
	for _, allowed := range commissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionProcessed, CommissionPaid, CommissionCancelled:
		return true
	}
	return false
}

// CommissionSourcesFor lists the statuses from which a record may move to next.
func CommissionSourcesFor(next CommissionStatus) []CommissionStatus {
	var from []CommissionStatus
	for _, s := range []CommissionStatus{CommissionPending, CommissionProcessed, CommissionPaid, CommissionCancelled} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// CommissionRecord is one payout to one ancestor for one source deposit.
type CommissionRecord struct {
	ID                  primitive.ObjectID `json:"id" bson:"_id"`
	RecipientUserID     string             `json:"recipientUserId" bson:"recipientUserId"`
	SourceUserID        string             `json:"sourceUserId" bson:"sourceUserId"`
	SourceDepositID     string             `json:"sourceDepositId" bson:"sourceDepositId"`
	Level               int                `json:"level" bson:"level"`
	Rate                decimal.Decimal    `json:"rate" bson:"rate"`
	SourceAmount        decimal.Decimal    `json:"sourceAmount" bson:"sourceAmount"`
	Amount              decimal.Decimal    `json:"amount" bson:"amount"`
	Status              CommissionStatus   `json:"status" bson:"status"`
	DistributionBatchID string             `json:"distributionBatchId,omitempty" bson:"distributionBatchId,omitempty"`
	ProcessedAt         *time.Time         `json:"processedAt,omitempty" bson:"processedAt,omitempty"`
	PaidAt              *time.Time         `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	CancelledAt         *time.Time         `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	CancelReason        string             `json:"cancelReason,omitempty" bson:"cancelReason,omitempty"`
	CreatedAt           time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// NewCommissionRecord prices a level's payout for a source deposit.
func NewCommissionRecord(batch *CommissionBatch, ancestor Ancestor, at time.Time) (*CommissionRecord, error) {
	rate, err := CommissionRate(ancestor.Level)
	if err != nil {
		return nil, err
	}
	rec := &CommissionRecord{
		ID:                  primitive.NewObjectID(),
		RecipientUserID:     ancestor.UserID,
		SourceUserID:        batch.SourceUserID,
		SourceDepositID:     batch.SourceDepositID,
		Level:               ancestor.Level,
		Rate:                rate,
		SourceAmount:        batch.SourceAmount,
		Amount:              utils.ApplyRate(batch.SourceAmount, rate),
		Status:              CommissionPending,
		DistributionBatchID: batch.BatchID,
		CreatedAt:           at,
		UpdatedAt:           at,
	}
	return rec, rec.Validate()
}

// Validate checks the record invariants.
func (r *CommissionRecord) Validate() error {
	rate, err := CommissionRate(r.Level)
	if err != nil {
		return err
	}
	if !r.Rate.Equal(rate) {
		return fmt.Errorf("%w: rate %s does not match level %d", ErrInvariantViolation, r.Rate, r.Level)
	}
	if r.RecipientUserID == "" || r.RecipientUserID == r.SourceUserID {
		return fmt.Errorf("%w: commission recipient %q must differ from source", ErrInvariantViolation, r.RecipientUserID)
	}
	if r.Amount.IsNegative() || r.Amount.GreaterThan(r.SourceAmount) {
		return fmt.Errorf("%w: commission amount %s outside [0, %s]", ErrInvariantViolation, r.Amount, r.SourceAmount)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown commission status %q", ErrValidation, r.Status)
	}
	return nil
}

// LedgerReference is the idempotency key of the ledger credit backing this record.
func (r *CommissionRecord) LedgerReference() string {
	return "commission:" + r.ID.Hex()
}

// CancellationReference is the idempotency key of the debit reversing this record.
func (r *CommissionRecord) CancellationReference() string {
	return "commission-cancel:" + r.ID.Hex()
}

type BatchStatus string

const (
	BatchOpen        BatchStatus = "OPEN"
	BatchDistributed BatchStatus = "DISTRIBUTED"
)

// CommissionBatch is the distribution batch produced by one source deposit. It is the
// de-duplication boundary: one batch per deposit, and a leg is applied at most once.
type CommissionBatch struct {
	BatchID         string          `json:"batchId" bson:"_id"`
	SourceDepositID string          `json:"sourceDepositId" bson:"sourceDepositId"`
	SourceUserID    string          `json:"sourceUserId" bson:"sourceUserId"`
	SourceAmount    decimal.Decimal `json:"sourceAmount" bson:"sourceAmount"`
	Upline          []Ancestor      `json:"upline" bson:"upline"`
	NewTeamMember   bool            `json:"newTeamMember" bson:"newTeamMember"`
	AppliedLegs     []string        `json:"appliedLegs" bson:"appliedLegs"`
	Status          BatchStatus     `json:"status" bson:"status"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}

// HasLeg reports whether the fan-out unit for userID has been applied.
func (b *CommissionBatch) HasLeg(userID string) bool {
	for _, id := range b.AppliedLegs {
		if id == userID {
			return true
		}
	}
	return false
}

// Matches reports whether an event describes the same deposit as the batch.
func (b *CommissionBatch) Matches(evt DepositConfirmedEvent) bool {
	return b.SourceUserID == evt.UserID && b.SourceAmount.Equal(utils.RoundMoney(evt.Amount))
}

// CommissionFilter selects records for history queries. Empty fields are ignored.
type CommissionFilter struct {
	RecipientUserID string
	SourceUserID    string
	SourceDepositID string
	BatchID         string
	Status          CommissionStatus
	Limit           int64
}
