package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Bucket names one sub-balance of a user's ledger.
type Bucket string

const (
	BucketPrincipal      Bucket = "PRINCIPAL"
	BucketPeriodicIncome Bucket = "PERIODIC_INCOME"
	BucketCommission     Bucket = "COMMISSION"
	// BucketTotal is a read-time projection of PERIODIC_INCOME + COMMISSION and is never stored.
	BucketTotal Bucket = "TOTAL"
)

// StoredBuckets are the buckets that have a persisted LedgerEntry.
var StoredBuckets = []Bucket{BucketPrincipal, BucketPeriodicIncome, BucketCommission}

// Valid reports whether b is a known bucket, derived or stored.
func (b Bucket) Valid() bool {
	return b == BucketTotal || b.Stored()
}

// Stored reports whether b is persisted and writable.
func (b Bucket) Stored() bool {
	for _, s := range StoredBuckets {
		if s == b {
			return true
		}
	}
	return false
}

// ParseBucket validates a bucket name from an external caller.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(s)
	if !b.Valid() {
		return "", fmt.Errorf("%w: unknown bucket %q", ErrValidation, s)
	}
	return b, nil
}

// LedgerEntry is the persisted balance of one (user, bucket) pair.
type LedgerEntry struct {
	UserID            string          `json:"userId" bson:"userId"`
	Bucket            Bucket          `json:"bucket" bson:"bucket"`
	Balance           decimal.Decimal `json:"balance" bson:"balance"`
	LifetimeCredits   decimal.Decimal `json:"lifetimeCredits" bson:"lifetimeCredits"`
	LifetimeDebits    decimal.Decimal `json:"lifetimeDebits" bson:"lifetimeDebits"`
	LastTransactionAt *time.Time      `json:"lastTransactionAt,omitempty" bson:"lastTransactionAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// NewLedgerEntry returns a zeroed entry.
func NewLedgerEntry(userID string, bucket Bucket, at time.Time) *LedgerEntry {
	return &LedgerEntry{
		UserID:          userID,
		Bucket:          bucket,
		Balance:         decimal.Zero,
		LifetimeCredits: decimal.Zero,
		LifetimeDebits:  decimal.Zero,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// LedgerTransaction is the timestamped log line of one credit or debit.
// Reference is unique: replaying a reference is a no-op.
type LedgerTransaction struct {
	ID           primitive.ObjectID `json:"id" bson:"_id"`
	Reference    string             `json:"reference" bson:"reference"`
	UserID       string             `json:"userId" bson:"userId"`
	Bucket       Bucket             `json:"bucket" bson:"bucket"`
	Direction    Direction          `json:"direction" bson:"direction"`
	Amount       decimal.Decimal    `json:"amount" bson:"amount"`
	BalanceAfter decimal.Decimal    `json:"balanceAfter" bson:"balanceAfter"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
}

// SignedAmount is the balance delta the transaction applies.
func (t *LedgerTransaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// BucketBalance is one line of a LedgerSummary.
type BucketBalance struct {
	Balance           decimal.Decimal `json:"balance"`
	LifetimeCredits   decimal.Decimal `json:"lifetimeCredits"`
	LastTransactionAt *time.Time      `json:"lastTransactionAt,omitempty"`
}

// LedgerSummary is every bucket of one user, TOTAL included.
type LedgerSummary struct {
	UserID            string                   `json:"userId"`
	Buckets           map[Bucket]BucketBalance `json:"buckets"`
	LastTransactionAt *time.Time               `json:"lastTransactionAt,omitempty"`
}

// NewLedgerSummary projects the stored entries into a summary and derives TOTAL.
func NewLedgerSummary(userID string, entries []LedgerEntry) *LedgerSummary {
	s := &LedgerSummary{UserID: userID, Buckets: make(map[Bucket]BucketBalance, len(StoredBuckets)+1)}
	for _, b := range StoredBuckets {
		s.Buckets[b] = BucketBalance{Balance: decimal.Zero, LifetimeCredits: decimal.Zero}
	}
	for _, e := range entries {
		s.Buckets[e.Bucket] = BucketBalance{
			Balance:           e.Balance,
			LifetimeCredits:   e.LifetimeCredits,
			LastTransactionAt: e.LastTransactionAt,
		}
		if e.LastTransactionAt != nil && (s.LastTransactionAt == nil || e.LastTransactionAt.After(*s.LastTransactionAt)) {
			t := *e.LastTransactionAt
			s.LastTransactionAt = &t
		}
	}
	income := s.Buckets[BucketPeriodicIncome]
	commission := s.Buckets[BucketCommission]
	total := BucketBalance{
		Balance:         TotalOf(income.Balance, commission.Balance),
		LifetimeCredits: TotalOf(income.LifetimeCredits, commission.LifetimeCredits),
	}
	switch {
	case income.LastTransactionAt == nil:
		total.LastTransactionAt = commission.LastTransactionAt
	case commission.LastTransactionAt == nil || income.LastTransactionAt.After(*commission.LastTransactionAt):
		total.LastTransactionAt = income.LastTransactionAt
	default:
		total.LastTransactionAt = commission.LastTransactionAt
	}
	s.Buckets[BucketTotal] = total
	return s
}

// TotalOf is the TOTAL projection.
func TotalOf(periodicIncome, commission decimal.Decimal) decimal.Decimal {
	return periodicIncome.Add(commission)
}

// Balance returns the balance of b, TOTAL included.
func (s *LedgerSummary) Balance(b Bucket) decimal.Decimal {
	return s.Buckets[b].Balance
}
