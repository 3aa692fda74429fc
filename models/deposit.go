package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/HSouheill/mlm_ledger/utils"
)

type DepositState string

const (
	DepositPending   DepositState = "PENDING"
	DepositConfirmed DepositState = "CONFIRMED"
	DepositActive    DepositState = "ACTIVE"
	DepositDormant   DepositState = "DORMANT"
	DepositCompleted DepositState = "COMPLETED"
	DepositFailed    DepositState = "FAILED"
)

var depositTransitions = map[DepositState][]DepositState{
	DepositPending:   {DepositConfirmed, DepositFailed},
	DepositConfirmed: {DepositActive},
	DepositActive:    {DepositDormant, DepositCompleted},
	DepositDormant:   {DepositActive},
}

// CanTransitionTo reports whether the deposit lifecycle allows s -> next.
func (s DepositState) CanTransitionTo(next DepositState) bool {
	for _, allowed := range depositTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known state.
func (s DepositState) Valid() bool {
	switch s {
	case DepositPending, DepositConfirmed, DepositActive, DepositDormant, DepositCompleted, DepositFailed:
		return true
	}
	return false
}

// Deposit is one investment. Only ACTIVE deposits below the period cap accrue.
type Deposit struct {
	ID                string          `json:"id" bson:"_id"`
	UserID            string          `json:"userId" bson:"userId"`
	Amount            decimal.Decimal `json:"amount" bson:"amount"`
	State             DepositState    `json:"state" bson:"state"`
	MonthsActive      int             `json:"monthsActive" bson:"monthsActive"`
	TotalEarnings     decimal.Decimal `json:"totalEarnings" bson:"totalEarnings"`
	LastAccruedPeriod string          `json:"lastAccruedPeriod,omitempty" bson:"lastAccruedPeriod,omitempty"`
	TxHash            string          `json:"txHash,omitempty" bson:"txHash,omitempty"`
	FailureReason     string          `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	ConfirmedAt       *time.Time      `json:"confirmedAt,omitempty" bson:"confirmedAt,omitempty"`
	ActivatedAt       *time.Time      `json:"activatedAt,omitempty" bson:"activatedAt,omitempty"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// EligibleFor reports whether the deposit may accrue for period. A deposit activated after
// period cannot accrue for it.
func (d *Deposit) EligibleFor(period string) bool {
	if d.State != DepositActive || d.MonthsActive >= MaxAccrualPeriods || d.LastAccruedPeriod == period {
		return false
	}
	return d.ActivatedAt == nil || utils.FormatPeriod(*d.ActivatedAt) <= period
}

// EarningsCap is the most the deposit may accrue over its life.
func (d *Deposit) EarningsCap() decimal.Decimal {
	return d.Amount.Mul(MaxAccrualMultiple())
}

// AccrualShare is the deposit's income for its next period: round(amount * AccrualRate),
// never more than what is left under EarningsCap. The last period books the remainder, so a
// deposit that completes has earned exactly EarningsCap.
func (d *Deposit) AccrualShare() decimal.Decimal {
	headroom := d.EarningsCap().Sub(d.TotalEarnings)
	if !headroom.IsPositive() {
		return decimal.Zero
	}
	if d.MonthsActive+1 >= MaxAccrualPeriods {
		return headroom
	}
	return decimal.Min(utils.ApplyRate(d.Amount, AccrualRate), headroom)
}

// PrincipalReference is the idempotency key of the PRINCIPAL credit made on confirmation.
func (d *Deposit) PrincipalReference() string {
	return "principal:" + d.ID
}

// DepositFilter selects deposits. Empty fields are ignored.
type DepositFilter struct {
	UserID string
	State  DepositState
}
