package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositConfirmedEvent is the inbound signal that triggers commission distribution.
type DepositConfirmedEvent struct {
	UserID    string          `json:"userId" validate:"required,max=128"`
	DepositID string          `json:"depositId" validate:"required,max=128"`
	Amount    decimal.Decimal `json:"amount"`
}

// PeriodElapsed is the inbound signal that triggers the accrual batch for Period (YYYY-MM).
type PeriodElapsed struct {
	Period string `json:"period" validate:"required,len=7"`
}

// Audit event types emitted to the side-effect sinks.
const (
	AuditLedgerCredit          = "ledger.credit"
	AuditLedgerDebit           = "ledger.debit"
	AuditCommissionDistributed = "commission.distributed"
	AuditCommissionCancelled   = "commission.cancelled"
	AuditAccrualCompleted      = "accrual.completed"
	AuditAccrualFailed         = "accrual.failed"
	AuditDepositConfirmed      = "deposit.confirmed"
	AuditDepositCompleted      = "deposit.completed"
	AuditNodeCreated           = "genealogy.node_created"
	AuditWithdrawalRequested   = "withdrawal.requested"
	AuditWithdrawalApproved    = "withdrawal.approved"
	AuditWithdrawalRejected    = "withdrawal.rejected"
)

// AuditEvent is one side effect reported to the audit log and dashboards.
type AuditEvent struct {
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	Reference string          `json:"reference,omitempty"`
	Bucket    Bucket          `json:"bucket,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Data      map[string]any  `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}
