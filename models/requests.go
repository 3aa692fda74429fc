package models

import "github.com/shopspring/decimal"

// OnboardRequest places a new user in the genealogy under the owner of ReferralCode.
// An empty ReferralCode creates a root.
type OnboardRequest struct {
	UserID       string `json:"userId" validate:"required,max=128"`
	ReferralCode string `json:"referralCode" validate:"omitempty,max=32"`
}

// RegisterDepositRequest records a deposit awaiting chain confirmation.
type RegisterDepositRequest struct {
	UserID    string          `json:"userId" validate:"required,max=128"`
	DepositID string          `json:"depositId" validate:"omitempty,max=128"`
	Amount    decimal.Decimal `json:"amount"`
	TxHash    string          `json:"txHash" validate:"omitempty,max=128"`
}

// ReasonRequest carries the operator's reason for a cancel or failure.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

// PeriodRequest names an accrual period (YYYY-MM).
type PeriodRequest struct {
	Period string `json:"period" validate:"required,len=7"`
}
