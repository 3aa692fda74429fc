package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/models"
)

// Transactor runs fn as one atomic unit. Store calls made with the ctx passed to fn join the
// unit; a nested call joins the outer unit.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type GenealogyStore interface {
	InsertNode(ctx context.Context, node *models.GenealogyNode) error
	FindNode(ctx context.Context, userID string) (*models.GenealogyNode, error)
	FindNodeByReferralCode(ctx context.Context, code string) (*models.GenealogyNode, error)
	AddDirectReferral(ctx context.Context, parentUserID, childUserID string, at time.Time) (bool, error)
	ApplyTeamDelta(ctx context.Context, userID string, delta models.TeamDelta, at time.Time) error
	MarkActivated(ctx context.Context, userID string, at time.Time) (bool, error)
	ArchiveNode(ctx context.Context, userID string, at time.Time) error
	ListChildren(ctx context.Context, parentUserID string) ([]models.GenealogyNode, error)
	TeamStatistics(ctx context.Context) ([]models.LevelStatistics, error)
}

type LedgerStore interface {
	InitAccount(ctx context.Context, userID string, at time.Time) error
	FindEntry(ctx context.Context, userID string, bucket models.Bucket) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error)
	IncrementBalance(ctx context.Context, userID string, bucket models.Bucket, delta decimal.Decimal, at time.Time) (*models.LedgerEntry, error)
	FindTransaction(ctx context.Context, reference string) (*models.LedgerTransaction, error)
	InsertTransaction(ctx context.Context, tx *models.LedgerTransaction) error
	ListTransactions(ctx context.Context, userID string, limit int64) ([]models.LedgerTransaction, error)
}

type CommissionStore interface {
	InsertBatch(ctx context.Context, batch *models.CommissionBatch) error
	FindBatch(ctx context.Context, batchID string) (*models.CommissionBatch, error)
	FindBatchByDeposit(ctx context.Context, depositID string) (*models.CommissionBatch, error)
	MarkLegApplied(ctx context.Context, batchID, userID string) error
	MarkBatchDistributed(ctx context.Context, batchID string, at time.Time) error
	UpsertRecord(ctx context.Context, rec *models.CommissionRecord) (*models.CommissionRecord, bool, error)
	FindRecord(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error)
	ListRecords(ctx context.Context, filter models.CommissionFilter) ([]models.CommissionRecord, error)
	TransitionRecord(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, to models.CommissionStatus, at time.Time, reason string) (*models.CommissionRecord, error)
	TransitionBatchRecords(ctx context.Context, batchID string, from, to models.CommissionStatus, at time.Time) (int64, error)
}

type AccrualStore interface {
	InsertAccrual(ctx context.Context, rec *models.AccrualRecord) error
	FindAccrual(ctx context.Context, id primitive.ObjectID) (*models.AccrualRecord, error)
	FindAccrualByUserPeriod(ctx context.Context, userID, period string) (*models.AccrualRecord, error)
	ReopenFailedAccrual(ctx context.Context, rec *models.AccrualRecord) (*models.AccrualRecord, error)
	TransitionAccrual(ctx context.Context, id primitive.ObjectID, from []models.AccrualStatus, to models.AccrualStatus, at time.Time, reason string) (*models.AccrualRecord, error)
	ListAccruals(ctx context.Context, filter models.AccrualFilter) ([]models.AccrualRecord, error)
}

type DepositStore interface {
	InsertDeposit(ctx context.Context, d *models.Deposit) error
	FindDeposit(ctx context.Context, id string) (*models.Deposit, error)
	ListDeposits(ctx context.Context, filter models.DepositFilter) ([]models.Deposit, error)
	ListEligibleDeposits(ctx context.Context, period string, maxPeriods int) ([]models.Deposit, error)
	TransitionDeposit(ctx context.Context, id string, from []models.DepositState, to models.DepositState, at time.Time, reason string) (*models.Deposit, error)
	AdvanceAccrual(ctx context.Context, id, period string, share decimal.Decimal, maxPeriods int, at time.Time) (*models.Deposit, error)
}

type WithdrawalStore interface {
	InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error
	FindWithdrawal(ctx context.Context, id primitive.ObjectID) (*models.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id primitive.ObjectID, to models.WithdrawalStatus, at time.Time, note string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID string, status models.WithdrawalStatus) ([]models.Withdrawal, error)
}
