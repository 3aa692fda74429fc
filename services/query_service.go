package services

import (
	"context"
	"fmt"

	"github.com/HSouheill/mlm_ledger/models"
)

// GenealogyView is a node with its cached upline and direct referrals.
type GenealogyView struct {
	Node            *models.GenealogyNode  `json:"node"`
	Ancestors       []models.Ancestor      `json:"ancestors"`
	DirectReferrals []models.GenealogyNode `json:"directReferrals"`
}

// QueryService is the read-only surface served to dashboards.
type QueryService struct {
	genealogy   *GenealogyService
	ledger      *LedgerService
	commissions CommissionStore
	accruals    AccrualStore
	deposits    DepositStore
	stats       GenealogyStore
}

func NewQueryService(genealogy *GenealogyService, ledger *LedgerService, commissions CommissionStore, accruals AccrualStore, deposits DepositStore, stats GenealogyStore) *QueryService {
	return &QueryService{
		genealogy:   genealogy,
		ledger:      ledger,
		commissions: commissions,
		accruals:    accruals,
		deposits:    deposits,
		stats:       stats,
	}
}

func (q *QueryService) GetGenealogy(ctx context.Context, userID string) (*GenealogyView, error) {
	node, err := q.genealogy.GetNode(ctx, userID)
	if err != nil {
		return nil, err
	}
	children, err := q.genealogy.ListDirectReferrals(ctx, node.UserID)
	if err != nil {
		return nil, err
	}
	return &GenealogyView{Node: node, Ancestors: node.Ancestors.List(), DirectReferrals: children}, nil
}

func (q *QueryService) GetLedgerSummary(ctx context.Context, userID string) (*models.LedgerSummary, error) {
	return q.ledger.GetSummary(ctx, userID)
}

func (q *QueryService) GetLedgerTransactions(ctx context.Context, userID string, limit int64) ([]models.LedgerTransaction, error) {
	return q.ledger.ListTransactions(ctx, userID, limit)
}

// GetCommissionHistory lists the commissions received by userID, optionally by status.
func (q *QueryService) GetCommissionHistory(ctx context.Context, userID string, status models.CommissionStatus) ([]models.CommissionRecord, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown commission status %q", models.ErrValidation, status)
	}
	return q.commissions.ListRecords(ctx, models.CommissionFilter{RecipientUserID: userID, Status: status})
}

func (q *QueryService) GetAccrualHistory(ctx context.Context, userID string) ([]models.AccrualRecord, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	return q.accruals.ListAccruals(ctx, models.AccrualFilter{UserID: userID})
}

func (q *QueryService) GetDeposits(ctx context.Context, userID string) ([]models.Deposit, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	return q.deposits.ListDeposits(ctx, models.DepositFilter{UserID: userID})
}

func (q *QueryService) GetTeamStatistics(ctx context.Context) (*models.TeamStatistics, error) {
	levels, err := q.stats.TeamStatistics(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewTeamStatistics(levels), nil
}
