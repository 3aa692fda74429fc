package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/HSouheill/mlm_ledger/models"
	"github.com/HSouheill/mlm_ledger/utils"
)

const referralCodeAttempts = 3

// GenealogyService maintains the referral tree. The ancestor cache of a node is derived once,
// when the node is created, and is never recomputed from the live tree.
type GenealogyService struct {
	store  GenealogyStore
	ledger *LedgerService
	deps   Deps
	log    logrus.FieldLogger
}

func NewGenealogyService(store GenealogyStore, ledger *LedgerService, deps Deps) *GenealogyService {
	deps = deps.withDefaults()
	return &GenealogyService{
		store:  store,
		ledger: ledger,
		deps:   deps,
		log:    deps.Logger.WithField("component", "genealogy"),
	}
}

// CreateRoot inserts a level 0 node. It fails with models.ErrDuplicate if userID has a node.
func (s *GenealogyService) CreateRoot(ctx context.Context, userID string) (*models.GenealogyNode, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()
	return s.insert(ctx, userID, func(code string) (*models.GenealogyNode, error) {
		return models.NewRootNode(userID, code, now), nil
	})
}

// CreateChild inserts userID under parent, deriving level, path and the ancestor snapshot.
// Parents at the maximum depth are rejected with models.ErrDepthExceeded.
func (s *GenealogyService) CreateChild(ctx context.Context, userID string, parent *models.GenealogyNode) (*models.GenealogyNode, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent node is required", models.ErrValidation)
	}
	now := s.deps.now()
	return s.insert(ctx, userID, func(code string) (*models.GenealogyNode, error) {
		return models.NewChildNode(userID, code, parent, now)
	})
}

func (s *GenealogyService) insert(ctx context.Context, userID string, build func(code string) (*models.GenealogyNode, error)) (*models.GenealogyNode, error) {
	if _, err := s.store.FindNode(ctx, userID); err == nil {
		return nil, fmt.Errorf("genealogy node %s: %w", userID, models.ErrDuplicate)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := utils.GenerateReferralCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}
		// a taken code is skipped without a failed write, which would abort a transaction
		if _, err := s.store.FindNodeByReferralCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}

		node, err := build(code)
		if err != nil {
			return nil, err
		}
		if err := s.store.InsertNode(ctx, node); err != nil {
			return nil, err
		}
		return node, nil
	}
	return nil, fmt.Errorf("could not allocate a referral code for %s: %w", userID, models.ErrDuplicate)
}

// AddDirectReferral records childUserID under parentUserID. The parent's team size grows only
// on the first call for the pair.
func (s *GenealogyService) AddDirectReferral(ctx context.Context, parentUserID, childUserID string) (bool, error) {
	parentUserID, err := validateID("parentUserId", parentUserID)
	if err != nil {
		return false, err
	}
	childUserID, err = validateID("childUserId", childUserID)
	if err != nil {
		return false, err
	}
	return s.store.AddDirectReferral(ctx, parentUserID, childUserID, s.deps.now())
}

// ApplyTeamDelta atomically adds the deltas to the node's aggregates.
func (s *GenealogyService) ApplyTeamDelta(ctx context.Context, userID string, volumeDelta decimal.Decimal, teamSizeDelta int64, commissionDelta decimal.Decimal) error {
	userID, err := validateID("userId", userID)
	if err != nil {
		return err
	}
	delta := models.TeamDelta{
		Volume:     utils.RoundMoney(volumeDelta),
		TeamSize:   teamSizeDelta,
		Commission: utils.RoundMoney(commissionDelta),
	}
	return s.store.ApplyTeamDelta(ctx, userID, delta, s.deps.now())
}

// GetAncestors returns the cached upline, level 1 first, in one read.
func (s *GenealogyService) GetAncestors(ctx context.Context, userID string) ([]models.Ancestor, error) {
	node, err := s.GetNode(ctx, userID)
	if err != nil {
		return nil, err
	}
	return node.Ancestors.List(), nil
}

func (s *GenealogyService) GetNode(ctx context.Context, userID string) (*models.GenealogyNode, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	return s.store.FindNode(ctx, userID)
}

func (s *GenealogyService) ListDirectReferrals(ctx context.Context, userID string) ([]models.GenealogyNode, error) {
	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindNode(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListChildren(ctx, userID)
}

// Archive soft-archives a node. Its position in the tree and the caches of its downline stay.
func (s *GenealogyService) Archive(ctx context.Context, userID string) error {
	userID, err := validateID("userId", userID)
	if err != nil {
		return err
	}
	return s.store.ArchiveNode(ctx, userID, s.deps.now())
}

// Onboard places a new member: under the owner of referralCode when given, as a root
// otherwise. The member's ledger buckets are created in the same transaction.
func (s *GenealogyService) Onboard(ctx context.Context, userID, referralCode string) (*models.GenealogyNode, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	userID, err := validateID("userId", userID)
	if err != nil {
		return nil, err
	}
	referralCode = utils.NormalizeReferralCode(referralCode)
	if referralCode != "" && !utils.IsReferralCode(referralCode) {
		return nil, fmt.Errorf("%w: malformed referral code %q", models.ErrValidation, referralCode)
	}

	var node *models.GenealogyNode
	err = s.deps.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if referralCode == "" {
			if node, err = s.CreateRoot(ctx, userID); err != nil {
				return err
			}
		} else {
			parent, err := s.store.FindNodeByReferralCode(ctx, referralCode)
			if err != nil {
				return err
			}
			if parent.ArchivedAt != nil {
				return fmt.Errorf("%w: referrer %s is archived", models.ErrValidation, parent.UserID)
			}
			if node, err = s.CreateChild(ctx, userID, parent); err != nil {
				return err
			}
			if _, err := s.store.AddDirectReferral(ctx, parent.UserID, userID, node.CreatedAt); err != nil {
				return err
			}
		}
		if s.ledger != nil {
			return s.ledger.InitAccount(ctx, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"userId":   node.UserID,
		"parentId": node.ParentUserID,
		"level":    node.Level,
	}).Info("member onboarded")
	s.deps.Audit.Record(ctx, models.AuditEvent{
		Type:   models.AuditNodeCreated,
		UserID: node.UserID,
		Data:   map[string]any{"parentUserId": node.ParentUserID, "level": node.Level, "referralCode": node.ReferralCode},
		At:     node.CreatedAt,
	})
	return node, nil
}

// VerifyNode re-checks a node's level, path and ancestor cache against its parent.
func (s *GenealogyService) VerifyNode(ctx context.Context, userID string) error {
	node, err := s.GetNode(ctx, userID)
	if err != nil {
		return err
	}
	if err := node.Validate(); err != nil {
		return err
	}
	if node.IsRoot() {
		return nil
	}
	parent, err := s.store.FindNode(ctx, node.ParentUserID)
	if err != nil {
		return fmt.Errorf("%w: parent of %s: %v", models.ErrInvariantViolation, userID, err)
	}
	return node.ValidateAgainstParent(parent)
}
