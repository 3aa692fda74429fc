package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HSouheill/mlm_ledger/models"
)

func copyNode(n models.GenealogyNode) *models.GenealogyNode {
	n.DirectReferrals = append([]string{}, n.DirectReferrals...)
	return &n
}

func (s *Store) InsertNode(ctx context.Context, node *models.GenealogyNode) error {
	if err := node.Validate(); err != nil {
		return err
	}
	defer s.lock(ctx)()

	if _, exists := s.state.nodes[node.UserID]; exists {
		return fmt.Errorf("insert genealogy node %s: %w", node.UserID, models.ErrDuplicate)
	}
	if node.ReferralCode != "" {
		if _, taken := s.state.codes[node.ReferralCode]; taken {
			return fmt.Errorf("insert genealogy node %s: referral code %s: %w", node.UserID, node.ReferralCode, models.ErrDuplicate)
		}
		s.state.codes[node.ReferralCode] = node.UserID
	}
	s.state.nodes[node.UserID] = *copyNode(*node)
	return nil
}

func (s *Store) FindNode(ctx context.Context, userID string) (*models.GenealogyNode, error) {
	defer s.lock(ctx)()
	n, ok := s.state.nodes[userID]
	if !ok {
		return nil, fmt.Errorf("genealogy node %s: %w", userID, models.ErrNotFound)
	}
	return copyNode(n), nil
}

func (s *Store) FindNodeByReferralCode(ctx context.Context, code string) (*models.GenealogyNode, error) {
	defer s.lock(ctx)()
	userID, ok := s.state.codes[code]
	if !ok {
		return nil, fmt.Errorf("referral code %s: %w", code, models.ErrNotFound)
	}
	return copyNode(s.state.nodes[userID]), nil
}

func (s *Store) AddDirectReferral(ctx context.Context, parentUserID, childUserID string, at time.Time) (bool, error) {
	if parentUserID == childUserID {
		return false, fmt.Errorf("%w: %s cannot refer itself", models.ErrInvariantViolation, parentUserID)
	}
	defer s.lock(ctx)()

	n, ok := s.state.nodes[parentUserID]
	if !ok {
		return false, fmt.Errorf("genealogy node %s: %w", parentUserID, models.ErrNotFound)
	}
	if n.HasDirectReferral(childUserID) {
		return false, nil
	}
	n.DirectReferrals = append(append([]string{}, n.DirectReferrals...), childUserID)
	n.TotalTeamSize++
	n.UpdatedAt = at
	s.state.nodes[parentUserID] = n
	return true, nil
}

func (s *Store) ApplyTeamDelta(ctx context.Context, userID string, delta models.TeamDelta, at time.Time) error {
	if delta.IsZero() {
		return nil
	}
	defer s.lock(ctx)()

	n, ok := s.state.nodes[userID]
	if !ok {
		return fmt.Errorf("genealogy node %s: %w", userID, models.ErrNotFound)
	}
	volume := n.TotalTeamVolume.Add(delta.Volume)
	size := n.TotalTeamSize + delta.TeamSize
	commission := n.CommissionEarned.Add(delta.Commission)
	if volume.IsNegative() || size < 0 || commission.IsNegative() {
		return fmt.Errorf("%w: team delta would drive %s statistics negative", models.ErrInvariantViolation, userID)
	}
	n.TotalTeamVolume = volume
	n.TotalTeamSize = size
	n.CommissionEarned = commission
	n.UpdatedAt = at
	s.state.nodes[userID] = n
	return nil
}

func (s *Store) MarkActivated(ctx context.Context, userID string, at time.Time) (bool, error) {
	defer s.lock(ctx)()

	n, ok := s.state.nodes[userID]
	if !ok {
		return false, fmt.Errorf("genealogy node %s: %w", userID, models.ErrNotFound)
	}
	if n.ActivatedAt != nil {
		return false, nil
	}
	n.ActivatedAt = &at
	n.UpdatedAt = at
	s.state.nodes[userID] = n
	return true, nil
}

func (s *Store) ArchiveNode(ctx context.Context, userID string, at time.Time) error {
	defer s.lock(ctx)()

	n, ok := s.state.nodes[userID]
	if !ok {
		return fmt.Errorf("genealogy node %s: %w", userID, models.ErrNotFound)
	}
	if n.ArchivedAt != nil {
		return nil
	}
	n.ArchivedAt = &at
	n.UpdatedAt = at
	s.state.nodes[userID] = n
	return nil
}

func (s *Store) ListChildren(ctx context.Context, parentUserID string) ([]models.GenealogyNode, error) {
	defer s.lock(ctx)()

	children := []models.GenealogyNode{}
	for _, n := range s.state.nodes {
		if n.ParentUserID == parentUserID && parentUserID != "" {
			children = append(children, *copyNode(n))
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		if children[i].CreatedAt.Equal(children[j].CreatedAt) {
			return children[i].UserID < children[j].UserID
		}
		return children[i].CreatedAt.Before(children[j].CreatedAt)
	})
	return children, nil
}

func (s *Store) TeamStatistics(ctx context.Context) ([]models.LevelStatistics, error) {
	defer s.lock(ctx)()

	byLevel := map[int]*models.LevelStatistics{}
	for _, n := range s.state.nodes {
		l, ok := byLevel[n.Level]
		if !ok {
			l = &models.LevelStatistics{Level: n.Level, TeamVolume: decimal.Zero, CommissionEarned: decimal.Zero}
			byLevel[n.Level] = l
		}
		l.Members++
		if n.ActivatedAt != nil {
			l.ActivatedMembers++
		}
		l.TeamVolume = l.TeamVolume.Add(n.TotalTeamVolume)
		l.CommissionEarned = l.CommissionEarned.Add(n.CommissionEarned)
	}

	levels := make([]models.LevelStatistics, 0, len(byLevel))
	for _, l := range byLevel {
		levels = append(levels, *l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
	return levels, nil
}
