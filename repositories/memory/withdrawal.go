package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/models"
)

func (s *Store) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	defer s.lock(ctx)()
	if _, ok := s.state.withdrawals[w.ID]; ok {
		return fmt.Errorf("insert withdrawal %s: %w", w.ID.Hex(), models.ErrDuplicate)
	}
	s.state.withdrawals[w.ID] = *w
	return nil
}

func (s *Store) FindWithdrawal(ctx context.Context, id primitive.ObjectID) (*models.Withdrawal, error) {
	defer s.lock(ctx)()
	w, ok := s.state.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id.Hex(), models.ErrNotFound)
	}
	return &w, nil
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id primitive.ObjectID, to models.WithdrawalStatus, at time.Time, note string) (*models.Withdrawal, error) {
	defer s.lock(ctx)()
	w, ok := s.state.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id.Hex(), models.ErrNotFound)
	}
	if w.Status != models.WithdrawalPending {
		return nil, fmt.Errorf("%w: withdrawal %s is %s, cannot move to %s", models.ErrInvalidTransition, id.Hex(), w.Status, to)
	}
	w.Status = to
	w.ProcessedAt = &at
	if note != "" {
		if to == models.WithdrawalRejected {
			w.RejectionReason = note
		} else {
			w.AdminNote = note
		}
	}
	s.state.withdrawals[id] = w
	return &w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, userID string, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	defer s.lock(ctx)()
	withdrawals := []models.Withdrawal{}
	for _, w := range s.state.withdrawals {
		if (userID != "" && w.UserID != userID) || (status != "" && w.Status != status) {
			continue
		}
		withdrawals = append(withdrawals, w)
	}
	sort.SliceStable(withdrawals, func(i, j int) bool {
		return withdrawals[i].CreatedAt.After(withdrawals[j].CreatedAt)
	})
	return withdrawals, nil
}
