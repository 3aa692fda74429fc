package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HSouheill/mlm_ledger/models"
)

func (s *Store) InsertDeposit(ctx context.Context, d *models.Deposit) error {
	defer s.lock(ctx)()
	if _, ok := s.state.deposits[d.ID]; ok {
		return fmt.Errorf("insert deposit %s: %w", d.ID, models.ErrDuplicate)
	}
	s.state.deposits[d.ID] = *d
	return nil
}

func (s *Store) FindDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	defer s.lock(ctx)()
	d, ok := s.state.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, models.ErrNotFound)
	}
	return &d, nil
}

func (s *Store) ListDeposits(ctx context.Context, f models.DepositFilter) ([]models.Deposit, error) {
	defer s.lock(ctx)()

	deposits := []models.Deposit{}
	for _, d := range s.state.deposits {
		if (f.UserID != "" && d.UserID != f.UserID) || (f.State != "" && d.State != f.State) {
			continue
		}
		deposits = append(deposits, d)
	}
	sort.SliceStable(deposits, func(i, j int) bool {
		if !deposits[i].CreatedAt.Equal(deposits[j].CreatedAt) {
			return deposits[i].CreatedAt.After(deposits[j].CreatedAt)
		}
		return deposits[i].ID < deposits[j].ID
	})
	return deposits, nil
}

func (s *Store) ListEligibleDeposits(ctx context.Context, period string, maxPeriods int) ([]models.Deposit, error) {
	defer s.lock(ctx)()

	deposits := []models.Deposit{}
	for _, d := range s.state.deposits {
		if d.State == models.DepositActive && d.MonthsActive < maxPeriods && d.LastAccruedPeriod != period {
			deposits = append(deposits, d)
		}
	}
	sort.SliceStable(deposits, func(i, j int) bool {
		a, b := deposits[i], deposits[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return deposits, nil
}

func (s *Store) TransitionDeposit(ctx context.Context, id string, from []models.DepositState, to models.DepositState, at time.Time, reason string) (*models.Deposit, error) {
	defer s.lock(ctx)()
	return s.transitionDepositLocked(id, from, to, at, reason)
}

func (s *Store) transitionDepositLocked(id string, from []models.DepositState, to models.DepositState, at time.Time, reason string) (*models.Deposit, error) {
	d, ok := s.state.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, models.ErrNotFound)
	}
	if !containsStatus(from, d.State) {
		return nil, fmt.Errorf("%w: deposit %s is %s, cannot move to %s", models.ErrInvalidTransition, id, d.State, to)
	}
	d.State = to
	d.UpdatedAt = at
	switch to {
	case models.DepositConfirmed:
		d.ConfirmedAt = &at
	case models.DepositActive:
		d.ActivatedAt = &at
	case models.DepositCompleted:
		d.CompletedAt = &at
	case models.DepositFailed:
		d.FailureReason = reason
	}
	s.state.deposits[id] = d
	return &d, nil
}

func (s *Store) AdvanceAccrual(ctx context.Context, id, period string, share decimal.Decimal, maxPeriods int, at time.Time) (*models.Deposit, error) {
	defer s.lock(ctx)()

	d, ok := s.state.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, models.ErrNotFound)
	}
	if d.State != models.DepositActive || d.MonthsActive >= maxPeriods || d.LastAccruedPeriod == period {
		return nil, fmt.Errorf("deposit %s for %s: %w", id, period, models.ErrNotEligible)
	}
	if headroom := d.EarningsCap().Sub(d.TotalEarnings); share.GreaterThan(headroom) {
		share = decimal.Max(headroom, decimal.Zero)
	}
	d.MonthsActive++
	d.TotalEarnings = d.TotalEarnings.Add(share)
	d.LastAccruedPeriod = period
	d.UpdatedAt = at
	s.state.deposits[id] = d

	if d.MonthsActive >= maxPeriods {
		return s.transitionDepositLocked(id, []models.DepositState{models.DepositActive}, models.DepositCompleted, at, "")
	}
	return &d, nil
}
