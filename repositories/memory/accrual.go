package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/models"
)

func copyAccrual(r models.AccrualRecord) *models.AccrualRecord {
	r.SourceDepositIDs = append([]string{}, r.SourceDepositIDs...)
	return &r
}

func (s *Store) InsertAccrual(ctx context.Context, rec *models.AccrualRecord) error {
	defer s.lock(ctx)()
	key := periodKey{userID: rec.UserID, period: rec.Period}
	if _, ok := s.state.accrualKeys[key]; ok {
		return fmt.Errorf("insert accrual %s/%s: %w", rec.UserID, rec.Period, models.ErrDuplicate)
	}
	s.state.accruals[rec.ID] = *copyAccrual(*rec)
	s.state.accrualKeys[key] = rec.ID
	return nil
}

func (s *Store) FindAccrual(ctx context.Context, id primitive.ObjectID) (*models.AccrualRecord, error) {
	defer s.lock(ctx)()
	rec, ok := s.state.accruals[id]
	if !ok {
		return nil, fmt.Errorf("accrual record %s: %w", id.Hex(), models.ErrNotFound)
	}
	return copyAccrual(rec), nil
}

func (s *Store) FindAccrualByUserPeriod(ctx context.Context, userID, period string) (*models.AccrualRecord, error) {
	defer s.lock(ctx)()
	id, ok := s.state.accrualKeys[periodKey{userID: userID, period: period}]
	if !ok {
		return nil, fmt.Errorf("accrual %s/%s: %w", userID, period, models.ErrNotFound)
	}
	return copyAccrual(s.state.accruals[id]), nil
}

func (s *Store) ReopenFailedAccrual(ctx context.Context, rec *models.AccrualRecord) (*models.AccrualRecord, error) {
	defer s.lock(ctx)()
	stored, ok := s.state.accruals[rec.ID]
	if !ok {
		return nil, fmt.Errorf("accrual record %s: %w", rec.ID.Hex(), models.ErrNotFound)
	}
	if stored.Status != models.AccrualFailed {
		return nil, fmt.Errorf("%w: accrual %s is %s, cannot move to %s", models.ErrInvalidTransition, rec.ID.Hex(), stored.Status, models.AccrualPending)
	}
	stored.Status = models.AccrualPending
	stored.BaseAmount = rec.BaseAmount
	stored.Rate = rec.Rate
	stored.AccrualAmount = rec.AccrualAmount
	stored.BatchID = rec.BatchID
	stored.SourceDepositIDs = append([]string{}, rec.SourceDepositIDs...)
	stored.FailureReason = ""
	stored.UpdatedAt = rec.UpdatedAt
	s.state.accruals[rec.ID] = stored
	return copyAccrual(stored), nil
}

func (s *Store) TransitionAccrual(ctx context.Context, id primitive.ObjectID, from []models.AccrualStatus, to models.AccrualStatus, at time.Time, reason string) (*models.AccrualRecord, error) {
	defer s.lock(ctx)()
	rec, ok := s.state.accruals[id]
	if !ok {
		return nil, fmt.Errorf("accrual record %s: %w", id.Hex(), models.ErrNotFound)
	}
	if !containsStatus(from, rec.Status) {
		return nil, fmt.Errorf("%w: accrual %s is %s, cannot move to %s", models.ErrInvalidTransition, id.Hex(), rec.Status, to)
	}
	rec.Status = to
	rec.UpdatedAt = at
	switch to {
	case models.AccrualProcessing:
		rec.Attempts++
	case models.AccrualCompleted:
		rec.ProcessedAt = &at
	case models.AccrualFailed, models.AccrualCancelled:
		if reason != "" {
			rec.FailureReason = reason
		}
	}
	s.state.accruals[id] = rec
	return copyAccrual(rec), nil
}

func (s *Store) ListAccruals(ctx context.Context, f models.AccrualFilter) ([]models.AccrualRecord, error) {
	defer s.lock(ctx)()

	records := []models.AccrualRecord{}
	for _, rec := range s.state.accruals {
		switch {
		case f.UserID != "" && rec.UserID != f.UserID,
			f.Period != "" && rec.Period != f.Period,
			f.BatchID != "" && rec.BatchID != f.BatchID,
			f.Status != "" && rec.Status != f.Status:
			continue
		}
		records = append(records, *copyAccrual(rec))
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Period != records[j].Period {
			return records[i].Period > records[j].Period
		}
		return records[i].UserID < records[j].UserID
	})
	return records, nil
}
