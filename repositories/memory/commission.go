package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/models"
)

func copyBatch(b models.CommissionBatch) *models.CommissionBatch {
	b.Upline = append([]models.Ancestor{}, b.Upline...)
	b.AppliedLegs = append([]string{}, b.AppliedLegs...)
	return &b
}

func (s *Store) InsertBatch(ctx context.Context, batch *models.CommissionBatch) error {
	defer s.lock(ctx)()
	if _, ok := s.state.batchByDeposit[batch.SourceDepositID]; ok {
		return fmt.Errorf("insert commission batch for deposit %s: %w", batch.SourceDepositID, models.ErrDuplicate)
	}
	if _, ok := s.state.batches[batch.BatchID]; ok {
		return fmt.Errorf("insert commission batch %s: %w", batch.BatchID, models.ErrDuplicate)
	}
	s.state.batches[batch.BatchID] = *copyBatch(*batch)
	s.state.batchByDeposit[batch.SourceDepositID] = batch.BatchID
	return nil
}

func (s *Store) FindBatch(ctx context.Context, batchID string) (*models.CommissionBatch, error) {
	defer s.lock(ctx)()
	b, ok := s.state.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("commission batch %s: %w", batchID, models.ErrNotFound)
	}
	return copyBatch(b), nil
}

func (s *Store) FindBatchByDeposit(ctx context.Context, depositID string) (*models.CommissionBatch, error) {
	defer s.lock(ctx)()
	batchID, ok := s.state.batchByDeposit[depositID]
	if !ok {
		return nil, fmt.Errorf("commission batch for deposit %s: %w", depositID, models.ErrNotFound)
	}
	return copyBatch(s.state.batches[batchID]), nil
}

func (s *Store) MarkLegApplied(ctx context.Context, batchID, userID string) error {
	defer s.lock(ctx)()
	b, ok := s.state.batches[batchID]
	if !ok {
		return fmt.Errorf("commission batch %s: %w", batchID, models.ErrNotFound)
	}
	if !b.HasLeg(userID) {
		b.AppliedLegs = append(append([]string{}, b.AppliedLegs...), userID)
		s.state.batches[batchID] = b
	}
	return nil
}

func (s *Store) MarkBatchDistributed(ctx context.Context, batchID string, at time.Time) error {
	defer s.lock(ctx)()
	b, ok := s.state.batches[batchID]
	if !ok {
		return fmt.Errorf("commission batch %s: %w", batchID, models.ErrNotFound)
	}
	b.Status = models.BatchDistributed
	b.CompletedAt = &at
	s.state.batches[batchID] = b
	return nil
}

func (s *Store) UpsertRecord(ctx context.Context, rec *models.CommissionRecord) (*models.CommissionRecord, bool, error) {
	defer s.lock(ctx)()
	key := legKey{depositID: rec.SourceDepositID, userID: rec.RecipientUserID, level: rec.Level}
	if id, ok := s.state.recordKeys[key]; ok {
		existing := s.state.records[id]
		return &existing, false, nil
	}
	s.state.records[rec.ID] = *rec
	s.state.recordKeys[key] = rec.ID
	stored := *rec
	return &stored, true, nil
}

func (s *Store) FindRecord(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	defer s.lock(ctx)()
	rec, ok := s.state.records[id]
	if !ok {
		return nil, fmt.Errorf("commission record %s: %w", id.Hex(), models.ErrNotFound)
	}
	return &rec, nil
}

func (s *Store) ListRecords(ctx context.Context, f models.CommissionFilter) ([]models.CommissionRecord, error) {
	defer s.lock(ctx)()

	records := []models.CommissionRecord{}
	for _, rec := range s.state.records {
		switch {
		case f.RecipientUserID != "" && rec.RecipientUserID != f.RecipientUserID,
			f.SourceUserID != "" && rec.SourceUserID != f.SourceUserID,
			f.SourceDepositID != "" && rec.SourceDepositID != f.SourceDepositID,
			f.BatchID != "" && rec.DistributionBatchID != f.BatchID,
			f.Status != "" && rec.Status != f.Status:
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		if records[i].Level != records[j].Level {
			return records[i].Level < records[j].Level
		}
		return records[i].ID.Hex() < records[j].ID.Hex()
	})
	if f.Limit > 0 && int64(len(records)) > f.Limit {
		records = records[:f.Limit]
	}
	return records, nil
}

func (s *Store) TransitionRecord(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, to models.CommissionStatus, at time.Time, reason string) (*models.CommissionRecord, error) {
	defer s.lock(ctx)()
	rec, ok := s.state.records[id]
	if !ok {
		return nil, fmt.Errorf("commission record %s: %w", id.Hex(), models.ErrNotFound)
	}
	if !containsStatus(from, rec.Status) {
		return nil, fmt.Errorf("%w: commission record %s is %s, cannot move to %s", models.ErrInvalidTransition, id.Hex(), rec.Status, to)
	}
	applyCommissionStatus(&rec, to, at, reason)
	s.state.records[id] = rec
	return &rec, nil
}

func (s *Store) TransitionBatchRecords(ctx context.Context, batchID string, from, to models.CommissionStatus, at time.Time) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for id, rec := range s.state.records {
		if rec.DistributionBatchID != batchID || rec.Status != from {
			continue
		}
		applyCommissionStatus(&rec, to, at, "")
		s.state.records[id] = rec
		n++
	}
	return n, nil
}

func applyCommissionStatus(rec *models.CommissionRecord, to models.CommissionStatus, at time.Time, reason string) {
	rec.Status = to
	rec.UpdatedAt = at
	switch to {
	case models.CommissionProcessed:
		rec.ProcessedAt = &at
	case models.CommissionPaid:
		rec.PaidAt = &at
	case models.CommissionCancelled:
		rec.CancelledAt = &at
		rec.CancelReason = reason
	case models.CommissionPending:
		rec.ProcessedAt = nil
	}
}

func containsStatus[S comparable](set []S, s S) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
