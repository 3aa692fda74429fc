package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HSouheill/mlm_ledger/models"
)

func (s *Store) InitAccount(ctx context.Context, userID string, at time.Time) error {
	defer s.lock(ctx)()
	for _, bucket := range models.StoredBuckets {
		key := entryKey{userID: userID, bucket: bucket}
		if _, ok := s.state.entries[key]; !ok {
			s.state.entries[key] = *models.NewLedgerEntry(userID, bucket, at)
		}
	}
	return nil
}

func (s *Store) FindEntry(ctx context.Context, userID string, bucket models.Bucket) (*models.LedgerEntry, error) {
	defer s.lock(ctx)()
	e, ok := s.state.entries[entryKey{userID: userID, bucket: bucket}]
	if !ok {
		return nil, fmt.Errorf("ledger entry %s/%s: %w", userID, bucket, models.ErrNotFound)
	}
	return &e, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	defer s.lock(ctx)()
	entries := []models.LedgerEntry{}
	for _, bucket := range models.StoredBuckets {
		if e, ok := s.state.entries[entryKey{userID: userID, bucket: bucket}]; ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) IncrementBalance(ctx context.Context, userID string, bucket models.Bucket, delta decimal.Decimal, at time.Time) (*models.LedgerEntry, error) {
	defer s.lock(ctx)()

	key := entryKey{userID: userID, bucket: bucket}
	e, ok := s.state.entries[key]
	if delta.IsNegative() {
		if !ok {
			return nil, fmt.Errorf("ledger entry %s/%s: %w", userID, bucket, models.ErrNotFound)
		}
		if e.Balance.LessThan(delta.Neg()) {
			return nil, fmt.Errorf("%w: %s/%s cannot cover %s", models.ErrInsufficientBalance, userID, bucket, delta.Neg())
		}
		e.LifetimeDebits = e.LifetimeDebits.Add(delta.Neg())
	} else {
		if !ok {
			e = *models.NewLedgerEntry(userID, bucket, at)
		}
		e.LifetimeCredits = e.LifetimeCredits.Add(delta)
	}
	e.Balance = e.Balance.Add(delta)
	stamp := at
	e.LastTransactionAt = &stamp
	e.UpdatedAt = at
	s.state.entries[key] = e
	return &e, nil
}

func (s *Store) FindTransaction(ctx context.Context, reference string) (*models.LedgerTransaction, error) {
	defer s.lock(ctx)()
	i, ok := s.state.references[reference]
	if !ok {
		return nil, fmt.Errorf("ledger transaction %s: %w", reference, models.ErrNotFound)
	}
	tx := s.state.transactions[i]
	return &tx, nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx *models.LedgerTransaction) error {
	defer s.lock(ctx)()
	if _, ok := s.state.references[tx.Reference]; ok {
		return fmt.Errorf("insert ledger transaction %s: %w", tx.Reference, models.ErrDuplicate)
	}
	s.state.references[tx.Reference] = len(s.state.transactions)
	s.state.transactions = append(s.state.transactions, *tx)
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int64) ([]models.LedgerTransaction, error) {
	defer s.lock(ctx)()

	txs := []models.LedgerTransaction{}
	for i := len(s.state.transactions) - 1; i >= 0; i-- {
		if s.state.transactions[i].UserID == userID {
			txs = append(txs, s.state.transactions[i])
		}
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	if limit > 0 && int64(len(txs)) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}
