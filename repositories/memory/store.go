// Package memory is an in-process implementation of the ledger stores. It mirrors the MongoDB
// repositories, including conditional updates and unique keys, and is intended for tests and
// local development.
package memory

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/mlm_ledger/models"
)

type entryKey struct {
	userID string
	bucket models.Bucket
}

type legKey struct {
	depositID string
	userID    string
	level     int
}

type periodKey struct {
	userID string
	period string
}

type state struct {
	nodes          map[string]models.GenealogyNode
	codes          map[string]string
	entries        map[entryKey]models.LedgerEntry
	transactions   []models.LedgerTransaction
	references     map[string]int
	batches        map[string]models.CommissionBatch
	batchByDeposit map[string]string
	records        map[primitive.ObjectID]models.CommissionRecord
	recordKeys     map[legKey]primitive.ObjectID
	accruals       map[primitive.ObjectID]models.AccrualRecord
	accrualKeys    map[periodKey]primitive.ObjectID
	deposits       map[string]models.Deposit
	withdrawals    map[primitive.ObjectID]models.Withdrawal
}

func newState() *state {
	return &state{
		nodes:          make(map[string]models.GenealogyNode),
		codes:          make(map[string]string),
		entries:        make(map[entryKey]models.LedgerEntry),
		references:     make(map[string]int),
		batches:        make(map[string]models.CommissionBatch),
		batchByDeposit: make(map[string]string),
		records:        make(map[primitive.ObjectID]models.CommissionRecord),
		recordKeys:     make(map[legKey]primitive.ObjectID),
		accruals:       make(map[primitive.ObjectID]models.AccrualRecord),
		accrualKeys:    make(map[periodKey]primitive.ObjectID),
		deposits:       make(map[string]models.Deposit),
		withdrawals:    make(map[primitive.ObjectID]models.Withdrawal),
	}
}

// clone copies every index. Values are copied by value; slices inside them are only ever
// replaced, never written in place, so sharing their backing arrays is safe.
func (st *state) clone() *state {
	c := &state{
		nodes:          make(map[string]models.GenealogyNode, len(st.nodes)),
		codes:          make(map[string]string, len(st.codes)),
		entries:        make(map[entryKey]models.LedgerEntry, len(st.entries)),
		transactions:   append([]models.LedgerTransaction(nil), st.transactions...),
		references:     make(map[string]int, len(st.references)),
		batches:        make(map[string]models.CommissionBatch, len(st.batches)),
		batchByDeposit: make(map[string]string, len(st.batchByDeposit)),
		records:        make(map[primitive.ObjectID]models.CommissionRecord, len(st.records)),
		recordKeys:     make(map[legKey]primitive.ObjectID, len(st.recordKeys)),
		accruals:       make(map[primitive.ObjectID]models.AccrualRecord, len(st.accruals)),
		accrualKeys:    make(map[periodKey]primitive.ObjectID, len(st.accrualKeys)),
		deposits:       make(map[string]models.Deposit, len(st.deposits)),
		withdrawals:    make(map[primitive.ObjectID]models.Withdrawal, len(st.withdrawals)),
	}
	for k, v := range st.nodes {
		c.nodes[k] = v
	}
	for k, v := range st.codes {
		c.codes[k] = v
	}
	for k, v := range st.entries {
		c.entries[k] = v
	}
	for k, v := range st.references {
		c.references[k] = v
	}
	for k, v := range st.batches {
		c.batches[k] = v
	}
	for k, v := range st.batchByDeposit {
		c.batchByDeposit[k] = v
	}
	for k, v := range st.records {
		c.records[k] = v
	}
	for k, v := range st.recordKeys {
		c.recordKeys[k] = v
	}
	for k, v := range st.accruals {
		c.accruals[k] = v
	}
	for k, v := range st.accrualKeys {
		c.accrualKeys[k] = v
	}
	for k, v := range st.deposits {
		c.deposits[k] = v
	}
	for k, v := range st.withdrawals {
		c.withdrawals[k] = v
	}
	return c
}

// Store keeps every collection behind one mutex. A transaction holds the mutex for its whole
// duration, so units are serializable.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

type txKey struct{}

func (s *Store) inTransaction(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store mutex unless ctx belongs to a running transaction, which already
// holds it.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTransaction(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTransaction runs fn with exclusive access. Every write made through the ctx passed to fn
// is discarded when fn returns an error.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTransaction(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}
