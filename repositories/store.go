package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/mlm_ledger/models"
)

// Collection names.
const (
	GenealogyCollection          = "genealogy_nodes"
	CommissionRecordCollection   = "commission_records"
	CommissionBatchCollection    = "commission_batches"
	AccrualRecordCollection      = "accrual_records"
	LedgerEntryCollection        = "ledger_entries"
	LedgerTransactionsCollection = "ledger_transactions"
	DepositCollection            = "deposits"
	WithdrawalCollection         = "withdrawals"
)

// Collections lists every collection the ledger writes to.
var Collections = []string{
	GenealogyCollection,
	CommissionRecordCollection,
	CommissionBatchCollection,
	AccrualRecordCollection,
	LedgerEntryCollection,
	LedgerTransactionsCollection,
	DepositCollection,
	WithdrawalCollection,
}

// Store owns the database handle and the repositories built on it.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore binds the repositories to dbName on client. The database handle carries the
// decimal registry whatever registry the client was built with.
func NewStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName, options.Database().SetRegistry(defaultRegistry))
	return &Store{client: client, db: db}
}

func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Genealogy() *GenealogyRepository { return NewGenealogyRepository(s.db) }

func (s *Store) Ledger() *LedgerRepository { return NewLedgerRepository(s.db) }

func (s *Store) Commissions() *CommissionRepository { return NewCommissionRepository(s.db) }

func (s *Store) Accruals() *AccrualRepository { return NewAccrualRepository(s.db) }

func (s *Store) Deposits() *DepositRepository { return NewDepositRepository(s.db) }

func (s *Store) Withdrawals() *WithdrawalRepository { return NewWithdrawalRepository(s.db) }

// WithTransaction runs fn inside a multi-document transaction. Repository calls made with the
// context handed to fn join the transaction. Nested calls reuse the outer session.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(context.Background())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the unique constraints and secondary lookups every repository relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		GenealogyCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "referralCode", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "parentUserId", Value: 1}}},
			{Keys: bson.D{{Key: "level", Value: 1}}},
		},
		CommissionRecordCollection: {
			{
				Keys:    bson.D{{Key: "sourceDepositId", Value: 1}, {Key: "recipientUserId", Value: 1}, {Key: "level", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("commission_leg_unique"),
			},
			{Keys: bson.D{{Key: "recipientUserId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "sourceUserId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "distributionBatchId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		CommissionBatchCollection: {
			{Keys: bson.D{{Key: "sourceDepositId", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		AccrualRecordCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "period", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "batchId", Value: 1}}},
			{Keys: bson.D{{Key: "period", Value: 1}, {Key: "status", Value: 1}}},
		},
		LedgerEntryCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "bucket", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		LedgerTransactionsCollection: {
			{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		DepositCollection: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "monthsActive", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		WithdrawalCollection: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}

	for name, indexes := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

// Ping checks the connection with a short timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// insertOnlyFields renders v as a $setOnInsert document without the keys already fixed by
// the upsert filter.
func insertOnlyFields(v interface{}, omit ...string) (bson.M, error) {
	raw, err := bson.MarshalWithRegistry(defaultRegistry, v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	for _, key := range omit {
		delete(doc, key)
	}
	return doc, nil
}

// translateError maps driver errors onto the shared taxonomy.
func translateError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", what, models.ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
