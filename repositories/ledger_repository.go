package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/mlm_ledger/models"
)

type LedgerRepository struct {
	entries      *mongo.Collection
	transactions *mongo.Collection
}

func NewLedgerRepository(db *mongo.Database) *LedgerRepository {
	return &LedgerRepository{
		entries:      db.Collection(LedgerEntryCollection),
		transactions: db.Collection(LedgerTransactionsCollection),
	}
}

// InitAccount creates the zeroed stored buckets of userID. Existing entries are left untouched.
func (r *LedgerRepository) InitAccount(ctx context.Context, userID string, at time.Time) error {
	writes := make([]mongo.WriteModel, 0, len(models.StoredBuckets))
	for _, bucket := range models.StoredBuckets {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"userId": userID, "bucket": bucket}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"balance":         decimal.Zero,
				"lifetimeCredits": decimal.Zero,
				"lifetimeDebits":  decimal.Zero,
				"createdAt":       at,
				"updatedAt":       at,
			}}).
			SetUpsert(true))
	}
	if _, err := r.entries.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to init ledger account %s: %w", userID, err)
	}
	return nil
}

func (r *LedgerRepository) FindEntry(ctx context.Context, userID string, bucket models.Bucket) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.entries.FindOne(ctx, bson.M{"userId": userID, "bucket": bucket}).Decode(&entry)
	if err != nil {
		return nil, translateError(err, fmt.Sprintf("ledger entry %s/%s", userID, bucket))
	}
	return &entry, nil
}

func (r *LedgerRepository) ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	cursor, err := r.entries.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries of %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	entries := []models.LedgerEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode ledger entries of %s: %w", userID, err)
	}
	return entries, nil
}

// IncrementBalance applies delta to one entry with $inc. Credits upsert the entry; debits
// only match when the balance covers them.
func (r *LedgerRepository) IncrementBalance(ctx context.Context, userID string, bucket models.Bucket, delta decimal.Decimal, at time.Time) (*models.LedgerEntry, error) {
	filter := bson.M{"userId": userID, "bucket": bucket}
	inc := bson.M{"balance": delta}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var setOnInsert bson.M
	if delta.IsNegative() {
		filter["balance"] = bson.M{"$gte": delta.Neg()}
		inc["lifetimeDebits"] = delta.Neg()
	} else {
		inc["lifetimeCredits"] = delta
		setOnInsert = bson.M{"lifetimeDebits": decimal.Zero, "createdAt": at}
		opts.SetUpsert(true)
	}

	update := bson.M{
		"$inc": inc,
		"$set": bson.M{"lastTransactionAt": at, "updatedAt": at},
	}
	if setOnInsert != nil {
		update["$setOnInsert"] = setOnInsert
	}

	var entry models.LedgerEntry
	err := r.entries.FindOneAndUpdate(ctx, filter, update, opts).Decode(&entry)
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update ledger entry %s/%s: %w", userID, bucket, err)
	}

	if _, findErr := r.FindEntry(ctx, userID, bucket); findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("%w: %s/%s cannot cover %s", models.ErrInsufficientBalance, userID, bucket, delta.Neg())
}

func (r *LedgerRepository) FindTransaction(ctx context.Context, reference string) (*models.LedgerTransaction, error) {
	var tx models.LedgerTransaction
	if err := r.transactions.FindOne(ctx, bson.M{"reference": reference}).Decode(&tx); err != nil {
		return nil, translateError(err, "ledger transaction "+reference)
	}
	return &tx, nil
}

func (r *LedgerRepository) InsertTransaction(ctx context.Context, tx *models.LedgerTransaction) error {
	_, err := r.transactions.InsertOne(ctx, tx)
	return translateError(err, "insert ledger transaction "+tx.Reference)
}

// ListTransactions returns the newest transactions of userID first. limit <= 0 means no limit.
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID string, limit int64) ([]models.LedgerTransaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.transactions.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger transactions of %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	txs := []models.LedgerTransaction{}
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode ledger transactions of %s: %w", userID, err)
	}
	return txs, nil
}
