package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/mlm_ledger/models"
)

type CommissionRepository struct {
	records *mongo.Collection
	batches *mongo.Collection
}

func NewCommissionRepository(db *mongo.Database) *CommissionRepository {
	return &CommissionRepository{
		records: db.Collection(CommissionRecordCollection),
		batches: db.Collection(CommissionBatchCollection),
	}
}

// InsertBatch opens the distribution batch of a deposit. A second batch for the same
// deposit fails with models.ErrDuplicate.
func (r *CommissionRepository) InsertBatch(ctx context.Context, batch *models.CommissionBatch) error {
	_, err := r.batches.InsertOne(ctx, batch)
	return translateError(err, "insert commission batch for deposit "+batch.SourceDepositID)
}

func (r *CommissionRepository) FindBatch(ctx context.Context, batchID string) (*models.CommissionBatch, error) {
	return r.findBatch(ctx, bson.M{"_id": batchID}, "commission batch "+batchID)
}

func (r *CommissionRepository) FindBatchByDeposit(ctx context.Context, depositID string) (*models.CommissionBatch, error) {
	return r.findBatch(ctx, bson.M{"sourceDepositId": depositID}, "commission batch for deposit "+depositID)
}

func (r *CommissionRepository) findBatch(ctx context.Context, filter bson.M, what string) (*models.CommissionBatch, error) {
	var batch models.CommissionBatch
	if err := r.batches.FindOne(ctx, filter).Decode(&batch); err != nil {
		return nil, translateError(err, what)
	}
	return &batch, nil
}

func (r *CommissionRepository) MarkLegApplied(ctx context.Context, batchID, userID string) error {
	result, err := r.batches.UpdateOne(ctx,
		bson.M{"_id": batchID},
		bson.M{"$addToSet": bson.M{"appliedLegs": userID}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark leg %s of batch %s: %w", userID, batchID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("commission batch %s: %w", batchID, models.ErrNotFound)
	}
	return nil
}

func (r *CommissionRepository) MarkBatchDistributed(ctx context.Context, batchID string, at time.Time) error {
	result, err := r.batches.UpdateOne(ctx,
		bson.M{"_id": batchID},
		bson.M{"$set": bson.M{"status": models.BatchDistributed, "completedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to close batch %s: %w", batchID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("commission batch %s: %w", batchID, models.ErrNotFound)
	}
	return nil
}

// UpsertRecord stores rec unless a record with the same (sourceDepositId, recipientUserId,
// level) exists. It returns the stored record and whether this call created it.
func (r *CommissionRepository) UpsertRecord(ctx context.Context, rec *models.CommissionRecord) (*models.CommissionRecord, bool, error) {
	filter := bson.M{
		"sourceDepositId": rec.SourceDepositID,
		"recipientUserId": rec.RecipientUserID,
		"level":           rec.Level,
	}
	doc, err := insertOnlyFields(rec, "sourceDepositId", "recipientUserId", "level")
	if err != nil {
		return nil, false, err
	}

	result, err := r.records.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return nil, false, translateError(err, "upsert commission record")
	}
	if result.UpsertedCount == 1 {
		return rec, true, nil
	}

	var existing models.CommissionRecord
	if err := r.records.FindOne(ctx, filter).Decode(&existing); err != nil {
		return nil, false, translateError(err, "commission record")
	}
	return &existing, false, nil
}

func (r *CommissionRepository) FindRecord(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	var rec models.CommissionRecord
	if err := r.records.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		return nil, translateError(err, "commission record "+id.Hex())
	}
	return &rec, nil
}

// ListRecords returns matching records newest first.
func (r *CommissionRepository) ListRecords(ctx context.Context, f models.CommissionFilter) ([]models.CommissionRecord, error) {
	filter := bson.M{}
	if f.RecipientUserID != "" {
		filter["recipientUserId"] = f.RecipientUserID
	}
	if f.SourceUserID != "" {
		filter["sourceUserId"] = f.SourceUserID
	}
	if f.SourceDepositID != "" {
		filter["sourceDepositId"] = f.SourceDepositID
	}
	if f.BatchID != "" {
		filter["distributionBatchId"] = f.BatchID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "level", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cursor, err := r.records.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission records: %w", err)
	}
	defer cursor.Close(ctx)

	records := []models.CommissionRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode commission records: %w", err)
	}
	return records, nil
}

// TransitionRecord moves a record to status `to` if it currently sits in one of `from`.
func (r *CommissionRepository) TransitionRecord(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, to models.CommissionStatus, at time.Time, reason string) (*models.CommissionRecord, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	update := commissionStatusUpdate(to, at, reason)

	var rec models.CommissionRecord
	err := r.records.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to move commission record %s to %s: %w", id.Hex(), to, err)
	}

	current, findErr := r.FindRecord(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("%w: commission record %s is %s, cannot move to %s", models.ErrInvalidTransition, id.Hex(), current.Status, to)
}

// TransitionBatchRecords moves every record of a batch sitting in `from` to `to`.
func (r *CommissionRepository) TransitionBatchRecords(ctx context.Context, batchID string, from, to models.CommissionStatus, at time.Time) (int64, error) {
	result, err := r.records.UpdateMany(ctx,
		bson.M{"distributionBatchId": batchID, "status": from},
		commissionStatusUpdate(to, at, ""),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to move batch %s records to %s: %w", batchID, to, err)
	}
	return result.ModifiedCount, nil
}

func commissionStatusUpdate(to models.CommissionStatus, at time.Time, reason string) bson.M {
	set := bson.M{"status": to, "updatedAt": at}
	update := bson.M{"$set": set}
	switch to {
	case models.CommissionProcessed:
		set["processedAt"] = at
	case models.CommissionPaid:
		set["paidAt"] = at
	case models.CommissionCancelled:
		set["cancelledAt"] = at
		set["cancelReason"] = reason
	case models.CommissionPending:
		update["$unset"] = bson.M{"processedAt": ""}
	}
	return update
}
