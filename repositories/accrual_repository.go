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

type AccrualRepository struct {
	collection *mongo.Collection
}

func NewAccrualRepository(db *mongo.Database) *AccrualRepository {
	return &AccrualRepository{
		collection: db.Collection(AccrualRecordCollection),
	}
}

// InsertAccrual fails with models.ErrDuplicate when the user already has a record for the period.
func (r *AccrualRepository) InsertAccrual(ctx context.Context, rec *models.AccrualRecord) error {
	_, err := r.collection.InsertOne(ctx, rec)
	return translateError(err, fmt.Sprintf("insert accrual %s/%s", rec.UserID, rec.Period))
}

func (r *AccrualRepository) FindAccrual(ctx context.Context, id primitive.ObjectID) (*models.AccrualRecord, error) {
	return r.findOne(ctx, bson.M{"_id": id}, "accrual record "+id.Hex())
}

func (r *AccrualRepository) FindAccrualByUserPeriod(ctx context.Context, userID, period string) (*models.AccrualRecord, error) {
	return r.findOne(ctx, bson.M{"userId": userID, "period": period}, fmt.Sprintf("accrual %s/%s", userID, period))
}

func (r *AccrualRepository) findOne(ctx context.Context, filter bson.M, what string) (*models.AccrualRecord, error) {
	var rec models.AccrualRecord
	if err := r.collection.FindOne(ctx, filter).Decode(&rec); err != nil {
		return nil, translateError(err, what)
	}
	return &rec, nil
}

// ReopenFailedAccrual resets a FAILED record to PENDING with freshly computed amounts.
// rec.ID names the stored record.
func (r *AccrualRepository) ReopenFailedAccrual(ctx context.Context, rec *models.AccrualRecord) (*models.AccrualRecord, error) {
	filter := bson.M{"_id": rec.ID, "status": models.AccrualFailed}
	update := bson.M{
		"$set": bson.M{
			"status":           models.AccrualPending,
			"baseAmount":       rec.BaseAmount,
			"rate":             rec.Rate,
			"accrualAmount":    rec.AccrualAmount,
			"batchId":          rec.BatchID,
			"sourceDepositIds": rec.SourceDepositIDs,
			"updatedAt":        rec.UpdatedAt,
		},
		"$unset": bson.M{"failureReason": ""},
	}
	return r.update(ctx, rec.ID, filter, update, models.AccrualPending)
}

// TransitionAccrual moves a record to `to` if it sits in one of `from`. Entering PROCESSING
// counts an attempt; COMPLETED stamps processedAt; FAILED records reason.
func (r *AccrualRepository) TransitionAccrual(ctx context.Context, id primitive.ObjectID, from []models.AccrualStatus, to models.AccrualStatus, at time.Time, reason string) (*models.AccrualRecord, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	set := bson.M{"status": to, "updatedAt": at}
	update := bson.M{"$set": set}
	switch to {
	case models.AccrualProcessing:
		update["$inc"] = bson.M{"attempts": 1}
	case models.AccrualCompleted:
		set["processedAt"] = at
	case models.AccrualFailed, models.AccrualCancelled:
		if reason != "" {
			set["failureReason"] = reason
		}
	}
	return r.update(ctx, id, filter, update, to)
}

func (r *AccrualRepository) update(ctx context.Context, id primitive.ObjectID, filter, update bson.M, to models.AccrualStatus) (*models.AccrualRecord, error) {
	var rec models.AccrualRecord
	err := r.collection.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to move accrual %s to %s: %w", id.Hex(), to, err)
	}

	current, findErr := r.FindAccrual(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("%w: accrual %s is %s, cannot move to %s", models.ErrInvalidTransition, id.Hex(), current.Status, to)
}

// ListAccruals returns matching records, newest period first.
func (r *AccrualRepository) ListAccruals(ctx context.Context, f models.AccrualFilter) ([]models.AccrualRecord, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.Period != "" {
		filter["period"] = f.Period
	}
	if f.BatchID != "" {
		filter["batchId"] = f.BatchID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "period", Value: -1}, {Key: "userId", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accrual records: %w", err)
	}
	defer cursor.Close(ctx)

	records := []models.AccrualRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode accrual records: %w", err)
	}
	return records, nil
}
