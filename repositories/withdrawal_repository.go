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

type WithdrawalRepository struct {
	collection *mongo.Collection
}

func NewWithdrawalRepository(db *mongo.Database) *WithdrawalRepository {
	return &WithdrawalRepository{
		collection: db.Collection(WithdrawalCollection),
	}
}

func (r *WithdrawalRepository) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	_, err := r.collection.InsertOne(ctx, w)
	return translateError(err, "insert withdrawal "+w.ID.Hex())
}

func (r *WithdrawalRepository) FindWithdrawal(ctx context.Context, id primitive.ObjectID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&w); err != nil {
		return nil, translateError(err, "withdrawal "+id.Hex())
	}
	return &w, nil
}

// TransitionWithdrawal settles a PENDING withdrawal. note is stored as the admin note on
// approval and as the rejection reason on rejection.
func (r *WithdrawalRepository) TransitionWithdrawal(ctx context.Context, id primitive.ObjectID, to models.WithdrawalStatus, at time.Time, note string) (*models.Withdrawal, error) {
	set := bson.M{"status": to, "processedAt": at}
	if note != "" {
		if to == models.WithdrawalRejected {
			set["rejectionReason"] = note
		} else {
			set["adminNote"] = note
		}
	}

	var w models.Withdrawal
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": models.WithdrawalPending},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&w)
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to move withdrawal %s to %s: %w", id.Hex(), to, err)
	}
	current, findErr := r.FindWithdrawal(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("%w: withdrawal %s is %s, cannot move to %s", models.ErrInvalidTransition, id.Hex(), current.Status, to)
}

// ListWithdrawals returns a user's withdrawals, newest first. An empty status matches all.
func (r *WithdrawalRepository) ListWithdrawals(ctx context.Context, userID string, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	filter := bson.M{}
	if userID != "" {
		filter["userId"] = userID
	}
	if status != "" {
		filter["status"] = status
	}
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer cursor.Close(ctx)

	withdrawals := []models.Withdrawal{}
	if err := cursor.All(ctx, &withdrawals); err != nil {
		return nil, fmt.Errorf("failed to decode withdrawals: %w", err)
	}
	return withdrawals, nil
}
