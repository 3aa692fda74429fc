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

type DepositRepository struct {
	collection *mongo.Collection
}

func NewDepositRepository(db *mongo.Database) *DepositRepository {
	return &DepositRepository{
		collection: db.Collection(DepositCollection),
	}
}

func (r *DepositRepository) InsertDeposit(ctx context.Context, d *models.Deposit) error {
	_, err := r.collection.InsertOne(ctx, d)
	return translateError(err, "insert deposit "+d.ID)
}

func (r *DepositRepository) FindDeposit(ctx context.Context, id string) (*models.Deposit, error) {
	var d models.Deposit
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		return nil, translateError(err, "deposit "+id)
	}
	return &d, nil
}

func (r *DepositRepository) ListDeposits(ctx context.Context, f models.DepositFilter) ([]models.Deposit, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["userId"] = f.UserID
	}
	if f.State != "" {
		filter["state"] = f.State
	}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// ListEligibleDeposits returns the ACTIVE deposits that still owe accruals and have not
// accrued for period, grouped by user.
func (r *DepositRepository) ListEligibleDeposits(ctx context.Context, period string, maxPeriods int) ([]models.Deposit, error) {
	filter := bson.M{
		"state":             models.DepositActive,
		"monthsActive":      bson.M{"$lt": maxPeriods},
		"lastAccruedPeriod": bson.M{"$ne": period},
	}
	opts := options.Find().SetSort(bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, filter, opts)
}

func (r *DepositRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Deposit, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer cursor.Close(ctx)

	deposits := []models.Deposit{}
	if err := cursor.All(ctx, &deposits); err != nil {
		return nil, fmt.Errorf("failed to decode deposits: %w", err)
	}
	return deposits, nil
}

// TransitionDeposit moves a deposit to `to` if it sits in one of `from`, stamping the
// timestamp that belongs to the target state.
func (r *DepositRepository) TransitionDeposit(ctx context.Context, id string, from []models.DepositState, to models.DepositState, at time.Time, reason string) (*models.Deposit, error) {
	set := bson.M{"state": to, "updatedAt": at}
	switch to {
	case models.DepositConfirmed:
		set["confirmedAt"] = at
	case models.DepositActive:
		set["activatedAt"] = at
	case models.DepositCompleted:
		set["completedAt"] = at
	case models.DepositFailed:
		set["failureReason"] = reason
	}

	var d models.Deposit
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "state": bson.M{"$in": from}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if err == nil {
		return &d, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to move deposit %s to %s: %w", id, to, err)
	}

	current, findErr := r.FindDeposit(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	return nil, fmt.Errorf("%w: deposit %s is %s, cannot move to %s", models.ErrInvalidTransition, id, current.State, to)
}

// AdvanceAccrual books one period on an eligible deposit: monthsActive+1, totalEarnings+share,
// lastAccruedPeriod=period. totalEarnings never passes the deposit's earnings cap. The deposit
// completes when it reaches maxPeriods.
func (r *DepositRepository) AdvanceAccrual(ctx context.Context, id, period string, share decimal.Decimal, maxPeriods int, at time.Time) (*models.Deposit, error) {
	filter := bson.M{
		"_id":               id,
		"state":             models.DepositActive,
		"monthsActive":      bson.M{"$lt": maxPeriods},
		"lastAccruedPeriod": bson.M{"$ne": period},
	}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"monthsActive": bson.M{"$add": bson.A{"$monthsActive", 1}},
		"totalEarnings": bson.M{"$min": bson.A{
			bson.M{"$add": bson.A{"$totalEarnings", share}},
			bson.M{"$multiply": bson.A{"$amount", models.MaxAccrualMultiple()}},
		}},
		"lastAccruedPeriod": bson.M{"$literal": period},
		"updatedAt":         at,
	}}}}

	var d models.Deposit
	err := r.collection.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.FindDeposit(ctx, id); findErr != nil {
			return nil, findErr
		}
		return nil, fmt.Errorf("deposit %s for %s: %w", id, period, models.ErrNotEligible)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to advance deposit %s: %w", id, err)
	}

	if d.MonthsActive >= maxPeriods {
		return r.TransitionDeposit(ctx, id, []models.DepositState{models.DepositActive}, models.DepositCompleted, at, "")
	}
	return &d, nil
}
