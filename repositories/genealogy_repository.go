package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/HSouheill/mlm_ledger/models"
)

type GenealogyRepository struct {
	collection *mongo.Collection
}

func NewGenealogyRepository(db *mongo.Database) *GenealogyRepository {
	return &GenealogyRepository{
		collection: db.Collection(GenealogyCollection),
	}
}

// InsertNode persists a node built by models.NewRootNode or models.NewChildNode.
func (r *GenealogyRepository) InsertNode(ctx context.Context, node *models.GenealogyNode) error {
	if err := node.Validate(); err != nil {
		return err
	}
	_, err := r.collection.InsertOne(ctx, node)
	return translateError(err, "insert genealogy node "+node.UserID)
}

func (r *GenealogyRepository) FindNode(ctx context.Context, userID string) (*models.GenealogyNode, error) {
	return r.findOne(ctx, bson.M{"userId": userID}, "genealogy node "+userID)
}

func (r *GenealogyRepository) FindNodeByReferralCode(ctx context.Context, code string) (*models.GenealogyNode, error) {
	return r.findOne(ctx, bson.M{"referralCode": code}, "referral code "+code)
}

func (r *GenealogyRepository) findOne(ctx context.Context, filter bson.M, what string) (*models.GenealogyNode, error) {
	var node models.GenealogyNode
	if err := r.collection.FindOne(ctx, filter).Decode(&node); err != nil {
		return nil, translateError(err, what)
	}
	return &node, nil
}

func (r *GenealogyRepository) exists(ctx context.Context, userID string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"userId": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to look up genealogy node %s: %w", userID, err)
	}
	return n > 0, nil
}

// AddDirectReferral appends childUserID to the parent's direct referrals and bumps the team
// size in one conditional update. It reports false when the pair was already recorded.
func (r *GenealogyRepository) AddDirectReferral(ctx context.Context, parentUserID, childUserID string, at time.Time) (bool, error) {
	if parentUserID == childUserID {
		return false, fmt.Errorf("%w: %s cannot refer itself", models.ErrInvariantViolation, parentUserID)
	}

	filter := bson.M{"userId": parentUserID, "directReferrals": bson.M{"$ne": childUserID}}
	update := bson.M{
		"$push": bson.M{"directReferrals": childUserID},
		"$inc":  bson.M{"totalTeamSize": 1},
		"$set":  bson.M{"updatedAt": at},
	}
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to add direct referral %s -> %s: %w", parentUserID, childUserID, err)
	}
	if result.ModifiedCount == 1 {
		return true, nil
	}

	ok, err := r.exists(ctx, parentUserID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("genealogy node %s: %w", parentUserID, models.ErrNotFound)
	}
	return false, nil
}

// ApplyTeamDelta increments the node's aggregates server-side. Negative components are
// guarded in the filter so no field can go below zero.
func (r *GenealogyRepository) ApplyTeamDelta(ctx context.Context, userID string, delta models.TeamDelta, at time.Time) error {
	if delta.IsZero() {
		return nil
	}

	filter := bson.M{"userId": userID}
	if delta.Volume.IsNegative() {
		filter["totalTeamVolume"] = bson.M{"$gte": delta.Volume.Neg()}
	}
	if delta.TeamSize < 0 {
		filter["totalTeamSize"] = bson.M{"$gte": -delta.TeamSize}
	}
	if delta.Commission.IsNegative() {
		filter["commissionEarned"] = bson.M{"$gte": delta.Commission.Neg()}
	}

	update := bson.M{
		"$inc": bson.M{
			"totalTeamVolume":  delta.Volume,
			"totalTeamSize":    delta.TeamSize,
			"commissionEarned": delta.Commission,
		},
		"$set": bson.M{"updatedAt": at},
	}
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to apply team delta to %s: %w", userID, err)
	}
	if result.MatchedCount == 1 {
		return nil
	}

	ok, err := r.exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("genealogy node %s: %w", userID, models.ErrNotFound)
	}
	return fmt.Errorf("%w: team delta would drive %s statistics negative", models.ErrInvariantViolation, userID)
}

// MarkActivated stamps the node's first distributed deposit. It reports true only for the
// call that set the stamp.
func (r *GenealogyRepository) MarkActivated(ctx context.Context, userID string, at time.Time) (bool, error) {
	return r.stampOnce(ctx, userID, "activatedAt", at)
}

// ArchiveNode soft-archives the node. Archiving twice is a no-op.
func (r *GenealogyRepository) ArchiveNode(ctx context.Context, userID string, at time.Time) error {
	_, err := r.stampOnce(ctx, userID, "archivedAt", at)
	return err
}

func (r *GenealogyRepository) stampOnce(ctx context.Context, userID, field string, at time.Time) (bool, error) {
	filter := bson.M{"userId": userID, field: bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{field: at, "updatedAt": at}}
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to set %s on %s: %w", field, userID, err)
	}
	if result.ModifiedCount == 1 {
		return true, nil
	}
	ok, err := r.exists(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("genealogy node %s: %w", userID, models.ErrNotFound)
	}
	return false, nil
}

func (r *GenealogyRepository) ListChildren(ctx context.Context, parentUserID string) ([]models.GenealogyNode, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"parentUserId": parentUserID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentUserID, err)
	}
	defer cursor.Close(ctx)

	nodes := []models.GenealogyNode{}
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode children of %s: %w", parentUserID, err)
	}
	return nodes, nil
}

// TeamStatistics groups every node by level.
func (r *GenealogyRepository) TeamStatistics(ctx context.Context) ([]models.LevelStatistics, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$level"},
			{Key: "members", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "activatedMembers", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{"$activatedAt", false}}}, 1, 0}},
			}}}},
			{Key: "teamVolume", Value: bson.D{{Key: "$sum", Value: "$totalTeamVolume"}}},
			{Key: "commissionEarned", Value: bson.D{{Key: "$sum", Value: "$commissionEarned"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate team statistics: %w", err)
	}
	defer cursor.Close(ctx)

	levels := []models.LevelStatistics{}
	if err := cursor.All(ctx, &levels); err != nil {
		return nil, fmt.Errorf("failed to decode team statistics: %w", err)
	}
	return levels, nil
}
