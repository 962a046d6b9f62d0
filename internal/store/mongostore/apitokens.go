package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// ApiTokenRepository is the Mongo-backed, user-scoped store.ApiTokenRepository.
type ApiTokenRepository struct {
	db     *Database
	coll   *mongo.Collection
	userID string
}

func NewApiTokenRepository(db *Database) *ApiTokenRepository {
	return &ApiTokenRepository{db: db, coll: db.Mongo.Collection("api_tokens")}
}

func (r *ApiTokenRepository) WithUser(userID string) store.ApiTokenRepository {
	return &ApiTokenRepository{db: r.db, coll: r.coll, userID: userID}
}

func (r *ApiTokenRepository) Create(ctx context.Context, t *models.ApiToken) (*models.ApiToken, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UserID = r.userID
	t.CreatedAt = time.Now()
	t.IsActive = true

	if _, err := r.coll.InsertOne(ctx, t); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict("token hash collision")
		}
		return nil, apperrors.Internal("failed to create api token", err)
	}
	r.db.audit(r.userID, "api_token", t.ID, "create")
	return t, nil
}

func (r *ApiTokenRepository) GetByHash(ctx context.Context, hash string) (*models.ApiToken, error) {
	var t models.ApiToken
	if err := r.coll.FindOne(ctx, bson.M{"token_hash": hash, "is_active": true}).Decode(&t); err != nil {
		return nil, notFoundOrInternal(err, "api_token", hash)
	}
	return &t, nil
}

func (r *ApiTokenRepository) Touch(ctx context.Context, id string) error {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	now := time.Now()
	update := bson.M{"$set": bson.M{"last_used_at": now}, "$inc": bson.M{"usage_count": 1}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return apperrors.Internal("failed to touch api token", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("api token %q not found", id))
	}
	return nil
}

func (r *ApiTokenRepository) List(ctx context.Context) ([]*models.ApiToken, error) {
	filter := applyUserFilter(bson.M{}, r.userID)
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list api tokens", err)
	}
	defer cur.Close(ctx)

	var out []*models.ApiToken
	for cur.Next(ctx) {
		var t models.ApiToken
		if err := cur.Decode(&t); err != nil {
			return nil, apperrors.Internal("failed to decode api token", err)
		}
		out = append(out, &t)
	}
	return out, nil
}

func (r *ApiTokenRepository) Revoke(ctx context.Context, id string) error {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return apperrors.Internal("failed to revoke api token", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("api token %q not found", id))
	}
	r.db.audit(r.userID, "api_token", id, "update")
	return nil
}
