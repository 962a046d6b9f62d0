package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// ContextRepository is the Mongo-backed, user-scoped store.ContextRepository
// for a single hierarchy level. Documents are uniquely keyed on
// (level, user_id, _id) per the relational contract in spec.md §6 — this
// repository is constructed once per level so its queries only ever see
// that level's rows.
type ContextRepository struct {
	db     *Database
	coll   *mongo.Collection
	level  models.ContextLevel
	userID string
}

func NewContextRepository(db *Database, level models.ContextLevel) *ContextRepository {
	return &ContextRepository{db: db, coll: db.Mongo.Collection("contexts"), level: level}
}

func (r *ContextRepository) WithUser(userID string) store.ContextRepository {
	return &ContextRepository{db: r.db, coll: r.coll, level: r.level, userID: userID}
}

func (r *ContextRepository) levelFilter(extra bson.M) bson.M {
	f := bson.M{"level": string(r.level)}
	for k, v := range extra {
		f[k] = v
	}
	return applyUserFilter(f, r.userID)
}

func (r *ContextRepository) Create(ctx context.Context, c *models.Context) (*models.Context, error) {
	c.Level = r.level
	c.UserID = r.userID
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Settings == nil {
		c.Settings = map[string]interface{}{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
	c.Version = 1

	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict(fmt.Sprintf("%s context %q already exists", r.level, c.ID))
		}
		return nil, apperrors.Internal("failed to create context", err)
	}
	r.db.audit(r.userID, "context", c.ID, "create")
	r.db.invalidate("context", c.ID, "create", r.userID, string(r.level), true)
	return c, nil
}

func (r *ContextRepository) Get(ctx context.Context, id string) (*models.Context, error) {
	filter := r.levelFilter(bson.M{"_id": id})
	var c models.Context
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		return nil, notFoundOrInternal(err, fmt.Sprintf("%s context", r.level), id)
	}
	r.db.audit(r.userID, "context", id, "read")
	return &c, nil
}

func (r *ContextRepository) Update(ctx context.Context, id string, mutate func(*models.Context) error) (*models.Context, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now()
	c.Version++

	filter := r.levelFilter(bson.M{"_id": id})
	res, err := r.coll.ReplaceOne(ctx, filter, c)
	if err != nil {
		return nil, apperrors.Internal("failed to update context", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("%s context %q not found", r.level, id))
	}

	r.db.audit(r.userID, "context", id, "update")
	r.db.invalidate("context", id, "update", r.userID, string(r.level), true)
	return c, nil
}

func (r *ContextRepository) Delete(ctx context.Context, id string) error {
	filter := r.levelFilter(bson.M{"_id": id})
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return apperrors.Internal("failed to delete context", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("%s context %q not found", r.level, id))
	}
	r.db.audit(r.userID, "context", id, "delete")
	r.db.invalidate("context", id, "delete", r.userID, string(r.level), true)
	return nil
}

func (r *ContextRepository) List(ctx context.Context) ([]*models.Context, error) {
	filter := r.levelFilter(bson.M{})
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list contexts", err)
	}
	defer cur.Close(ctx)

	var out []*models.Context
	for cur.Next(ctx) {
		var c models.Context
		if err := cur.Decode(&c); err != nil {
			return nil, apperrors.Internal("failed to decode context", err)
		}
		out = append(out, &c)
	}
	r.db.audit(r.userID, "context", fmt.Sprintf("level=%s count=%d", r.level, len(out)), "list")
	return out, nil
}
