// Package mongostore is the MongoDB-backed implementation of the
// internal/store repository contracts, grounded on the teacher's
// mongo.Collection + bson.M filter idiom in storage/tasks.go and on
// original_source's apply_user_filter/ensure_user_ownership pattern.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/cache"
	"hyperion-taskctl/internal/store"
)

// Database bundles the Mongo handle and cross-cutting collaborators every
// concrete repository needs: the cache (for invalidation fan-out) and the
// audit sink (spec.md §4.6 item 7).
type Database struct {
	Mongo  *mongo.Database
	Cache  *cache.Cache
	Audit  store.AuditSink
	Logger *zap.Logger
}

// applyUserFilter appends a user_id predicate to filter, unless userID is
// empty — the bootstrap case spec.md §4.6 reserves for startup code only.
func applyUserFilter(filter bson.M, userID string) bson.M {
	if userID == "" {
		return filter
	}
	out := bson.M{}
	for k, v := range filter {
		out[k] = v
	}
	out["user_id"] = userID
	return out
}

// notFoundOrInternal converts a no-document result from a user-filtered
// lookup into NOT_FOUND — never a Forbidden — so callers cannot probe other
// users' ids (spec.md §4.6 item 5); any other error becomes INTERNAL.
func notFoundOrInternal(err error, entity, id string) error {
	if err == mongo.ErrNoDocuments {
		return apperrors.NotFound(fmt.Sprintf("%s %q not found", entity, id))
	}
	return apperrors.Internal(fmt.Sprintf("%s lookup failed", entity), err)
}

func (d *Database) audit(userID, entityType, entityID, op string) {
	if d.Audit == nil {
		return
	}
	d.Audit.Record(store.AccessLog{
		UserID: userID, EntityType: entityType, EntityID: entityID,
		Op: op, Timestamp: time.Now(),
	})
}

func (d *Database) invalidate(entityType, entityID, op, userID, level string, propagate bool) {
	if d.Cache == nil {
		return
	}
	d.Cache.InvalidateEntity(cache.InvalidationEvent{
		EntityType: entityType, EntityID: entityID, Op: op,
		UserID: userID, Level: level, Propagate: propagate,
	})
}

// EnsureIndexes creates the unique/user_id indexes the relational contract
// (spec.md §6) requires. Call once at startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		"projects": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"git_branches": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "project_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "project_id", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"tasks": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "git_branch_id", Value: 1}}},
		},
		"subtasks": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "task_id", Value: 1}}},
		},
		"contexts": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "level", Value: 1}, {Key: "user_id", Value: 1}, {Key: "_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"api_tokens": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, indexes := range collections {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongostore: create indexes for %s: %w", name, err)
		}
	}
	return nil
}
