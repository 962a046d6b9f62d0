package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// SubtaskRepository is the Mongo-backed, user-scoped store.SubtaskRepository.
// A Subtask's parent is always a Task, never a GitBranch (spec.md invariant 2).
type SubtaskRepository struct {
	db     *Database
	coll   *mongo.Collection
	userID string
}

func NewSubtaskRepository(db *Database) *SubtaskRepository {
	return &SubtaskRepository{db: db, coll: db.Mongo.Collection("subtasks")}
}

func (r *SubtaskRepository) WithUser(userID string) store.SubtaskRepository {
	return &SubtaskRepository{db: r.db, coll: r.coll, userID: userID}
}

func (r *SubtaskRepository) Create(ctx context.Context, s *models.Subtask) (*models.Subtask, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.UserID = r.userID
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.Assignees == nil {
		s.Assignees = []string{}
	}

	if _, err := r.coll.InsertOne(ctx, s); err != nil {
		return nil, apperrors.Internal("failed to create subtask", err)
	}
	r.db.audit(r.userID, "subtask", s.ID, "create")
	r.db.invalidate("subtask", s.ID, "create", r.userID, "", true)
	return s, nil
}

func (r *SubtaskRepository) Get(ctx context.Context, id string) (*models.Subtask, error) {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	var s models.Subtask
	if err := r.coll.FindOne(ctx, filter).Decode(&s); err != nil {
		return nil, notFoundOrInternal(err, "subtask", id)
	}
	r.db.audit(r.userID, "subtask", id, "read")
	return &s, nil
}

func (r *SubtaskRepository) Update(ctx context.Context, id string, mutate func(*models.Subtask) error) (*models.Subtask, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Now()

	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.ReplaceOne(ctx, filter, s)
	if err != nil {
		return nil, apperrors.Internal("failed to update subtask", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("subtask %q not found", id))
	}

	r.db.audit(r.userID, "subtask", id, "update")
	r.db.invalidate("subtask", id, "update", r.userID, "", true)
	return s, nil
}

func (r *SubtaskRepository) Delete(ctx context.Context, id string) error {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return apperrors.Internal("failed to delete subtask", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("subtask %q not found", id))
	}
	r.db.audit(r.userID, "subtask", id, "delete")
	r.db.invalidate("subtask", id, "delete", r.userID, "", true)
	return nil
}

func (r *SubtaskRepository) ListByTask(ctx context.Context, taskID string) ([]*models.Subtask, error) {
	filter := applyUserFilter(bson.M{"task_id": taskID}, r.userID)
	opts := options.Find().SetSort(bson.M{"created_at": 1})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Internal("failed to list subtasks", err)
	}
	defer cur.Close(ctx)

	var out []*models.Subtask
	for cur.Next(ctx) {
		var s models.Subtask
		if err := cur.Decode(&s); err != nil {
			return nil, apperrors.Internal("failed to decode subtask", err)
		}
		out = append(out, &s)
	}
	r.db.audit(r.userID, "subtask", fmt.Sprintf("task=%s count=%d", taskID, len(out)), "list")
	return out, nil
}
