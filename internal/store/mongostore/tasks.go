package mongostore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// TaskRepository is the Mongo-backed, user-scoped store.TaskRepository.
type TaskRepository struct {
	db     *Database
	coll   *mongo.Collection
	userID string
}

// NewTaskRepository constructs an unscoped repository; production code
// MUST call WithUser before any read/write (spec.md §4.6 item 1).
func NewTaskRepository(db *Database) *TaskRepository {
	return &TaskRepository{db: db, coll: db.Mongo.Collection("tasks")}
}

// WithUser returns a new, identically configured repository scoped to
// userID (spec.md §4.6 item 2). Cheap: no session is opened.
func (r *TaskRepository) WithUser(userID string) store.TaskRepository {
	return &TaskRepository{db: r.db, coll: r.coll, userID: userID}
}

func (r *TaskRepository) Create(ctx context.Context, t *models.Task) (*models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UserID = r.userID
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Assignees == nil {
		t.Assignees = []string{}
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}

	if _, err := r.coll.InsertOne(ctx, t); err != nil {
		return nil, apperrors.Internal("failed to create task", err)
	}
	r.db.audit(r.userID, "task", t.ID, "create")
	r.db.invalidate("task", t.ID, "create", r.userID, "", true)
	return t, nil
}

func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)

	var t models.Task
	if err := r.coll.FindOne(ctx, filter).Decode(&t); err != nil {
		return nil, notFoundOrInternal(err, "task", id)
	}
	r.db.audit(r.userID, "task", id, "read")
	return &t, nil
}

func (r *TaskRepository) Update(ctx context.Context, id string, mutate func(*models.Task) error) (*models.Task, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now()

	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.ReplaceOne(ctx, filter, t)
	if err != nil {
		return nil, apperrors.Internal("failed to update task", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("task %q not found", id))
	}

	r.db.audit(r.userID, "task", id, "update")
	r.db.invalidate("task", id, "update", r.userID, "", true)
	return t, nil
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return apperrors.Internal("failed to delete task", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("task %q not found", id))
	}

	r.db.audit(r.userID, "task", id, "delete")
	r.db.invalidate("task", id, "delete", r.userID, "", true)
	return nil
}

func (r *TaskRepository) List(ctx context.Context, f store.ListFilter) ([]*models.Task, error) {
	filter := applyUserFilter(bson.M{}, r.userID)
	if f.GitBranchID != "" {
		filter["git_branch_id"] = f.GitBranchID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.Priority != "" {
		filter["priority"] = f.Priority
	}
	if len(f.Assignees) > 0 {
		filter["assignees"] = bson.M{"$in": f.Assignees}
	}
	if len(f.Labels) > 0 {
		filter["labels"] = bson.M{"$in": f.Labels}
	}

	limit := int64(f.Limit)
	if limit <= 0 {
		limit = 1000
	}
	opts := options.Find().SetLimit(limit).SetSort(bson.M{"created_at": -1})

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Internal("failed to list tasks", err)
	}
	defer cur.Close(ctx)

	var out []*models.Task
	for cur.Next(ctx) {
		var t models.Task
		if err := cur.Decode(&t); err != nil {
			return nil, apperrors.Internal("failed to decode task", err)
		}
		out = append(out, &t)
	}
	r.db.audit(r.userID, "task", fmt.Sprintf("count=%d", len(out)), "list")
	return out, nil
}

func (r *TaskRepository) Search(ctx context.Context, query string, limit int) ([]*models.Task, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	filter := applyUserFilter(bson.M{
		"$or": []bson.M{
			{"title": bson.M{"$regex": escapeRegex(query), "$options": "i"}},
			{"description": bson.M{"$regex": escapeRegex(query), "$options": "i"}},
		},
	}, r.userID)

	opts := options.Find().SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Internal("failed to search tasks", err)
	}
	defer cur.Close(ctx)

	var out []*models.Task
	for cur.Next(ctx) {
		var t models.Task
		if err := cur.Decode(&t); err != nil {
			return nil, apperrors.Internal("failed to decode task", err)
		}
		out = append(out, &t)
	}
	return out, nil
}

func escapeRegex(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`, `.`, `\.`, `*`, `\*`, `+`, `\+`, `?`, `\?`,
		`(`, `\(`, `)`, `\)`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`, `^`, `\^`, `$`, `\$`, `|`, `\|`,
	)
	return replacer.Replace(s)
}
