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

// GitBranchRepository is the Mongo-backed, user-scoped store.GitBranchRepository.
type GitBranchRepository struct {
	db     *Database
	coll   *mongo.Collection
	userID string
}

func NewGitBranchRepository(db *Database) *GitBranchRepository {
	return &GitBranchRepository{db: db, coll: db.Mongo.Collection("git_branches")}
}

func (r *GitBranchRepository) WithUser(userID string) store.GitBranchRepository {
	return &GitBranchRepository{db: r.db, coll: r.coll, userID: userID}
}

func (r *GitBranchRepository) Create(ctx context.Context, b *models.GitBranch) (*models.GitBranch, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.UserID = r.userID
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	if _, err := r.coll.InsertOne(ctx, b); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict(fmt.Sprintf("branch %q already exists in project", b.Name))
		}
		return nil, apperrors.Internal("failed to create git branch", err)
	}
	r.db.audit(r.userID, "branch", b.ID, "create")
	r.db.invalidate("branch", b.ID, "create", r.userID, "", true)
	return b, nil
}

func (r *GitBranchRepository) Get(ctx context.Context, id string) (*models.GitBranch, error) {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	var b models.GitBranch
	if err := r.coll.FindOne(ctx, filter).Decode(&b); err != nil {
		return nil, notFoundOrInternal(err, "git_branch", id)
	}
	r.db.audit(r.userID, "branch", id, "read")
	return &b, nil
}

func (r *GitBranchRepository) Update(ctx context.Context, id string, mutate func(*models.GitBranch) error) (*models.GitBranch, error) {
	b, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(b); err != nil {
		return nil, err
	}
	b.UpdatedAt = time.Now()

	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.ReplaceOne(ctx, filter, b)
	if err != nil {
		return nil, apperrors.Internal("failed to update git branch", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("git_branch %q not found", id))
	}

	r.db.audit(r.userID, "branch", id, "update")
	r.db.invalidate("branch", id, "update", r.userID, "", true)
	return b, nil
}

func (r *GitBranchRepository) Delete(ctx context.Context, id string) error {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return apperrors.Internal("failed to delete git branch", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("git_branch %q not found", id))
	}
	r.db.audit(r.userID, "branch", id, "delete")
	r.db.invalidate("branch", id, "delete", r.userID, "", true)
	return nil
}

func (r *GitBranchRepository) ListByProject(ctx context.Context, projectID string) ([]*models.GitBranch, error) {
	filter := applyUserFilter(bson.M{"project_id": projectID}, r.userID)
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list git branches", err)
	}
	defer cur.Close(ctx)

	var out []*models.GitBranch
	for cur.Next(ctx) {
		var b models.GitBranch
		if err := cur.Decode(&b); err != nil {
			return nil, apperrors.Internal("failed to decode git branch", err)
		}
		out = append(out, &b)
	}
	r.db.audit(r.userID, "branch", fmt.Sprintf("project=%s count=%d", projectID, len(out)), "list")
	return out, nil
}
