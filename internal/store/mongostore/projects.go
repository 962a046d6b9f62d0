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

// ProjectRepository is the Mongo-backed, user-scoped store.ProjectRepository.
type ProjectRepository struct {
	db     *Database
	coll   *mongo.Collection
	userID string
}

func NewProjectRepository(db *Database) *ProjectRepository {
	return &ProjectRepository{db: db, coll: db.Mongo.Collection("projects")}
}

func (r *ProjectRepository) WithUser(userID string) store.ProjectRepository {
	return &ProjectRepository{db: r.db, coll: r.coll, userID: userID}
}

func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UserID = r.userID
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	if _, err := r.coll.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict(fmt.Sprintf("project %q already exists", p.Name))
		}
		return nil, apperrors.Internal("failed to create project", err)
	}
	r.db.audit(r.userID, "project", p.ID, "create")
	r.db.invalidate("project", p.ID, "create", r.userID, "", true)
	return p, nil
}

func (r *ProjectRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	var p models.Project
	if err := r.coll.FindOne(ctx, filter).Decode(&p); err != nil {
		return nil, notFoundOrInternal(err, "project", id)
	}
	r.db.audit(r.userID, "project", id, "read")
	return &p, nil
}

func (r *ProjectRepository) GetByName(ctx context.Context, name string) (*models.Project, error) {
	filter := applyUserFilter(bson.M{"name": name}, r.userID)
	var p models.Project
	if err := r.coll.FindOne(ctx, filter).Decode(&p); err != nil {
		return nil, notFoundOrInternal(err, "project", name)
	}
	return &p, nil
}

func (r *ProjectRepository) Update(ctx context.Context, id string, mutate func(*models.Project) error) (*models.Project, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now()

	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.ReplaceOne(ctx, filter, p)
	if err != nil {
		return nil, apperrors.Internal("failed to update project", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("project %q not found", id))
	}

	r.db.audit(r.userID, "project", id, "update")
	r.db.invalidate("project", id, "update", r.userID, "", true)
	return p, nil
}

func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	filter := applyUserFilter(bson.M{"_id": id}, r.userID)
	res, err := r.coll.DeleteOne(ctx, filter)
	if err != nil {
		return apperrors.Internal("failed to delete project", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.NotFound(fmt.Sprintf("project %q not found", id))
	}
	r.db.audit(r.userID, "project", id, "delete")
	r.db.invalidate("project", id, "delete", r.userID, "", true)
	return nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]*models.Project, error) {
	filter := applyUserFilter(bson.M{}, r.userID)
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, apperrors.Internal("failed to list projects", err)
	}
	defer cur.Close(ctx)

	var out []*models.Project
	for cur.Next(ctx) {
		var p models.Project
		if err := cur.Decode(&p); err != nil {
			return nil, apperrors.Internal("failed to decode project", err)
		}
		out = append(out, &p)
	}
	r.db.audit(r.userID, "project", fmt.Sprintf("count=%d", len(out)), "list")
	return out, nil
}
