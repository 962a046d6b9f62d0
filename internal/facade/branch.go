package facade

import (
	"context"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// BranchFacade implements the manage_git_branch use cases over an
// already-user-scoped GitBranchRepository.
type BranchFacade struct {
	repo   store.GitBranchRepository
	userID string
	logger *zap.Logger
	notify func(eventType, userID string, payload interface{})
}

func (f *BranchFacade) Create(ctx context.Context, projectID, name, description string) (*models.GitBranch, error) {
	if projectID == "" {
		return nil, apperrors.MissingField("project_id")
	}
	if name == "" {
		return nil, apperrors.MissingField("name")
	}
	created, err := f.repo.Create(ctx, &models.GitBranch{ProjectID: projectID, Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	f.notify(EventBranchCreated, f.userID, created)
	return created, nil
}

func (f *BranchFacade) Get(ctx context.Context, id string) (*models.GitBranch, error) {
	return f.repo.Get(ctx, id)
}

func (f *BranchFacade) Update(ctx context.Context, id string, name, description *string) (*models.GitBranch, error) {
	updated, err := f.repo.Update(ctx, id, func(b *models.GitBranch) error {
		if name != nil {
			b.Name = *name
		}
		if description != nil {
			b.Description = *description
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventBranchUpdated, f.userID, updated)
	return updated, nil
}

func (f *BranchFacade) Delete(ctx context.Context, id string) error {
	if err := f.repo.Delete(ctx, id); err != nil {
		return err
	}
	f.notify(EventBranchDeleted, f.userID, id)
	return nil
}

func (f *BranchFacade) ListByProject(ctx context.Context, projectID string) ([]*models.GitBranch, error) {
	return f.repo.ListByProject(ctx, projectID)
}
