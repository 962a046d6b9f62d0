package facade

import (
	"context"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// ProjectFacade implements the manage_project use cases over an
// already-user-scoped ProjectRepository.
type ProjectFacade struct {
	repo   store.ProjectRepository
	userID string
	logger *zap.Logger
	notify func(eventType, userID string, payload interface{})
}

func (f *ProjectFacade) Create(ctx context.Context, name, description string) (*models.Project, error) {
	if name == "" {
		return nil, apperrors.MissingField("name")
	}
	created, err := f.repo.Create(ctx, &models.Project{Name: name, Description: description})
	if err != nil {
		return nil, err
	}
	f.notify(EventProjectCreated, f.userID, created)
	return created, nil
}

func (f *ProjectFacade) Get(ctx context.Context, id string) (*models.Project, error) {
	return f.repo.Get(ctx, id)
}

func (f *ProjectFacade) GetByName(ctx context.Context, name string) (*models.Project, error) {
	return f.repo.GetByName(ctx, name)
}

func (f *ProjectFacade) Update(ctx context.Context, id string, name, description *string) (*models.Project, error) {
	updated, err := f.repo.Update(ctx, id, func(p *models.Project) error {
		if name != nil {
			p.Name = *name
		}
		if description != nil {
			p.Description = *description
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventProjectUpdated, f.userID, updated)
	return updated, nil
}

func (f *ProjectFacade) Delete(ctx context.Context, id string) error {
	if err := f.repo.Delete(ctx, id); err != nil {
		return err
	}
	f.notify(EventProjectDeleted, f.userID, id)
	return nil
}

func (f *ProjectFacade) List(ctx context.Context) ([]*models.Project, error) {
	return f.repo.List(ctx)
}
