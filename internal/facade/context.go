package facade

import (
	"context"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/contextengine"
	"hyperion-taskctl/internal/models"
)

// ContextFacade implements the manage_context use cases (spec.md §4.10.4)
// by delegating to the UnifiedContextService, which owns ancestor
// auto-creation, inheritance, and delegation.
type ContextFacade struct {
	svc    *contextengine.Service
	userID string
	logger *zap.Logger
	notify func(eventType, userID string, payload interface{})
}

func (f *ContextFacade) Create(ctx context.Context, level models.ContextLevel, id, projectID string, settings map[string]interface{}) (*models.Context, error) {
	created, err := f.svc.Create(ctx, f.userID, level, id, projectID, settings)
	if err != nil {
		return nil, err
	}
	f.notify(EventContextCreated, f.userID, created)
	return created, nil
}

func (f *ContextFacade) Get(ctx context.Context, level models.ContextLevel, id string) (*models.Context, error) {
	return f.svc.Get(ctx, f.userID, level, id)
}

func (f *ContextFacade) GetInherited(ctx context.Context, level models.ContextLevel, id string) (map[string]interface{}, error) {
	return f.svc.GetInherited(ctx, f.userID, level, id)
}

func (f *ContextFacade) Update(ctx context.Context, level models.ContextLevel, id string, settings map[string]interface{}, propagate bool) (*models.Context, error) {
	updated, err := f.svc.Update(ctx, f.userID, level, id, settings, propagate)
	if err != nil {
		return nil, err
	}
	f.notify(EventContextUpdated, f.userID, updated)
	return updated, nil
}

func (f *ContextFacade) Delete(ctx context.Context, level models.ContextLevel, id string) error {
	if err := f.svc.Delete(ctx, f.userID, level, id); err != nil {
		return err
	}
	f.notify(EventContextDeleted, f.userID, id)
	return nil
}

func (f *ContextFacade) List(ctx context.Context, level models.ContextLevel) ([]*models.Context, error) {
	return f.svc.List(ctx, f.userID, level)
}

func (f *ContextFacade) AddInsight(ctx context.Context, level models.ContextLevel, id, insight string) (*models.Context, error) {
	return f.svc.AddInsight(ctx, f.userID, level, id, insight)
}

func (f *ContextFacade) Delegate(ctx context.Context, fromLevel models.ContextLevel, fromID string, toLevel models.ContextLevel, toID string, fields []string) (from, to *models.Context, err error) {
	from, to, err = f.svc.Delegate(ctx, f.userID, fromLevel, fromID, toLevel, toID, fields)
	if err != nil {
		return nil, nil, err
	}
	f.notify(EventContextDelegated, f.userID, map[string]interface{}{"from": from, "to": to})
	return from, to, nil
}
