package facade

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/agentcatalog"
	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// SubtaskFacade implements the manage_subtask use cases (spec.md §4.10.3).
// Every operation first confirms the parent task exists and belongs to the
// caller — a missing or foreign parent surfaces as NOT_FOUND, never a
// distinct "forbidden" code (spec.md §4.6).
type SubtaskFacade struct {
	repo     store.SubtaskRepository
	taskRepo store.TaskRepository
	userID   string
	logger   *zap.Logger
	notify   func(eventType, userID string, payload interface{})
}

func (f *SubtaskFacade) parentTask(ctx context.Context, taskID string) (*models.Task, error) {
	if taskID == "" {
		return nil, apperrors.MissingField("task_id")
	}
	return f.taskRepo.Get(ctx, taskID)
}

type CreateSubtaskInput struct {
	TaskID      string
	Title       string
	Description string
	Assignees   []string // nil means "omitted": inherit parent's assignees
}

func (f *SubtaskFacade) Create(ctx context.Context, in CreateSubtaskInput) (*models.Subtask, error) {
	parent, err := f.parentTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, apperrors.MissingField("title")
	}

	assignees := agentcatalog.InheritAssignees(in.Assignees, parent.Assignees)
	if in.Assignees != nil {
		normalized, err := normalizeAssignees(in.Assignees)
		if err != nil {
			return nil, apperrors.Validation(err.Error())
		}
		assignees = normalized
	}

	created, err := f.repo.Create(ctx, &models.Subtask{
		TaskID:      in.TaskID,
		Title:       in.Title,
		Description: in.Description,
		Status:      models.TaskStatusTodo,
		Assignees:   assignees,
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventSubtaskCreated, f.userID, created)
	return created, nil
}

type UpdateSubtaskInput struct {
	TaskID            string
	Title             *string
	Description       *string
	Status            *models.TaskStatus
	ProgressPercent   *int
	Assignees         []string
	CompletionSummary *string
}

func (f *SubtaskFacade) Update(ctx context.Context, subtaskID string, in UpdateSubtaskInput) (*models.Subtask, error) {
	if _, err := f.parentTask(ctx, in.TaskID); err != nil {
		return nil, err
	}

	var completing bool
	updated, err := f.repo.Update(ctx, subtaskID, func(s *models.Subtask) error {
		if in.Title != nil {
			s.Title = *in.Title
		}
		if in.Description != nil {
			s.Description = *in.Description
		}
		if in.Status != nil {
			s.Status = *in.Status
		}
		if in.Assignees != nil {
			normalized, err := normalizeAssignees(in.Assignees)
			if err != nil {
				return apperrors.Validation(err.Error())
			}
			s.Assignees = normalized
		}
		if in.ProgressPercent != nil {
			if *in.ProgressPercent < 0 || *in.ProgressPercent > 100 {
				return apperrors.InvalidParam("progress_percentage", "must be between 0 and 100")
			}
			s.ProgressPercent = *in.ProgressPercent
			// update with progress_percentage=100 is internally equivalent
			// to complete (spec.md §4.10.3).
			if *in.ProgressPercent == 100 {
				completing = true
				s.Status = models.TaskStatusDone
				now := time.Now()
				s.CompletedAt = &now
				if in.CompletionSummary != nil {
					s.InsightsFound = append(s.InsightsFound, *in.CompletionSummary)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completing {
		f.notify(EventSubtaskCompleted, f.userID, updated)
	} else {
		f.notify(EventSubtaskUpdated, f.userID, updated)
	}
	return updated, nil
}

func (f *SubtaskFacade) Complete(ctx context.Context, taskID, subtaskID, completionSummary string) (*models.Subtask, error) {
	if _, err := f.parentTask(ctx, taskID); err != nil {
		return nil, err
	}
	if completionSummary == "" {
		return nil, apperrors.MissingField("completion_summary")
	}

	updated, err := f.repo.Update(ctx, subtaskID, func(s *models.Subtask) error {
		s.Status = models.TaskStatusDone
		s.ProgressPercent = 100
		now := time.Now()
		s.CompletedAt = &now
		s.InsightsFound = append(s.InsightsFound, completionSummary)
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventSubtaskCompleted, f.userID, updated)
	return updated, nil
}

func (f *SubtaskFacade) Get(ctx context.Context, taskID, subtaskID string) (*models.Subtask, error) {
	if _, err := f.parentTask(ctx, taskID); err != nil {
		return nil, err
	}
	return f.repo.Get(ctx, subtaskID)
}

func (f *SubtaskFacade) List(ctx context.Context, taskID string) ([]*models.Subtask, error) {
	if _, err := f.parentTask(ctx, taskID); err != nil {
		return nil, err
	}
	return f.repo.ListByTask(ctx, taskID)
}

func (f *SubtaskFacade) Delete(ctx context.Context, taskID, subtaskID string) error {
	if _, err := f.parentTask(ctx, taskID); err != nil {
		return err
	}
	if err := f.repo.Delete(ctx, subtaskID); err != nil {
		return err
	}
	f.notify(EventSubtaskDeleted, f.userID, subtaskID)
	return nil
}
