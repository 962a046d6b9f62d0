package facade

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// TaskFacade implements the manage_task use cases (spec.md §4.10.2) over an
// already-user-scoped TaskRepository.
type TaskFacade struct {
	repo   store.TaskRepository
	userID string
	logger *zap.Logger
	notify func(eventType, userID string, payload interface{})
}

// CreateTaskInput carries the coerced, validated parameters for action=create.
type CreateTaskInput struct {
	GitBranchID string
	Title       string
	Description string
	Priority    models.TaskPriority
	Status      models.TaskStatus
	Assignees   []string
	Labels      []string
	DueDate     *string
}

func (f *TaskFacade) Create(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if in.GitBranchID == "" {
		return nil, apperrors.MissingField("git_branch_id")
	}
	if in.Title == "" {
		return nil, apperrors.MissingField("title")
	}

	assignees, err := normalizeAssignees(in.Assignees)
	if err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	status := in.Status
	if status == "" {
		status = models.TaskStatusTodo
	}

	t := &models.Task{
		GitBranchID: in.GitBranchID,
		Title:       in.Title,
		Description: in.Description,
		Priority:    priority,
		Status:      status,
		Assignees:   assignees,
		Labels:      in.Labels,
	}

	created, err := f.repo.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	f.notify(EventTaskCreated, f.userID, created)
	return created, nil
}

type UpdateTaskInput struct {
	Title           *string
	Description     *string
	Status          *models.TaskStatus
	Priority        *models.TaskPriority
	Assignees       []string
	Labels          []string
	ProgressPercent *int
	EstimatedEffort *string
}

func (f *TaskFacade) Update(ctx context.Context, taskID string, in UpdateTaskInput) (*models.Task, error) {
	var blocked bool
	updated, err := f.repo.Update(ctx, taskID, func(t *models.Task) error {
		if in.Title != nil {
			t.Title = *in.Title
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Status != nil {
			t.Status = *in.Status
			blocked = *in.Status == models.TaskStatusBlocked
		}
		if in.Priority != nil {
			t.Priority = *in.Priority
		}
		if in.Assignees != nil {
			assignees, err := normalizeAssignees(in.Assignees)
			if err != nil {
				return apperrors.Validation(err.Error())
			}
			t.Assignees = assignees
		}
		if in.Labels != nil {
			t.Labels = in.Labels
		}
		if in.ProgressPercent != nil {
			if *in.ProgressPercent < 0 || *in.ProgressPercent > 100 {
				return apperrors.InvalidParam("progress_percentage", "must be between 0 and 100")
			}
			t.ProgressPercent = *in.ProgressPercent
		}
		if in.EstimatedEffort != nil {
			t.EstimatedEffort = *in.EstimatedEffort
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.notify(EventTaskUpdated, f.userID, updated)
	if blocked {
		f.notify(EventTaskBlocked, f.userID, updated)
	}
	return updated, nil
}

// Complete finishes a task. If it has incomplete subtasks, force=true
// auto-completes them; otherwise it fails listing them (spec.md §4.10.2).
func (f *TaskFacade) Complete(ctx context.Context, subtasks store.SubtaskRepository, taskID, completionSummary string, force bool) (*models.Task, error) {
	if completionSummary == "" {
		return nil, apperrors.MissingField("completion_summary")
	}

	open, err := subtasks.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var incomplete []*models.Subtask
	for _, s := range open {
		if s.Status != models.TaskStatusDone {
			incomplete = append(incomplete, s)
		}
	}

	if len(incomplete) > 0 {
		if !force {
			names := make([]string, len(incomplete))
			for i, s := range incomplete {
				names[i] = s.ID
			}
			return nil, &apperrors.AppError{
				Code:    apperrors.CodeValidation,
				Message: fmt.Sprintf("task has %d incomplete subtask(s)", len(incomplete)),
				Hint:    fmt.Sprintf("pass force=true to auto-complete: %v", names),
			}
		}
		for _, s := range incomplete {
			if _, err := subtasks.Update(ctx, s.ID, func(st *models.Subtask) error {
				st.Status = models.TaskStatusDone
				st.ProgressPercent = 100
				return nil
			}); err != nil {
				return nil, fmt.Errorf("facade: auto-complete subtask %s: %w", s.ID, err)
			}
			f.notify(EventSubtaskCompleted, f.userID, s)
		}
	}

	updated, err := f.repo.Update(ctx, taskID, func(t *models.Task) error {
		t.Status = models.TaskStatusDone
		t.ProgressPercent = 100
		t.CompletionSummary = completionSummary
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventTaskCompleted, f.userID, updated)
	return updated, nil
}

func (f *TaskFacade) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return f.repo.Get(ctx, taskID)
}

func (f *TaskFacade) List(ctx context.Context, filter store.ListFilter) ([]*models.Task, error) {
	return f.repo.List(ctx, filter)
}

func (f *TaskFacade) Search(ctx context.Context, query string, limit int) ([]*models.Task, error) {
	if query == "" {
		return nil, apperrors.MissingField("query")
	}
	return f.repo.Search(ctx, query, limit)
}

// Next returns the highest-priority todo|in_progress task on gitBranchID.
func (f *TaskFacade) Next(ctx context.Context, gitBranchID string) (*models.Task, error) {
	candidates, err := f.repo.List(ctx, store.ListFilter{GitBranchID: gitBranchID, Limit: 1000})
	if err != nil {
		return nil, err
	}
	var best *models.Task
	for _, t := range candidates {
		if t.Status != models.TaskStatusTodo && t.Status != models.TaskStatusInProgress {
			continue
		}
		if best == nil || t.Priority.Rank() > best.Priority.Rank() {
			best = t
		}
	}
	if best == nil {
		return nil, apperrors.NotFound("no actionable task found on this branch")
	}
	return best, nil
}

func (f *TaskFacade) AddDependency(ctx context.Context, taskID, dependencyID string) (*models.Task, error) {
	if taskID == dependencyID {
		return nil, apperrors.DependencyCycle("a task cannot depend on itself")
	}
	if err := f.detectCycle(ctx, dependencyID, taskID, map[string]bool{}); err != nil {
		return nil, err
	}

	updated, err := f.repo.Update(ctx, taskID, func(t *models.Task) error {
		for _, d := range t.Dependencies {
			if d == dependencyID {
				return nil
			}
		}
		t.Dependencies = append(t.Dependencies, dependencyID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventTaskUpdated, f.userID, updated)
	return updated, nil
}

// detectCycle walks from candidate's dependencies looking for target,
// returning DEPENDENCY_CYCLE if found.
func (f *TaskFacade) detectCycle(ctx context.Context, candidate, target string, seen map[string]bool) error {
	if candidate == target {
		return apperrors.DependencyCycle(fmt.Sprintf("adding this dependency would create a cycle through %s", candidate))
	}
	if seen[candidate] {
		return nil
	}
	seen[candidate] = true

	t, err := f.repo.Get(ctx, candidate)
	if err != nil {
		return nil // unknown dependency id: let the repository surface NOT_FOUND elsewhere
	}
	for _, dep := range t.Dependencies {
		if err := f.detectCycle(ctx, dep, target, seen); err != nil {
			return err
		}
	}
	return nil
}

func (f *TaskFacade) RemoveDependency(ctx context.Context, taskID, dependencyID string) (*models.Task, error) {
	updated, err := f.repo.Update(ctx, taskID, func(t *models.Task) error {
		out := t.Dependencies[:0]
		for _, d := range t.Dependencies {
			if d != dependencyID {
				out = append(out, d)
			}
		}
		t.Dependencies = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.notify(EventTaskUpdated, f.userID, updated)
	return updated, nil
}

// Delete removes taskID, cascading to its subtasks and its task-level
// context row (spec.md §4.10.2: delete "cascades to subtasks and task
// context"). A missing context row is not an error — the task may never
// have had one created.
func (f *TaskFacade) Delete(ctx context.Context, subtasks store.SubtaskRepository, contexts *ContextFacade, taskID string) error {
	open, err := subtasks.ListByTask(ctx, taskID)
	if err != nil {
		return err
	}
	for _, s := range open {
		if err := subtasks.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("facade: cascade delete subtask %s: %w", s.ID, err)
		}
	}

	if err := contexts.Delete(ctx, models.ContextLevelTask, taskID); err != nil && apperrors.As(err).Code != apperrors.CodeNotFound {
		return fmt.Errorf("facade: cascade delete task context: %w", err)
	}

	if err := f.repo.Delete(ctx, taskID); err != nil {
		return err
	}
	f.notify(EventTaskDeleted, f.userID, taskID)
	return nil
}
