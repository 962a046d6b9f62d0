package facade_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/cache"
	"hyperion-taskctl/internal/contextengine"
	"hyperion-taskctl/internal/eventbus"
	"hyperion-taskctl/internal/facade"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
	"hyperion-taskctl/internal/store/memstore"
)

func newFactory(t *testing.T) (*facade.Factory, *eventbus.Bus) {
	ms := memstore.New()
	bus := eventbus.New(zap.NewNop(), eventbus.Config{})
	t.Cleanup(func() { _ = bus.Stop() })

	backend := store.Backend{
		Tasks:    ms.Tasks(),
		Subtasks: ms.Subtasks(),
		Projects: ms.Projects(),
		Branches: ms.Branches(),
		Contexts: ms.Contexts,
		Tokens:   ms.ApiTokens(),
	}
	return facade.NewFactory(backend, bus, nil, zap.NewNop()), bus
}

// newFactoryWithContext is newFactory plus a real contextengine.Service, for
// tests that exercise manage_context-adjacent cascades (e.g. task delete).
func newFactoryWithContext(t *testing.T) (*facade.Factory, store.Backend) {
	ms := memstore.New()
	bus := eventbus.New(zap.NewNop(), eventbus.Config{})
	t.Cleanup(func() { _ = bus.Stop() })

	backend := store.Backend{
		Tasks:    ms.Tasks(),
		Subtasks: ms.Subtasks(),
		Projects: ms.Projects(),
		Branches: ms.Branches(),
		Contexts: ms.Contexts,
		Tokens:   ms.ApiTokens(),
	}

	lookup := contextengine.BackendLookup{Backend: backend}
	ctxSvc := contextengine.New(contextengine.Repositories{
		Global:  backend.Contexts(models.ContextLevelGlobal),
		Project: backend.Contexts(models.ContextLevelProject),
		Branch:  backend.Contexts(models.ContextLevelBranch),
		Task:    backend.Contexts(models.ContextLevelTask),
	}, lookup, cache.New(zap.NewNop(), cache.Thresholds{}), zap.NewNop())

	return facade.NewFactory(backend, bus, ctxSvc, zap.NewNop()), backend
}

func TestTaskCreateDefaultsPriorityAndStatus(t *testing.T) {
	f, _ := newFactory(t)
	tf := f.Task("branch-1", "user-a")

	task, err := tf.Create(context.Background(), facade.CreateTaskInput{GitBranchID: "branch-1", Title: "do thing"})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	assert.Equal(t, models.TaskStatusTodo, task.Status)
}

func TestTaskCreateRejectsUnknownAssignee(t *testing.T) {
	f, _ := newFactory(t)
	tf := f.Task("branch-1", "user-a")

	_, err := tf.Create(context.Background(), facade.CreateTaskInput{
		GitBranchID: "branch-1", Title: "x", Assignees: []string{"@not-a-real-agent"},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.As(err).Code)
}

func TestTaskCompleteFailsOnIncompleteSubtasksWithoutForce(t *testing.T) {
	ms := memstore.New()
	backend := store.Backend{Tasks: ms.Tasks(), Subtasks: ms.Subtasks()}
	bus := eventbus.New(zap.NewNop(), eventbus.Config{})
	t.Cleanup(func() { _ = bus.Stop() })
	f := facade.NewFactory(backend, bus, nil, zap.NewNop())

	tf := f.Task("branch-1", "user-a")
	task, err := tf.Create(context.Background(), facade.CreateTaskInput{GitBranchID: "branch-1", Title: "parent"})
	require.NoError(t, err)

	subtasks := backend.Subtasks.WithUser("user-a")
	_, err = subtasks.Create(context.Background(), &models.Subtask{TaskID: task.ID, Title: "child", Status: models.TaskStatusTodo})
	require.NoError(t, err)

	_, err = tf.Complete(context.Background(), subtasks, task.ID, "done", false)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.As(err).Code)

	completed, err := tf.Complete(context.Background(), subtasks, task.ID, "done", true)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, completed.Status)
}

func TestTaskAddDependencyRejectsCycle(t *testing.T) {
	f, _ := newFactory(t)
	tf := f.Task("branch-1", "user-a")
	ctx := context.Background()

	a, err := tf.Create(ctx, facade.CreateTaskInput{GitBranchID: "branch-1", Title: "a"})
	require.NoError(t, err)
	b, err := tf.Create(ctx, facade.CreateTaskInput{GitBranchID: "branch-1", Title: "b"})
	require.NoError(t, err)

	_, err = tf.AddDependency(ctx, a.ID, b.ID)
	require.NoError(t, err)

	_, err = tf.AddDependency(ctx, b.ID, a.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDependencyCycle, apperrors.As(err).Code)
}

func TestTaskListScopesToGitBranchID(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	tf1 := f.Task("branch-1", "user-a")
	_, err := tf1.Create(ctx, facade.CreateTaskInput{GitBranchID: "branch-1", Title: "in-branch-1"})
	require.NoError(t, err)

	tf2 := f.Task("branch-2", "user-a")
	_, err = tf2.Create(ctx, facade.CreateTaskInput{GitBranchID: "branch-2", Title: "in-branch-2"})
	require.NoError(t, err)

	list, err := tf1.List(ctx, store.ListFilter{GitBranchID: "branch-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "in-branch-1", list[0].Title)
}

func TestSubtaskCreateInheritsParentAssignees(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	tf := f.Task("branch-1", "user-a")
	parent, err := tf.Create(ctx, facade.CreateTaskInput{
		GitBranchID: "branch-1", Title: "parent", Assignees: []string{"@coding-agent"},
	})
	require.NoError(t, err)

	sf := f.Subtask("branch-1", "user-a")
	sub, err := sf.Create(ctx, facade.CreateSubtaskInput{TaskID: parent.ID, Title: "child"})
	require.NoError(t, err)
	assert.Equal(t, []string{"@coding-agent"}, sub.Assignees)
}

func TestSubtaskCreateWithExplicitEmptyAssigneesStaysEmpty(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	tf := f.Task("branch-1", "user-a")
	parent, err := tf.Create(ctx, facade.CreateTaskInput{
		GitBranchID: "branch-1", Title: "parent", Assignees: []string{"@coding-agent"},
	})
	require.NoError(t, err)

	sf := f.Subtask("branch-1", "user-a")
	sub, err := sf.Create(ctx, facade.CreateSubtaskInput{TaskID: parent.ID, Title: "child", Assignees: []string{}})
	require.NoError(t, err)
	assert.Empty(t, sub.Assignees)
}

func TestSubtaskUpdateProgress100IsEquivalentToComplete(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	tf := f.Task("branch-1", "user-a")
	parent, err := tf.Create(ctx, facade.CreateTaskInput{GitBranchID: "branch-1", Title: "parent"})
	require.NoError(t, err)

	sf := f.Subtask("branch-1", "user-a")
	sub, err := sf.Create(ctx, facade.CreateSubtaskInput{TaskID: parent.ID, Title: "child"})
	require.NoError(t, err)

	full := 100
	updated, err := sf.Update(ctx, sub.ID, facade.UpdateSubtaskInput{TaskID: parent.ID, ProgressPercent: &full})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, updated.Status)
	assert.NotNil(t, updated.CompletedAt)
}

func TestSubtaskOperationsRejectForeignTask(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	sf := f.Subtask("branch-1", "user-a")
	_, err := sf.Create(ctx, facade.CreateSubtaskInput{TaskID: "nonexistent-task", Title: "x"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.As(err).Code)
}

func TestTaskDeleteCascadesToSubtasksAndContext(t *testing.T) {
	f, backend := newFactoryWithContext(t)
	ctx := context.Background()

	pf := f.Project("user-a")
	proj, err := pf.Create(ctx, "proj", "desc")
	require.NoError(t, err)

	bf := f.Branch(proj.ID, "user-a")
	branch, err := bf.Create(ctx, proj.ID, "branch-1", "")
	require.NoError(t, err)

	tf := f.Task(branch.ID, "user-a")
	task, err := tf.Create(ctx, facade.CreateTaskInput{GitBranchID: branch.ID, Title: "parent"})
	require.NoError(t, err)

	subtasks := backend.Subtasks.WithUser("user-a")
	sub, err := subtasks.Create(ctx, &models.Subtask{TaskID: task.ID, Title: "child", Status: models.TaskStatusTodo})
	require.NoError(t, err)

	cf := f.Context("user-a")
	_, err = cf.Create(ctx, models.ContextLevelTask, task.ID, "", map[string]interface{}{"note": "keep me"})
	require.NoError(t, err)

	require.NoError(t, tf.Delete(ctx, subtasks, cf, task.ID))

	_, err = subtasks.Get(ctx, sub.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.As(err).Code, "delete must cascade to subtasks")

	_, err = cf.Get(ctx, models.ContextLevelTask, task.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.As(err).Code, "delete must cascade to the task's context row")

	_, err = backend.Tasks.WithUser("user-a").Get(ctx, task.ID)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.As(err).Code)
}

func TestTaskDeleteToleratesMissingContext(t *testing.T) {
	f, backend := newFactoryWithContext(t)
	ctx := context.Background()

	tf := f.Task("branch-1", "user-a")
	task, err := tf.Create(ctx, facade.CreateTaskInput{GitBranchID: "branch-1", Title: "no context ever made"})
	require.NoError(t, err)

	subtasks := backend.Subtasks.WithUser("user-a")
	cf := f.Context("user-a")

	require.NoError(t, tf.Delete(ctx, subtasks, cf, task.ID))
}

func TestProjectCreateConflictsOnDuplicateName(t *testing.T) {
	f, _ := newFactory(t)
	ctx := context.Background()

	pf := f.Project("user-a")
	_, err := pf.Create(ctx, "proj", "desc")
	require.NoError(t, err)

	_, err = pf.Create(ctx, "proj", "desc2")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.As(err).Code)
}
