package contextengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store/memstore"
)

// fakeLookup resolves branch/project ids from an in-memory map the test
// populates directly, standing in for the mongostore-backed branch/task
// repositories a real wiring would use.
type fakeLookup struct {
	branchToProject map[string]string
	taskToBranch    map[string]string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{branchToProject: map[string]string{}, taskToBranch: map[string]string{}}
}

func (f *fakeLookup) ProjectIDForBranch(ctx context.Context, userID, branchID string) (string, error) {
	if p, ok := f.branchToProject[branchID]; ok {
		return p, nil
	}
	return "", apperrors.NotFound("branch not found")
}

func (f *fakeLookup) BranchIDForTask(ctx context.Context, userID, taskID string) (string, error) {
	if b, ok := f.taskToBranch[taskID]; ok {
		return b, nil
	}
	return "", apperrors.NotFound("task not found")
}

func newService() (*Service, *fakeLookup) {
	ms := memstore.New()
	repos := Repositories{
		Global:  ms.Contexts(models.ContextLevelGlobal),
		Project: ms.Contexts(models.ContextLevelProject),
		Branch:  ms.Contexts(models.ContextLevelBranch),
		Task:    ms.Contexts(models.ContextLevelTask),
	}
	lookup := newFakeLookup()
	return New(repos, lookup, nil, zap.NewNop()), lookup
}

func TestGlobalContextIDIsDeterministicAndPerUser(t *testing.T) {
	idA1 := GlobalContextID("user-a")
	idA2 := GlobalContextID("user-a")
	idB := GlobalContextID("user-b")

	assert.Equal(t, idA1, idA2)
	assert.NotEqual(t, idA1, idB)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000001", idA1)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000001", idB)
}

func TestEnsureGlobalCreatesOncePerUser(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c1, err := svc.EnsureGlobal(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, GlobalContextID("user-a"), c1.ID)
	assert.Equal(t, true, c1.Metadata["auto_created"])

	c2, err := svc.EnsureGlobal(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
}

func TestHierarchicalAutoCreationOnBranchCreate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.Create(ctx, "user-a", models.ContextLevelBranch, "branch-1", "project-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "branch-1", created.ID)

	global, err := svc.Get(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"))
	require.NoError(t, err)
	assert.Equal(t, "user-a", global.UserID)

	project, err := svc.Get(ctx, "user-a", models.ContextLevelProject, "project-1")
	require.NoError(t, err)
	assert.Equal(t, "user-a", project.UserID)
	assert.Equal(t, true, project.Metadata["auto_created"])

	branch, err := svc.Get(ctx, "user-a", models.ContextLevelBranch, "branch-1")
	require.NoError(t, err)
	assert.Equal(t, "project-1", branch.ProjectID)
}

func TestHierarchicalAutoCreationOnTaskCreateResolvesViaLookup(t *testing.T) {
	svc, lookup := newService()
	ctx := context.Background()
	lookup.taskToBranch["task-1"] = "branch-9"
	lookup.branchToProject["branch-9"] = "project-9"

	_, err := svc.EnsureTask(ctx, "user-a", "task-1")
	require.NoError(t, err)

	_, err = svc.Get(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"))
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-a", models.ContextLevelProject, "project-9")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-a", models.ContextLevelBranch, "branch-9")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "user-a", models.ContextLevelTask, "task-1")
	require.NoError(t, err)
}

func TestUserIsolationOfGlobalContext(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"), "", map[string]interface{}{"org": "ACME"})
	require.NoError(t, err)

	bGlobal, err := svc.EnsureGlobal(ctx, "user-b")
	require.NoError(t, err)
	assert.Empty(t, bGlobal.Settings)
	assert.NotEqual(t, GlobalContextID("user-a"), bGlobal.ID)
}

func TestInheritedViewDeepMergesAncestorChain(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"), "",
		map[string]interface{}{"coding_standards": map[string]interface{}{"lint": "strict"}, "org": "ACME"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "user-a", models.ContextLevelProject, "project-1", "",
		map[string]interface{}{"coding_standards": map[string]interface{}{"test_coverage": "90%"}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "user-a", models.ContextLevelBranch, "branch-1", "project-1",
		map[string]interface{}{"feature_flag": "on"})
	require.NoError(t, err)

	merged, err := svc.GetInherited(ctx, "user-a", models.ContextLevelBranch, "branch-1")
	require.NoError(t, err)

	assert.Equal(t, "ACME", merged["org"])
	assert.Equal(t, "on", merged["feature_flag"])
	standards := merged["coding_standards"].(map[string]interface{})
	assert.Equal(t, "strict", standards["lint"])
	assert.Equal(t, "90%", standards["test_coverage"])
}

func TestRoundTripCustomSlot(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	payload := map[string]interface{}{
		"autonomous_rules": "x",
		"_custom":          map[string]interface{}{"favorite_color": "teal"},
	}
	created, err := svc.Create(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"), "", payload)
	require.NoError(t, err)
	assert.Equal(t, "x", created.Settings["autonomous_rules"])

	fetched, err := svc.Get(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"))
	require.NoError(t, err)
	custom := fetched.Settings["_custom"].(map[string]interface{})
	assert.Equal(t, "teal", custom["favorite_color"])
}

func TestDelegateMovesFieldsUpAndRecordsMetadata(t *testing.T) {
	svc, lookup := newService()
	ctx := context.Background()
	lookup.branchToProject["branch-1"] = "project-1"

	_, err := svc.Create(ctx, "user-a", models.ContextLevelBranch, "branch-1", "project-1",
		map[string]interface{}{"retry_policy": "exponential"})
	require.NoError(t, err)

	from, to, err := svc.Delegate(ctx, "user-a", models.ContextLevelBranch, "branch-1", models.ContextLevelProject, "project-1", []string{"retry_policy"})
	require.NoError(t, err)

	assert.Equal(t, "exponential", to.Settings["retry_policy"])
	delegations := from.Metadata["delegations"].([]interface{})
	require.Len(t, delegations, 1)
}

func TestAddInsightAppendsWithoutLosingExisting(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"), "", nil)
	require.NoError(t, err)

	_, err = svc.AddInsight(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"), "first insight")
	require.NoError(t, err)
	updated, err := svc.AddInsight(ctx, "user-a", models.ContextLevelGlobal, GlobalContextID("user-a"), "second insight")
	require.NoError(t, err)

	custom := updated.Settings["_custom"].(map[string]interface{})
	insights := custom["insights"].([]interface{})
	assert.Len(t, insights, 2)
}
