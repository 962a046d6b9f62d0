package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperion-taskctl/internal/enforcement"
)

func TestManageGitBranchCreateGetUpdateList(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	created := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action":     "create",
		"project_id": "proj-1",
		"name":       "feature/x",
	})
	env := decodeEnvelope(t, created)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	branchID, _ := data["id"].(string)
	require.NotEmpty(t, branchID)

	getResult := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action":        "get",
		"git_branch_id": branchID,
	})
	assert.Equal(t, true, decodeEnvelope(t, getResult)["success"])

	updateResult := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action":        "update",
		"git_branch_id": branchID,
		"description":   "renamed",
	})
	assert.Equal(t, true, decodeEnvelope(t, updateResult)["success"])

	listResult := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action":     "list",
		"project_id": "proj-1",
	})
	assert.Equal(t, true, decodeEnvelope(t, listResult)["success"])
}

func TestManageGitBranchListRequiresProjectID(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action": "list",
	})
	env := decodeEnvelope(t, result)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]interface{})
	assert.Equal(t, "MISSING_FIELD", errObj["code"])
}

func TestManageGitBranchDeleteReturnsDeletedMarker(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	created := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action":     "create",
		"project_id": "proj-1",
		"name":       "to-delete",
	})
	branchID := decodeEnvelope(t, created)["data"].(map[string]interface{})["id"].(string)

	result := handleManageGitBranch(ctx, deps, map[string]interface{}{
		"action":        "delete",
		"git_branch_id": branchID,
	})
	env := decodeEnvelope(t, result)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, true, data["deleted"])
}
