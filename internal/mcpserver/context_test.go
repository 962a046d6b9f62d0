package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperion-taskctl/internal/contextengine"
	"hyperion-taskctl/internal/enforcement"
)

func TestManageContextCreateGlobalAndGet(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	created := handleManageContext(ctx, deps, map[string]interface{}{
		"action": "create",
		"level":  "global",
		"data":   map[string]interface{}{"theme": "dark"},
	})
	env := decodeEnvelope(t, created)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	contextID, _ := data["id"].(string)
	require.NotEmpty(t, contextID)

	getResult := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "get",
		"level":      "global",
		"context_id": contextID,
	})
	assert.Equal(t, true, decodeEnvelope(t, getResult)["success"])
}

func TestManageContextCreateAutoCreatesAncestors(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "create",
		"level":      "branch",
		"context_id": "branch-1",
		"project_id": "project-1",
		"data":       map[string]interface{}{"ci": "enabled"},
	})
	env := decodeEnvelope(t, result)
	require.Equal(t, true, env["success"])

	projectCtx := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "get",
		"level":      "project",
		"context_id": "project-1",
	})
	assert.Equal(t, true, decodeEnvelope(t, projectCtx)["success"], "creating a branch context should auto-create its project ancestor")
}

func TestManageContextBranchCreateRequiresProjectID(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "create",
		"level":      "branch",
		"context_id": "branch-1",
	})
	env := decodeEnvelope(t, result)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]interface{})
	assert.Equal(t, "MISSING_FIELD", errObj["code"])
}

func TestManageContextAddInsightAppendsWithoutLosingSettings(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	created := handleManageContext(ctx, deps, map[string]interface{}{
		"action": "create",
		"level":  "global",
		"data":   map[string]interface{}{"theme": "dark"},
	})
	contextID := decodeEnvelope(t, created)["data"].(map[string]interface{})["id"].(string)

	result := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "add_insight",
		"level":      "global",
		"context_id": contextID,
		"insight":    "retries spike on Mondays",
	})
	env := decodeEnvelope(t, result)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	settings := data["settings"].(map[string]interface{})
	assert.Equal(t, "dark", settings["theme"], "add_insight must not clobber pre-existing settings")
}

func TestManageContextDelegateMovesFieldsBetweenLevels(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	handleManageContext(ctx, deps, map[string]interface{}{
		"action": "create",
		"level":  "global",
		"data":   map[string]interface{}{"rollout_policy": "canary"},
	})
	handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "create",
		"level":      "project",
		"context_id": "project-1",
	})

	result := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "delegate",
		"level":      "global",
		"from_level": "global",
		"from_id":    contextengine.GlobalContextID(testUser),
		"to_level":   "project",
		"to_id":      "project-1",
		"fields":     []interface{}{"rollout_policy"},
	})
	env := decodeEnvelope(t, result)
	require.Equal(t, true, env["success"], "%v", env["error"])
}

func TestManageContextDelegateRequiresFromAndToID(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageContext(ctx, deps, map[string]interface{}{
		"action":     "delegate",
		"level":      "global",
		"from_level": "global",
		"to_level":   "project",
		"to_id":      "project-1",
	})
	env := decodeEnvelope(t, result)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]interface{})
	assert.Equal(t, "MISSING_FIELD", errObj["code"])
}

func TestManageContextInvalidDataJSONRejected(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageContext(ctx, deps, map[string]interface{}{
		"action": "create",
		"level":  "global",
		"data":   "{not valid json",
	})
	env := decodeEnvelope(t, result)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_PARAMETER_FORMAT", errObj["code"])
}
