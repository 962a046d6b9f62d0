package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperion-taskctl/internal/enforcement"
)

func TestManageConnectionHealthCheckAndCapabilities(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	health := handleManageConnection(ctx, deps, map[string]interface{}{"action": "health_check"})
	env := decodeEnvelope(t, health)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "ok", data["status"])

	caps := handleManageConnection(ctx, deps, map[string]interface{}{"action": "server_capabilities"})
	assert.Equal(t, true, decodeEnvelope(t, caps)["success"])

	connHealth := handleManageConnection(ctx, deps, map[string]interface{}{"action": "connection_health"})
	assert.Equal(t, true, decodeEnvelope(t, connHealth)["success"])

	status := handleManageConnection(ctx, deps, map[string]interface{}{"action": "status"})
	assert.Equal(t, true, decodeEnvelope(t, status)["success"])
}

func TestManageConnectionRegisterUpdatesDefaultsSessionID(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageConnection(ctx, deps, map[string]interface{}{"action": "register_updates"})
	env := decodeEnvelope(t, result)
	require.Equal(t, true, env["success"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "default_session", data["session_id"])
	assert.Equal(t, true, data["registered"])
}

func TestManageConnectionRegisterUpdatesHonorsExplicitSessionID(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageConnection(ctx, deps, map[string]interface{}{
		"action":     "register_updates",
		"session_id": "session-42",
	})
	data := decodeEnvelope(t, result)["data"].(map[string]interface{})
	assert.Equal(t, "session-42", data["session_id"])
}

func TestManageConnectionRejectsMalformedClientInfoJSON(t *testing.T) {
	deps := newTestDeps(t, enforcement.LevelDisabled)
	ctx := authedContext(testUser)

	result := handleManageConnection(ctx, deps, map[string]interface{}{
		"action":      "status",
		"client_info": "{not valid json",
	})
	env := decodeEnvelope(t, result)
	assert.Equal(t, false, env["success"])
	errObj := env["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_PARAMETER_FORMAT", errObj["code"])
}
