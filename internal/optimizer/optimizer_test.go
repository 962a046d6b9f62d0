package optimizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope() map[string]interface{} {
	return map[string]interface{}{
		"success":      true,
		"operation":    "update",
		"operation_id": "op-1",
		"timestamp":    "2026-07-31T00:00:00Z",
		"data": map[string]interface{}{
			"task_id": "t1",
			"title":   "Fix bug",
			"labels":  []interface{}{"backend"},
			"note":    "",
		},
		"confirmation": map[string]interface{}{
			"data_persisted":   true,
			"partial_failures": []interface{}{},
			"operation_details": map[string]interface{}{
				"operation":    "update",
				"operation_id": "op-1",
				"timestamp":    "2026-07-31T00:00:00Z",
			},
		},
	}
}

func TestSelectProfileHeuristics(t *testing.T) {
	assert.Equal(t, ProfileMinimal, SelectProfile(RequestContext{Operation: "list"}))
	assert.Equal(t, ProfileMinimal, SelectProfile(RequestContext{ResultListLength: 20}))
	assert.Equal(t, ProfileDetailed, SelectProfile(RequestContext{Assignees: []string{"@coding-agent"}}))
	assert.Equal(t, ProfileDetailed, SelectProfile(RequestContext{Agent: "coding-agent"}))
	assert.Equal(t, ProfileDebug, SelectProfile(RequestContext{Debug: true}))
	assert.Equal(t, ProfileStandard, SelectProfile(RequestContext{}))
	assert.Equal(t, ProfileMinimal, SelectProfile(RequestContext{Operation: "list", ExplicitProfile: "", Debug: true}))
	assert.Equal(t, ProfileDebug, SelectProfile(RequestContext{Operation: "update", ExplicitProfile: ProfileDebug}))
}

func TestFlattenSingletonArray(t *testing.T) {
	o := New()
	shaped := o.Shape(sampleEnvelope(), ProfileStandard, nil)
	data, ok := shaped["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "backend", data["labels"], "single-item array must flatten to its scalar")
}

func TestRemoveEmptyFields(t *testing.T) {
	o := New()
	shaped := o.Shape(sampleEnvelope(), ProfileStandard, nil)
	data := shaped["data"].(map[string]interface{})
	_, hasNote := data["note"]
	assert.False(t, hasNote, "empty string field must be removed")
}

func TestConsolidateMetaObject(t *testing.T) {
	o := New()
	shaped := o.Shape(sampleEnvelope(), ProfileStandard, nil)
	meta, ok := shaped["meta"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "op-1", meta["id"])
	assert.Equal(t, "update", meta["operation"])
	assert.Equal(t, true, meta["persisted"])
	_, hasConfirmation := shaped["confirmation"]
	assert.False(t, hasConfirmation)
}

func TestProfileSizeOrderingInvariant(t *testing.T) {
	env := sampleEnvelope()

	sizes := map[Profile]int{}
	for _, p := range []Profile{ProfileMinimal, ProfileStandard, ProfileDetailed, ProfileDebug} {
		o := New()
		shaped := o.Shape(env, p, []string{"add files_modified"})
		b, err := json.Marshal(shaped)
		require.NoError(t, err)
		sizes[p] = len(b)
	}

	assert.LessOrEqual(t, sizes[ProfileMinimal], sizes[ProfileStandard])
	assert.LessOrEqual(t, sizes[ProfileStandard], sizes[ProfileDetailed])
	assert.LessOrEqual(t, sizes[ProfileDetailed], sizes[ProfileDebug])
}

func TestMetricsTrackProfileUsage(t *testing.T) {
	o := New()
	o.Shape(sampleEnvelope(), ProfileMinimal, nil)
	o.Shape(sampleEnvelope(), ProfileMinimal, nil)
	o.Shape(sampleEnvelope(), ProfileStandard, nil)

	m := o.Metrics()
	assert.Equal(t, int64(3), m.TotalOptimized)
	assert.Equal(t, int64(2), m.ProfileUsage[ProfileMinimal])
	assert.Equal(t, int64(1), m.ProfileUsage[ProfileStandard])
}

func TestErrorResponsePreservesSuccessFalse(t *testing.T) {
	o := New()
	errEnv := map[string]interface{}{
		"success": false,
		"error":   map[string]interface{}{"code": "NOT_FOUND", "message": "no such task"},
	}
	shaped := o.Shape(errEnv, ProfileMinimal, nil)
	assert.Equal(t, false, shaped["success"])
	assert.NotNil(t, shaped["error"])
}
