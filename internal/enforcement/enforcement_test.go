package enforcement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDisabledAlwaysAllows(t *testing.T) {
	s := New(zap.NewNop(), LevelDisabled)
	res := s.Enforce("complete", map[string]interface{}{}, "", "")
	assert.True(t, res.Allowed)
}

func TestStrictBlocksOnMissingRequired(t *testing.T) {
	s := New(zap.NewNop(), LevelStrict)
	res := s.Enforce("complete", map[string]interface{}{}, "agent-1", "")
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{"completion_summary"}, res.MissingRequired)
	assert.NotEmpty(t, res.Hints)
}

func TestStrictAllowsWhenRequiredPresent(t *testing.T) {
	s := New(zap.NewNop(), LevelStrict)
	res := s.Enforce("complete", map[string]interface{}{"completion_summary": "done"}, "agent-1", "")
	assert.True(t, res.Allowed)
}

func TestWarningAllowsAndReturnsHints(t *testing.T) {
	s := New(zap.NewNop(), LevelWarning)
	res := s.Enforce("update", map[string]interface{}{}, "agent-1", "")
	assert.True(t, res.Allowed)
	assert.Contains(t, res.MissingRequired, "work_notes")
	assert.Contains(t, res.MissingRequired, "progress_made")
	assert.NotEmpty(t, res.Hints)
}

func TestSoftAlwaysAllowsEvenWithMissingFields(t *testing.T) {
	s := New(zap.NewNop(), LevelSoft)
	res := s.Enforce("update", map[string]interface{}{}, "", "")
	assert.True(t, res.Allowed)
}

func TestPerCallOverrideLevel(t *testing.T) {
	s := New(zap.NewNop(), LevelWarning)
	res := s.Enforce("complete", map[string]interface{}{}, "agent-1", LevelStrict)
	assert.False(t, res.Allowed)
}

func TestComplianceTrackingAndLowComplianceWarning(t *testing.T) {
	s := New(zap.NewNop(), LevelStrict)
	for i := 0; i < 12; i++ {
		s.Enforce("complete", map[string]interface{}{}, "agent-low", "")
	}
	c, ok := s.GetAgentCompliance("agent-low")
	assert.True(t, ok)
	assert.Equal(t, 12, c.TotalOperations)
	assert.Equal(t, 0, c.CompliantOperations)
	assert.Less(t, c.ComplianceRate, 0.5)
	assert.Equal(t, 12, c.OperationsBlocked)
}

func TestEmptyStringTreatedAsMissing(t *testing.T) {
	s := New(zap.NewNop(), LevelStrict)
	res := s.Enforce("complete", map[string]interface{}{"completion_summary": ""}, "", "")
	assert.False(t, res.Allowed)
}
