package agentcatalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAcceptsBareAndAtForms(t *testing.T) {
	assert.True(t, Valid("coding-agent"))
	assert.True(t, Valid("@coding-agent"))
	assert.True(t, Valid("@CODING-AGENT"))
	assert.False(t, Valid("@not-a-real-agent"))
}

func TestNormalizeProducesCanonicalAtForm(t *testing.T) {
	assert.Equal(t, "@coding-agent", Normalize("coding-agent"))
	assert.Equal(t, "@coding-agent", Normalize("@Coding-Agent"))
}

func TestDescribeReturnsCapabilities(t *testing.T) {
	d, ok := Describe("test-orchestrator-agent")
	assert.True(t, ok)
	assert.Equal(t, "@test-orchestrator-agent", d.Name)
	assert.NotEmpty(t, d.Capabilities)
	assert.True(t, d.Connected)
}

func TestValidateAssigneesRejectsUnknownName(t *testing.T) {
	_, bad, ok := ValidateAssignees([]string{"@coding-agent", "@fake-agent"})
	assert.False(t, ok)
	assert.Equal(t, "@fake-agent", bad)
}

func TestInheritAssigneesOmittedInheritsParent(t *testing.T) {
	result := InheritAssignees(nil, []string{"@coding-agent", "@test-orchestrator-agent"})
	assert.Equal(t, []string{"@coding-agent", "@test-orchestrator-agent"}, result)
}

func TestInheritAssigneesExplicitEmptyIsRespected(t *testing.T) {
	result := InheritAssignees([]string{}, []string{"@coding-agent"})
	assert.Equal(t, []string{}, result)
}

func TestInheritAssigneesParentHasNoneYieldsEmpty(t *testing.T) {
	result := InheritAssignees(nil, nil)
	assert.Equal(t, []string{}, result)
}
