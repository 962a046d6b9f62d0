// Package agentcatalog holds the closed set of agent names the control
// plane recognizes (spec.md §3 AgentName, SPEC_FULL.md §4.13) and the
// inheritance rule by which a subtask without explicit assignees takes on
// its parent task's assignees.
package agentcatalog

import (
	"sort"
	"strings"
)

// Capability names one thing an agent in the catalog is equipped to do.
type Capability string

// Descriptor is the public shape returned by call_agent.
type Descriptor struct {
	Name         string
	Capabilities []Capability
	Connected    bool
}

var catalog = map[string][]Capability{
	"coding-agent":             {"implement", "refactor", "write-tests"},
	"test-orchestrator-agent":  {"run-tests", "coordinate-test-suites"},
	"debugger-agent":           {"root-cause-analysis", "stack-trace-triage"},
	"code-reviewer-agent":      {"review-diff", "flag-regressions"},
	"documentation-agent":      {"write-docs", "update-readmes"},
	"devops-agent":             {"ci-cd", "infra-provisioning"},
	"security-auditor-agent":   {"vuln-scan", "threat-modeling"},
	"ui-designer-agent":        {"design-review", "accessibility-audit"},
	"deep-research-agent":      {"literature-review", "synthesis"},
	"prototyping-agent":        {"rapid-prototyping", "spike"},
}

// Normalize puts name into its canonical "@name" comparison form.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if !strings.HasPrefix(name, "@") {
		name = "@" + name
	}
	return strings.ToLower(name)
}

func bare(normalized string) string {
	return strings.TrimPrefix(normalized, "@")
}

// Valid reports whether name (in either bare or @-prefixed form) is in the
// closed catalog.
func Valid(name string) bool {
	_, ok := catalog[bare(Normalize(name))]
	return ok
}

// Describe returns the catalog descriptor for name, or false if it is not a
// recognized agent.
func Describe(name string) (Descriptor, bool) {
	normalized := Normalize(name)
	caps, ok := catalog[bare(normalized)]
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{Name: normalized, Capabilities: caps, Connected: true}, true
}

// Names returns every catalog entry in its normalized @name form, sorted
// for deterministic error messages.
func Names() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, "@"+k)
	}
	sort.Strings(out)
	return out
}

// ValidateAssignees normalizes and validates assignees, returning the
// normalized list or the first invalid name encountered.
func ValidateAssignees(assignees []string) ([]string, string, bool) {
	out := make([]string, 0, len(assignees))
	for _, a := range assignees {
		if !Valid(a) {
			return nil, a, false
		}
		out = append(out, Normalize(a))
	}
	return out, "", true
}

// InheritAssignees implements the Agent Inheritance Service (spec.md §4
// L3, SPEC_FULL.md §4.13): when a subtask is created without explicit
// assignees, it inherits the parent task's. An explicit empty list from
// the caller is distinct from "omitted" and is the caller's responsibility
// to express via requestedAssignees being nil vs. an empty, non-nil slice.
func InheritAssignees(requestedAssignees []string, parentAssignees []string) []string {
	if requestedAssignees != nil {
		return requestedAssignees
	}
	if parentAssignees == nil {
		return []string{}
	}
	inherited := make([]string, len(parentAssignees))
	copy(inherited, parentAssignees)
	return inherited
}
