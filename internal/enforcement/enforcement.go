// Package enforcement implements the Parameter Enforcement Service
// (spec.md §4.11), grounded on the Python ParameterEnforcementService in
// original_source's parameter_enforcement_service.py: per-action
// strict/recommended parameter lists, DISABLED/SOFT/WARNING/STRICT
// enforcement levels, and per-agent compliance tracking.
package enforcement

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is one of the four progressive enforcement levels.
type Level string

const (
	LevelDisabled Level = "disabled"
	LevelSoft     Level = "soft"
	LevelWarning  Level = "warning"
	LevelStrict   Level = "strict"
)

// requirement is a per-action {strict, recommended} parameter declaration.
type requirement struct {
	strict      []string
	recommended []string
}

// requiredParams mirrors REQUIRED_PARAMS from the Python service exactly.
var requiredParams = map[string]requirement{
	"update": {
		strict:      []string{"work_notes", "progress_made"},
		recommended: []string{"files_modified", "blockers_encountered", "decisions_made"},
	},
	"complete": {
		strict:      []string{"completion_summary"},
		recommended: []string{"testing_notes", "deployment_notes", "files_created", "files_modified"},
	},
	"create": {
		strict:      nil,
		recommended: []string{"estimated_effort", "initial_thoughts", "approach"},
	},
	"subtask_update": {
		strict:      []string{"progress_notes"},
		recommended: []string{"blockers", "insights_found"},
	},
	"subtask_complete": {
		strict:      []string{"completion_summary"},
		recommended: []string{"impact_on_parent", "insights_found", "testing_notes"},
	},
}

// parameterTemplates mirrors PARAMETER_TEMPLATES.
var parameterTemplates = map[string]interface{}{
	"work_notes":           "Brief description of work being done (e.g., 'Refactoring authentication module')",
	"progress_made":        "What was accomplished (e.g., 'Completed JWT implementation')",
	"completion_summary":   "Detailed summary of what was completed (e.g., 'Implemented JWT auth with refresh tokens, added rate limiting, created comprehensive tests')",
	"testing_notes":        "Testing performed (e.g., 'Unit tests added with 95% coverage, integration tests passing')",
	"files_modified":       []string{"auth/jwt.go", "auth/middleware.go", "auth/jwt_test.go"},
	"blockers_encountered": []string{"Redis connection timeout", "Missing API documentation"},
	"decisions_made":       []string{"Use Redis for token storage", "Implement refresh token rotation"},
	"insights_found":       []string{"Found existing utility for token generation", "Database index needed for performance"},
}

// Result is the outcome of one Enforce call (spec.md's EnforcementResult).
type Result struct {
	Allowed            bool
	Level              Level
	MissingRequired    []string
	MissingRecommended []string
	Message            string
	Hints              []string
	Examples           map[string]interface{}
	ComplianceTracked  bool
	AgentID            string
}

// AgentCompliance tracks one agent's enforcement history.
type AgentCompliance struct {
	AgentID              string
	TotalOperations      int
	CompliantOperations  int
	WarningsIssued       int
	OperationsBlocked    int
	ConsecutiveFailures  int
	LastOperation        time.Time
	ComplianceRate       float64
}

func (c *AgentCompliance) update(isCompliant, wasBlocked bool) {
	c.TotalOperations++
	if isCompliant {
		c.CompliantOperations++
		c.ConsecutiveFailures = 0
	} else {
		c.ConsecutiveFailures++
		if wasBlocked {
			c.OperationsBlocked++
		} else {
			c.WarningsIssued++
		}
	}
	if c.TotalOperations > 0 {
		c.ComplianceRate = float64(c.CompliantOperations) / float64(c.TotalOperations)
	}
	c.LastOperation = time.Now()
}

// Service enforces parameter requirements per action and tracks per-agent
// compliance. Safe for concurrent use.
type Service struct {
	logger *zap.Logger

	mu    sync.Mutex
	level Level

	complianceMu sync.Mutex
	compliance   map[string]*AgentCompliance
}

// New constructs a Service at the given default level.
func New(logger *zap.Logger, level Level) *Service {
	if level == "" {
		level = LevelWarning
	}
	return &Service{
		logger:     logger,
		level:      level,
		compliance: make(map[string]*AgentCompliance),
	}
}

// SetLevel updates the default enforcement level.
func (s *Service) SetLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("enforcement level changed", zap.String("from", string(s.level)), zap.String("to", string(level)))
	s.level = level
}

// Level returns the current default enforcement level.
func (s *Service) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Enforce validates provided against action's declared requirements at the
// given level (or the service default when override is ""), tracking
// agentID's compliance if non-empty.
func (s *Service) Enforce(action string, provided map[string]interface{}, agentID string, override Level) Result {
	level := override
	if level == "" {
		level = s.Level()
	}

	if level == LevelDisabled {
		return Result{Allowed: true, Level: level, Message: "Parameter enforcement disabled"}
	}

	req := requiredParams[action]
	missingRequired := missing(req.strict, provided)
	missingRecommended := missing(req.recommended, provided)

	isCompliant := len(missingRequired) == 0
	if agentID != "" {
		s.trackCompliance(agentID, isCompliant, level == LevelStrict && !isCompliant)
	}

	switch level {
	case LevelSoft:
		if len(missingRequired) > 0 || len(missingRecommended) > 0 {
			s.logger.Info("parameter enforcement (soft)",
				zap.String("action", action),
				zap.Strings("missing_required", missingRequired),
				zap.Strings("missing_recommended", missingRecommended))
		}
		return Result{
			Allowed: true, Level: LevelSoft,
			MissingRequired: missingRequired, MissingRecommended: missingRecommended,
			Message:           "Operation allowed (soft enforcement - logging only)",
			ComplianceTracked: agentID != "", AgentID: agentID,
		}

	case LevelWarning:
		if len(missingRequired) > 0 {
			s.logger.Warn("parameter enforcement: missing required parameters",
				zap.String("action", action), zap.Strings("missing_required", missingRequired))
		}
		return s.warningResult(action, missingRequired, missingRecommended, agentID)

	case LevelStrict:
		if len(missingRequired) > 0 {
			s.logger.Error("parameter enforcement: blocking call",
				zap.String("action", action), zap.Strings("missing_required", missingRequired))
			return s.strictResult(action, missingRequired, missingRecommended, agentID)
		}
		hints := []string(nil)
		if len(missingRecommended) > 0 {
			hints = []string{fmt.Sprintf("All required parameters provided for %s", action)}
		}
		return Result{
			Allowed: true, Level: LevelStrict,
			MissingRequired: missingRequired, MissingRecommended: missingRecommended,
			Hints: hints, Examples: map[string]interface{}{},
			ComplianceTracked: true, AgentID: agentID,
		}
	}

	return Result{Allowed: true, Level: level, Message: "All required parameters provided"}
}

func missing(fields []string, provided map[string]interface{}) []string {
	var out []string
	for _, f := range fields {
		v, ok := provided[f]
		if !ok || isEmptyValue(v) {
			out = append(out, f)
		}
	}
	return out
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func (s *Service) warningResult(action string, missingRequired, missingRecommended []string, agentID string) Result {
	var hints []string
	examples := map[string]interface{}{}

	if len(missingRequired) > 0 {
		hints = append(hints, "Missing required parameters: "+strings.Join(missingRequired, ", "))
		hints = append(hints, "These parameters will be required in strict mode")
		for _, p := range missingRequired {
			if t, ok := parameterTemplates[p]; ok {
				examples[p] = t
			}
		}
	}
	if len(missingRecommended) > 0 {
		hints = append(hints, "Consider adding: "+strings.Join(missingRecommended, ", "))
	}

	message := "Operation allowed"
	if len(missingRequired) > 0 {
		message = "Operation allowed with warnings"
	}

	return Result{
		Allowed: true, Level: LevelWarning,
		MissingRequired: missingRequired, MissingRecommended: missingRecommended,
		Message: message, Hints: hints, Examples: examples,
		ComplianceTracked: agentID != "", AgentID: agentID,
	}
}

func (s *Service) strictResult(action string, missingRequired, missingRecommended []string, agentID string) Result {
	hints := []string{
		fmt.Sprintf("Operation blocked: missing required parameters for %s", action),
		"Required: " + strings.Join(missingRequired, ", "),
		"Please provide these parameters to proceed",
	}
	if len(missingRecommended) > 0 {
		hints = append(hints, "Also recommended: "+strings.Join(missingRecommended, ", "))
	}

	examples := map[string]interface{}{}
	for _, p := range missingRequired {
		if t, ok := parameterTemplates[p]; ok {
			examples[p] = t
		}
	}
	switch action {
	case "complete":
		examples["example_command"] = map[string]interface{}{
			"action":             "complete",
			"task_id":            "<task_id>",
			"completion_summary": "Implemented feature X with Y approach, achieving Z results",
			"testing_notes":      "Added unit tests with 90% coverage, all integration tests passing",
		}
	case "update":
		examples["example_command"] = map[string]interface{}{
			"action":         "update",
			"task_id":        "<task_id>",
			"work_notes":     "Working on authentication module refactoring",
			"progress_made":  "Completed JWT token generation logic",
			"files_modified": []string{"auth/jwt.go", "auth/utils.go"},
		}
	}

	return Result{
		Allowed: false, Level: LevelStrict,
		MissingRequired: missingRequired, MissingRecommended: missingRecommended,
		Message:           fmt.Sprintf("Operation blocked: missing required parameters (%s)", strings.Join(missingRequired, ", ")),
		Hints:             hints, Examples: examples,
		ComplianceTracked: agentID != "", AgentID: agentID,
	}
}

func (s *Service) trackCompliance(agentID string, isCompliant, wasBlocked bool) {
	s.complianceMu.Lock()
	defer s.complianceMu.Unlock()

	c, ok := s.compliance[agentID]
	if !ok {
		c = &AgentCompliance{AgentID: agentID}
		s.compliance[agentID] = c
	}
	c.update(isCompliant, wasBlocked)

	if c.ComplianceRate < 0.5 && c.TotalOperations >= 10 {
		s.logger.Warn("low agent compliance",
			zap.String("agent_id", agentID),
			zap.Float64("compliance_rate", c.ComplianceRate),
			zap.Int("compliant", c.CompliantOperations),
			zap.Int("total", c.TotalOperations))
	}
}

// GetAgentCompliance returns a copy of agentID's compliance stats, if tracked.
func (s *Service) GetAgentCompliance(agentID string) (AgentCompliance, bool) {
	s.complianceMu.Lock()
	defer s.complianceMu.Unlock()
	c, ok := s.compliance[agentID]
	if !ok {
		return AgentCompliance{}, false
	}
	return *c, true
}

// ParameterHints returns the strict/recommended parameters and templates
// declared for action, for use in DETAILED-profile responses.
func (s *Service) ParameterHints(action string) map[string]interface{} {
	req := requiredParams[action]
	templates := map[string]interface{}{}
	for _, p := range append(append([]string(nil), req.strict...), req.recommended...) {
		if t, ok := parameterTemplates[p]; ok {
			templates[p] = t
		}
	}
	return map[string]interface{}{
		"action":      action,
		"required":    req.strict,
		"recommended": req.recommended,
		"templates":   templates,
	}
}
