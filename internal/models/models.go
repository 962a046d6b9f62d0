// Package models holds the control plane's persisted entities (spec.md §3).
package models

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority orders tasks within a branch.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityUrgent   TaskPriority = "urgent"
	PriorityCritical TaskPriority = "critical"
)

var priorityRank = map[TaskPriority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityUrgent:   3,
	PriorityCritical: 4,
}

// Rank returns a numeric ordering for priority comparisons, highest first.
func (p TaskPriority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityMedium]
}

// Project is owned by a user and owns branches.
type Project struct {
	ID          string    `bson:"_id" json:"id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description" json:"description"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// GitBranch is owned by a project and owns tasks.
type GitBranch struct {
	ID          string    `bson:"_id" json:"id"`
	ProjectID   string    `bson:"project_id" json:"project_id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description" json:"description"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Task is owned by a branch and owns subtasks and dependencies.
type Task struct {
	ID                string       `bson:"_id" json:"id"`
	GitBranchID       string       `bson:"git_branch_id" json:"git_branch_id"`
	UserID            string       `bson:"user_id" json:"user_id"`
	Title             string       `bson:"title" json:"title"`
	Description       string       `bson:"description" json:"description"`
	Status            TaskStatus   `bson:"status" json:"status"`
	Priority          TaskPriority `bson:"priority" json:"priority"`
	Assignees         []string     `bson:"assignees" json:"assignees"`
	Labels            []string     `bson:"labels" json:"labels"`
	ProgressPercent   int          `bson:"progress_percentage" json:"progress_percentage"`
	DueDate           *time.Time   `bson:"due_date,omitempty" json:"due_date,omitempty"`
	EstimatedEffort   string       `bson:"estimated_effort,omitempty" json:"estimated_effort,omitempty"`
	ContextID         string       `bson:"context_id,omitempty" json:"context_id,omitempty"`
	CompletionSummary string       `bson:"completion_summary,omitempty" json:"completion_summary,omitempty"`
	Dependencies      []string     `bson:"dependencies" json:"dependencies"`
	CreatedAt         time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `bson:"updated_at" json:"updated_at"`
}

// Subtask's parent is always a Task, never a branch (spec.md invariant 2).
type Subtask struct {
	ID              string     `bson:"_id" json:"id"`
	TaskID          string     `bson:"task_id" json:"task_id"`
	UserID          string     `bson:"user_id" json:"user_id"`
	Title           string     `bson:"title" json:"title"`
	Description     string     `bson:"description" json:"description"`
	Status          TaskStatus `bson:"status" json:"status"`
	ProgressPercent int        `bson:"progress_percentage" json:"progress_percentage"`
	Assignees       []string   `bson:"assignees" json:"assignees"`
	InsightsFound   []string   `bson:"insights_found,omitempty" json:"insights_found,omitempty"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// ContextLevel names a rung in the global→project→branch→task hierarchy.
type ContextLevel string

const (
	ContextLevelGlobal  ContextLevel = "global"
	ContextLevelProject ContextLevel = "project"
	ContextLevelBranch  ContextLevel = "branch"
	ContextLevelTask    ContextLevel = "task"
)

// Context is a single row in the hierarchy. Settings carries the known and
// `_custom` payload already merged into one map for round-trip fidelity.
type Context struct {
	ID        string                 `bson:"_id" json:"id"`
	Level     ContextLevel           `bson:"level" json:"level"`
	UserID    string                 `bson:"user_id" json:"user_id"`
	ProjectID string                 `bson:"project_id,omitempty" json:"project_id,omitempty"`
	BranchID  string                 `bson:"branch_id,omitempty" json:"branch_id,omitempty"`
	Settings  map[string]interface{} `bson:"settings" json:"settings"`
	Metadata  map[string]interface{} `bson:"metadata" json:"metadata"`
	Version   int                    `bson:"version" json:"version"`
	CreatedAt time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time              `bson:"updated_at" json:"updated_at"`
}

// ApiToken is a caller-presented credential; only its hash is persisted.
type ApiToken struct {
	ID          string     `bson:"_id" json:"id"`
	UserID      string     `bson:"user_id" json:"user_id"`
	Name        string     `bson:"name" json:"name"`
	TokenHash   string     `bson:"token_hash" json:"-"`
	Scopes      []string   `bson:"scopes" json:"scopes"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt   *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	UsageCount  int        `bson:"usage_count" json:"usage_count"`
	RateLimit   int        `bson:"rate_limit" json:"rate_limit"`
	IsActive    bool       `bson:"is_active" json:"is_active"`
}

// FeatureFlag is not user-scoped; it is process-global, persisted to a JSON
// file (spec.md §6).
type FeatureFlag struct {
	Name        string                 `json:"name"`
	Enabled     bool                   `json:"enabled"`
	Description string                 `json:"description"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
