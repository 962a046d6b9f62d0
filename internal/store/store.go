// Package store defines the user-scoped repository contracts (spec.md
// §4.6): every concrete repository is constructed scoped to a user_id (or
// unscoped only during bootstrap), filters every read by it, stamps it on
// every write, and treats an ownership mismatch as NOT_FOUND rather than
// forbidden. Grounded on original_source's global_context_repository.py
// (apply_user_filter / ensure_user_ownership / log_access) and the
// teacher's storage/tasks.go Mongo collection idiom.
package store

import (
	"context"
	"time"

	"hyperion-taskctl/internal/models"
)

// AccessLog is one audit record (spec.md §4.6 item 7).
type AccessLog struct {
	UserID     string
	EntityType string
	EntityID   string
	Op         string // create | read | update | delete | list
	Timestamp  time.Time
}

// AuditSink receives every repository access for audit logging.
type AuditSink interface {
	Record(log AccessLog)
}

// NopAuditSink discards every record.
type NopAuditSink struct{}

// Record implements AuditSink.
func (NopAuditSink) Record(AccessLog) {}

// ListFilter carries the common optional filters controllers pass to List.
type ListFilter struct {
	GitBranchID string
	Status      string
	Priority    string
	Assignees   []string
	Labels      []string
	Query       string
	Limit       int
}

// TaskRepository is the user-scoped contract for Task persistence.
type TaskRepository interface {
	WithUser(userID string) TaskRepository
	Create(ctx context.Context, t *models.Task) (*models.Task, error)
	Get(ctx context.Context, id string) (*models.Task, error)
	Update(ctx context.Context, id string, mutate func(*models.Task) error) (*models.Task, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*models.Task, error)
	Search(ctx context.Context, query string, limit int) ([]*models.Task, error)
}

// SubtaskRepository is the user-scoped contract for Subtask persistence.
type SubtaskRepository interface {
	WithUser(userID string) SubtaskRepository
	Create(ctx context.Context, s *models.Subtask) (*models.Subtask, error)
	Get(ctx context.Context, id string) (*models.Subtask, error)
	Update(ctx context.Context, id string, mutate func(*models.Subtask) error) (*models.Subtask, error)
	Delete(ctx context.Context, id string) error
	ListByTask(ctx context.Context, taskID string) ([]*models.Subtask, error)
}

// ProjectRepository is the user-scoped contract for Project persistence.
type ProjectRepository interface {
	WithUser(userID string) ProjectRepository
	Create(ctx context.Context, p *models.Project) (*models.Project, error)
	Get(ctx context.Context, id string) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
	Update(ctx context.Context, id string, mutate func(*models.Project) error) (*models.Project, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Project, error)
}

// GitBranchRepository is the user-scoped contract for GitBranch persistence.
type GitBranchRepository interface {
	WithUser(userID string) GitBranchRepository
	Create(ctx context.Context, b *models.GitBranch) (*models.GitBranch, error)
	Get(ctx context.Context, id string) (*models.GitBranch, error)
	Update(ctx context.Context, id string, mutate func(*models.GitBranch) error) (*models.GitBranch, error)
	Delete(ctx context.Context, id string) error
	ListByProject(ctx context.Context, projectID string) ([]*models.GitBranch, error)
}

// ContextRepository is the user-scoped contract for one level of the
// context hierarchy (global/project/branch/task). A separate instance
// backs each level, as spec.md §4.7 describes.
type ContextRepository interface {
	WithUser(userID string) ContextRepository
	Create(ctx context.Context, c *models.Context) (*models.Context, error)
	Get(ctx context.Context, id string) (*models.Context, error)
	Update(ctx context.Context, id string, mutate func(*models.Context) error) (*models.Context, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Context, error)
}

// ApiTokenRepository is the user-scoped contract for ApiToken persistence.
type ApiTokenRepository interface {
	WithUser(userID string) ApiTokenRepository
	Create(ctx context.Context, t *models.ApiToken) (*models.ApiToken, error)
	GetByHash(ctx context.Context, hash string) (*models.ApiToken, error)
	Touch(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.ApiToken, error)
	Revoke(ctx context.Context, id string) error
}
