// Package memstore is the deterministic in-memory store.* implementation
// used for the `environment=test` branch of the Repository Factory
// (spec.md §4.8) and for package tests throughout the module. It enforces
// the same user-scoping contract as mongostore without needing a live
// MongoDB, grounded on original_source's repository_factory.py mock-repo
// branch.
package memstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

func cloneAssignees(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func matchesAll(needles, haystack []string) bool {
	if len(needles) == 0 {
		return true
	}
	set := map[string]bool{}
	for _, h := range haystack {
		set[h] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

// Store bundles in-memory collections for every aggregate, one map keyed
// by id, guarded by a single mutex — adequate for tests, not for
// production concurrency.
type Store struct {
	mu       sync.Mutex
	tasks    map[string]*models.Task
	subtasks map[string]*models.Subtask
	projects map[string]*models.Project
	branches map[string]*models.GitBranch
	contexts map[string]*models.Context
	tokens   map[string]*models.ApiToken
}

func New() *Store {
	return &Store{
		tasks:    map[string]*models.Task{},
		subtasks: map[string]*models.Subtask{},
		projects: map[string]*models.Project{},
		branches: map[string]*models.GitBranch{},
		contexts: map[string]*models.Context{},
		tokens:   map[string]*models.ApiToken{},
	}
}

// --- TaskRepository ---

type taskRepo struct {
	s      *Store
	userID string
}

func (s *Store) Tasks() store.TaskRepository { return &taskRepo{s: s} }

func (r *taskRepo) WithUser(userID string) store.TaskRepository {
	return &taskRepo{s: r.s, userID: userID}
}

func (r *taskRepo) Create(ctx context.Context, t *models.Task) (*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UserID = r.userID
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Assignees == nil {
		t.Assignees = []string{}
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	if t.Dependencies == nil {
		t.Dependencies = []string{}
	}
	cp := *t
	r.s.tasks[t.ID] = &cp
	return t, nil
}

func (r *taskRepo) Get(ctx context.Context, id string) (*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok || (r.userID != "" && t.UserID != r.userID) {
		return nil, apperrors.NotFound(fmt.Sprintf("task %q not found", id))
	}
	cp := *t
	return &cp, nil
}

func (r *taskRepo) Update(ctx context.Context, id string, mutate func(*models.Task) error) (*models.Task, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}
	cur.UpdatedAt = time.Now()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *cur
	r.s.tasks[id] = &cp
	return cur, nil
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.tasks, id)
	return nil
}

func (r *taskRepo) List(ctx context.Context, filter store.ListFilter) ([]*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Task
	for _, t := range r.s.tasks {
		if r.userID != "" && t.UserID != r.userID {
			continue
		}
		if filter.GitBranchID != "" && t.GitBranchID != filter.GitBranchID {
			continue
		}
		if filter.Status != "" && string(t.Status) != filter.Status {
			continue
		}
		if filter.Priority != "" && string(t.Priority) != filter.Priority {
			continue
		}
		if !matchesAll(filter.Assignees, t.Assignees) {
			continue
		}
		if !matchesAll(filter.Labels, t.Labels) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *taskRepo) Search(ctx context.Context, query string, limit int) ([]*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return nil, apperrors.Validation("invalid search query")
	}
	var out []*models.Task
	for _, t := range r.s.tasks {
		if r.userID != "" && t.UserID != r.userID {
			continue
		}
		if re.MatchString(t.Title) || re.MatchString(t.Description) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- SubtaskRepository ---

type subtaskRepo struct {
	s      *Store
	userID string
}

func (s *Store) Subtasks() store.SubtaskRepository { return &subtaskRepo{s: s} }

func (r *subtaskRepo) WithUser(userID string) store.SubtaskRepository {
	return &subtaskRepo{s: r.s, userID: userID}
}

func (r *subtaskRepo) Create(ctx context.Context, st *models.Subtask) (*models.Subtask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.UserID = r.userID
	now := time.Now()
	st.CreatedAt, st.UpdatedAt = now, now
	st.Assignees = cloneAssignees(st.Assignees)
	if st.Assignees == nil {
		st.Assignees = []string{}
	}
	cp := *st
	r.s.subtasks[st.ID] = &cp
	return st, nil
}

func (r *subtaskRepo) Get(ctx context.Context, id string) (*models.Subtask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.subtasks[id]
	if !ok || (r.userID != "" && st.UserID != r.userID) {
		return nil, apperrors.NotFound(fmt.Sprintf("subtask %q not found", id))
	}
	cp := *st
	return &cp, nil
}

func (r *subtaskRepo) Update(ctx context.Context, id string, mutate func(*models.Subtask) error) (*models.Subtask, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}
	cur.UpdatedAt = time.Now()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *cur
	r.s.subtasks[id] = &cp
	return cur, nil
}

func (r *subtaskRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.subtasks, id)
	return nil
}

func (r *subtaskRepo) ListByTask(ctx context.Context, taskID string) ([]*models.Subtask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Subtask
	for _, st := range r.s.subtasks {
		if r.userID != "" && st.UserID != r.userID {
			continue
		}
		if st.TaskID != taskID {
			continue
		}
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- ProjectRepository ---

type projectRepo struct {
	s      *Store
	userID string
}

func (s *Store) Projects() store.ProjectRepository { return &projectRepo{s: s} }

func (r *projectRepo) WithUser(userID string) store.ProjectRepository {
	return &projectRepo{s: r.s, userID: userID}
}

func (r *projectRepo) Create(ctx context.Context, p *models.Project) (*models.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.projects {
		if existing.UserID == r.userID && existing.Name == p.Name {
			return nil, apperrors.Conflict(fmt.Sprintf("project %q already exists", p.Name))
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UserID = r.userID
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.s.projects[p.ID] = &cp
	return p, nil
}

func (r *projectRepo) Get(ctx context.Context, id string) (*models.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok || (r.userID != "" && p.UserID != r.userID) {
		return nil, apperrors.NotFound(fmt.Sprintf("project %q not found", id))
	}
	cp := *p
	return &cp, nil
}

func (r *projectRepo) GetByName(ctx context.Context, name string) (*models.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.projects {
		if p.Name == name && (r.userID == "" || p.UserID == r.userID) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound(fmt.Sprintf("project %q not found", name))
}

func (r *projectRepo) Update(ctx context.Context, id string, mutate func(*models.Project) error) (*models.Project, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}
	cur.UpdatedAt = time.Now()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *cur
	r.s.projects[id] = &cp
	return cur, nil
}

func (r *projectRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.projects, id)
	return nil
}

func (r *projectRepo) List(ctx context.Context) ([]*models.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Project
	for _, p := range r.s.projects {
		if r.userID != "" && p.UserID != r.userID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- GitBranchRepository ---

type branchRepo struct {
	s      *Store
	userID string
}

func (s *Store) Branches() store.GitBranchRepository { return &branchRepo{s: s} }

func (r *branchRepo) WithUser(userID string) store.GitBranchRepository {
	return &branchRepo{s: r.s, userID: userID}
}

func (r *branchRepo) Create(ctx context.Context, b *models.GitBranch) (*models.GitBranch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.branches {
		if existing.UserID == r.userID && existing.ProjectID == b.ProjectID && existing.Name == b.Name {
			return nil, apperrors.Conflict(fmt.Sprintf("branch %q already exists in project", b.Name))
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.UserID = r.userID
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	r.s.branches[b.ID] = &cp
	return b, nil
}

func (r *branchRepo) Get(ctx context.Context, id string) (*models.GitBranch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.branches[id]
	if !ok || (r.userID != "" && b.UserID != r.userID) {
		return nil, apperrors.NotFound(fmt.Sprintf("git_branch %q not found", id))
	}
	cp := *b
	return &cp, nil
}

func (r *branchRepo) Update(ctx context.Context, id string, mutate func(*models.GitBranch) error) (*models.GitBranch, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}
	cur.UpdatedAt = time.Now()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *cur
	r.s.branches[id] = &cp
	return cur, nil
}

func (r *branchRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.branches, id)
	return nil
}

func (r *branchRepo) ListByProject(ctx context.Context, projectID string) ([]*models.GitBranch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.GitBranch
	for _, b := range r.s.branches {
		if r.userID != "" && b.UserID != r.userID {
			continue
		}
		if b.ProjectID != projectID {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- ContextRepository ---

type contextRepo struct {
	s      *Store
	level  models.ContextLevel
	userID string
}

func (s *Store) Contexts(level models.ContextLevel) store.ContextRepository {
	return &contextRepo{s: s, level: level}
}

func (r *contextRepo) key(id string) string {
	return string(r.level) + "/" + id
}

func (r *contextRepo) WithUser(userID string) store.ContextRepository {
	return &contextRepo{s: r.s, level: r.level, userID: userID}
}

func (r *contextRepo) Create(ctx context.Context, c *models.Context) (*models.Context, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := r.key(c.ID)
	if _, exists := r.s.contexts[key]; exists {
		return nil, apperrors.Conflict(fmt.Sprintf("%s context %q already exists", r.level, c.ID))
	}
	c.Level = r.level
	c.UserID = r.userID
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Settings == nil {
		c.Settings = map[string]interface{}{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
	c.Version = 1
	cp := *c
	r.s.contexts[key] = &cp
	return c, nil
}

func (r *contextRepo) Get(ctx context.Context, id string) (*models.Context, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contexts[r.key(id)]
	if !ok || (r.userID != "" && c.UserID != r.userID) {
		return nil, apperrors.NotFound(fmt.Sprintf("%s context %q not found", r.level, id))
	}
	cp := *c
	return &cp, nil
}

func (r *contextRepo) Update(ctx context.Context, id string, mutate func(*models.Context) error) (*models.Context, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(cur); err != nil {
		return nil, err
	}
	cur.UpdatedAt = time.Now()
	cur.Version++
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *cur
	r.s.contexts[r.key(id)] = &cp
	return cur, nil
}

func (r *contextRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.contexts, r.key(id))
	return nil
}

func (r *contextRepo) List(ctx context.Context) ([]*models.Context, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Context
	prefix := string(r.level) + "/"
	for key, c := range r.s.contexts {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if r.userID != "" && c.UserID != r.userID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// --- ApiTokenRepository ---

type tokenRepo struct {
	s      *Store
	userID string
}

func (s *Store) ApiTokens() store.ApiTokenRepository { return &tokenRepo{s: s} }

func (r *tokenRepo) WithUser(userID string) store.ApiTokenRepository {
	return &tokenRepo{s: r.s, userID: userID}
}

func (r *tokenRepo) Create(ctx context.Context, t *models.ApiToken) (*models.ApiToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tokens {
		if existing.TokenHash == t.TokenHash {
			return nil, apperrors.Conflict("token hash collision")
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UserID = r.userID
	t.CreatedAt = time.Now()
	t.IsActive = true
	cp := *t
	r.s.tokens[t.ID] = &cp
	return t, nil
}

func (r *tokenRepo) GetByHash(ctx context.Context, hash string) (*models.ApiToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.TokenHash == hash && t.IsActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound(fmt.Sprintf("api token %q not found", hash))
}

func (r *tokenRepo) Touch(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok || (r.userID != "" && t.UserID != r.userID) {
		return apperrors.NotFound(fmt.Sprintf("api token %q not found", id))
	}
	now := time.Now()
	t.LastUsedAt = &now
	t.UsageCount++
	return nil
}

func (r *tokenRepo) List(ctx context.Context) ([]*models.ApiToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.ApiToken
	for _, t := range r.s.tokens {
		if r.userID != "" && t.UserID != r.userID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *tokenRepo) Revoke(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[id]
	if !ok || (r.userID != "" && t.UserID != r.userID) {
		return apperrors.NotFound(fmt.Sprintf("api token %q not found", id))
	}
	t.IsActive = false
	return nil
}
