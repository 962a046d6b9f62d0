// Package facade implements the Application Facades layer (spec.md §4.9):
// one facade per aggregate, each bound to an already-scoped repository,
// caching itself in a Factory keyed on (aggregate, project_id,
// git_branch_id, user_id), and emitting a domain event to the event bus on
// every mutation. Grounded on original_source's facade_service.py
// object-graph-caching pattern and the teacher's service-constructor idiom
// in storage/tasks.go.
package facade

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hyperion-taskctl/internal/agentcatalog"
	"hyperion-taskctl/internal/contextengine"
	"hyperion-taskctl/internal/eventbus"
	"hyperion-taskctl/internal/store"
)

// Event type names published to the bus on mutation.
const (
	EventTaskCreated        = "task.created"
	EventTaskUpdated        = "task.updated"
	EventTaskBlocked        = "task.blocked"
	EventTaskCompleted      = "task.completed"
	EventTaskDeleted        = "task.deleted"
	EventSubtaskCreated     = "subtask.created"
	EventSubtaskUpdated     = "subtask.updated"
	EventSubtaskCompleted   = "subtask.completed"
	EventSubtaskDeleted     = "subtask.deleted"
	EventProjectCreated     = "project.created"
	EventProjectUpdated     = "project.updated"
	EventProjectDeleted     = "project.deleted"
	EventBranchCreated      = "branch.created"
	EventBranchUpdated      = "branch.updated"
	EventBranchDeleted      = "branch.deleted"
	EventContextCreated     = "context.created"
	EventContextUpdated     = "context.updated"
	EventContextDeleted     = "context.deleted"
	EventContextDelegated   = "context.delegated"
)

// cacheKey identifies one cached facade instance.
type cacheKey struct {
	aggregate   string
	projectID   string
	gitBranchID string
	userID      string
}

// Factory builds and caches per-request facades (spec.md §4.9). One Factory
// is shared process-wide; its internal cache is a concurrent map guarded by
// a mutex, matching the "facade cache... concurrent-safe; reads are
// lock-free and misses take a short write lock" resource model in spec.md §5
// closely enough for the in-process object graphs involved (the cached
// values are cheap struct wrappers, not held locks).
type Factory struct {
	backend store.Backend
	bus     *eventbus.Bus
	ctxSvc  *contextengine.Service
	logger  *zap.Logger

	mu    sync.Mutex
	tasks map[cacheKey]*TaskFacade
	subs  map[cacheKey]*SubtaskFacade
	projs map[cacheKey]*ProjectFacade
	brs   map[cacheKey]*BranchFacade
	ctxs  map[cacheKey]*ContextFacade
	conns map[cacheKey]*ConnectionFacade
}

func NewFactory(backend store.Backend, bus *eventbus.Bus, ctxSvc *contextengine.Service, logger *zap.Logger) *Factory {
	return &Factory{
		backend: backend,
		bus:     bus,
		ctxSvc:  ctxSvc,
		logger:  logger,
		tasks:   map[cacheKey]*TaskFacade{},
		subs:    map[cacheKey]*SubtaskFacade{},
		projs:   map[cacheKey]*ProjectFacade{},
		brs:     map[cacheKey]*BranchFacade{},
		ctxs:    map[cacheKey]*ContextFacade{},
		conns:   map[cacheKey]*ConnectionFacade{},
	}
}

func (f *Factory) publish(eventType, userID string, payload interface{}) {
	if f.bus == nil {
		return
	}
	if err := f.bus.Publish(eventbus.Event{Type: eventType, UserID: userID, Payload: payload}); err != nil {
		f.logger.Warn("facade: failed to publish domain event",
			zap.String("event_type", eventType), zap.Error(err))
	}
}

// Task returns the TaskFacade for (gitBranchID, userID), constructing and
// caching it on first use.
func (f *Factory) Task(gitBranchID, userID string) *TaskFacade {
	key := cacheKey{aggregate: "task", gitBranchID: gitBranchID, userID: userID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.tasks[key]; ok {
		return existing
	}
	fac := &TaskFacade{
		repo:   f.backend.Tasks.WithUser(userID),
		userID: userID,
		logger: f.logger,
		notify: f.publish,
	}
	f.tasks[key] = fac
	return fac
}

// Subtask returns the SubtaskFacade for (gitBranchID, userID), constructing
// and caching it on first use. gitBranchID must be the branch of the parent
// task, already resolved from task_id by the caller (spec.md §4.10.1 item
// 3); this method does no task_id lookup of its own.
func (f *Factory) Subtask(gitBranchID, userID string) *SubtaskFacade {
	key := cacheKey{aggregate: "subtask", gitBranchID: gitBranchID, userID: userID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.subs[key]; ok {
		return existing
	}
	fac := &SubtaskFacade{
		repo:     f.backend.Subtasks.WithUser(userID),
		taskRepo: f.backend.Tasks.WithUser(userID),
		userID:   userID,
		logger:   f.logger,
		notify:   f.publish,
	}
	f.subs[key] = fac
	return fac
}

func (f *Factory) Project(userID string) *ProjectFacade {
	key := cacheKey{aggregate: "project", userID: userID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.projs[key]; ok {
		return existing
	}
	fac := &ProjectFacade{repo: f.backend.Projects.WithUser(userID), userID: userID, logger: f.logger, notify: f.publish}
	f.projs[key] = fac
	return fac
}

func (f *Factory) Branch(projectID, userID string) *BranchFacade {
	key := cacheKey{aggregate: "branch", projectID: projectID, userID: userID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.brs[key]; ok {
		return existing
	}
	fac := &BranchFacade{repo: f.backend.Branches.WithUser(userID), userID: userID, logger: f.logger, notify: f.publish}
	f.brs[key] = fac
	return fac
}

func (f *Factory) Context(userID string) *ContextFacade {
	key := cacheKey{aggregate: "context", userID: userID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.ctxs[key]; ok {
		return existing
	}
	fac := &ContextFacade{svc: f.ctxSvc, userID: userID, logger: f.logger, notify: f.publish}
	f.ctxs[key] = fac
	return fac
}

func (f *Factory) Connection(userID string) *ConnectionFacade {
	key := cacheKey{aggregate: "connection", userID: userID}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.conns[key]; ok {
		return existing
	}
	fac := &ConnectionFacade{logger: f.logger, bus: f.bus}
	f.conns[key] = fac
	return fac
}

// normalizeAssignees validates and normalizes assignee names via the catalog,
// returning a plain error naming the offending entry; callers wrap it as a
// validation error.
func normalizeAssignees(raw []string) ([]string, error) {
	normalized, invalid, ok := agentcatalog.ValidateAssignees(raw)
	if !ok {
		return nil, fmt.Errorf("invalid assignee %q: not in the agent catalog", invalid)
	}
	return normalized, nil
}
