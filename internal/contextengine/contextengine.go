// Package contextengine implements the UnifiedContextService (spec.md §4.7):
// deterministic per-user global context ids, ancestor auto-creation in
// global → project → branch → task order (each level created only if absent;
// ancestors already created are not rolled back when a later step fails),
// inheritance resolution by deep-merge, lossless "_custom" round-tripping,
// and field delegation up the hierarchy. Grounded on original_source's
// global_context_repository.py, adapted away from its
// "00000000-0000-0000-0000-000000000000" singleton anti-pattern toward a
// UUID v5 derived per-user id.
package contextengine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/cache"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
)

// globalContextNamespace is a fixed, private UUID namespace. The
// per-user global context id is uuid.NewSHA1(globalContextNamespace, userID)
// — stable across restarts, unique per user, and never equal to the
// all-zero singleton id the original implementation used.
var globalContextNamespace = uuid.MustParse("6f6d8e6e-6b0b-4e8b-9f7f-6a9f9c1a2b3c")

// GlobalContextID returns the deterministic global context id for a user.
// It never returns "00000000-0000-0000-0000-000000000001" or any other
// fixed constant — every user gets a distinct, reproducible id.
func GlobalContextID(userID string) string {
	return uuid.NewSHA1(globalContextNamespace, []byte(userID)).String()
}

// Repositories bundles one user-scoped-capable repository per level. The
// service calls WithUser(userID) itself before every operation so callers
// never hand it a pre-scoped repository from the wrong user.
type Repositories struct {
	Global  store.ContextRepository
	Project store.ContextRepository
	Branch  store.ContextRepository
	Task    store.ContextRepository
}

// ProjectLookup resolves a branch context's owning project id, and a task
// context's owning branch id, without the context engine importing the
// task/branch repositories directly.
type ProjectLookup interface {
	ProjectIDForBranch(ctx context.Context, userID, branchID string) (string, error)
	BranchIDForTask(ctx context.Context, userID, taskID string) (string, error)
}

// Service is the UnifiedContextService.
type Service struct {
	repos   Repositories
	lookup  ProjectLookup
	cache   *cache.Cache
	logger  *zap.Logger
}

func New(repos Repositories, lookup ProjectLookup, c *cache.Cache, logger *zap.Logger) *Service {
	return &Service{repos: repos, lookup: lookup, cache: c, logger: logger}
}

func (s *Service) repoFor(level models.ContextLevel) store.ContextRepository {
	switch level {
	case models.ContextLevelGlobal:
		return s.repos.Global
	case models.ContextLevelProject:
		return s.repos.Project
	case models.ContextLevelBranch:
		return s.repos.Branch
	case models.ContextLevelTask:
		return s.repos.Task
	default:
		return nil
	}
}

// EnsureGlobal returns the caller's global context, creating it if absent.
func (s *Service) EnsureGlobal(ctx context.Context, userID string) (*models.Context, error) {
	repo := s.repos.Global.WithUser(userID)
	id := GlobalContextID(userID)

	existing, err := repo.Get(ctx, id)
	if err == nil {
		return existing, nil
	}
	if apperrors.As(err).Code != apperrors.CodeNotFound {
		return nil, err
	}

	created, err := repo.Create(ctx, &models.Context{
		ID:       id,
		Level:    models.ContextLevelGlobal,
		Settings: map[string]interface{}{},
		Metadata: map[string]interface{}{"auto_created": true},
	})
	if err != nil {
		// Lost a create race against a concurrent request for the same
		// user: the other request's row now exists, fetch it instead.
		if apperrors.As(err).Code == apperrors.CodeConflict {
			return repo.Get(ctx, id)
		}
		return nil, err
	}
	return created, nil
}

// EnsureProject returns the project-level context for projectID, creating
// it (and the caller's global context, if missing) as needed.
func (s *Service) EnsureProject(ctx context.Context, userID, projectID string) (*models.Context, error) {
	if _, err := s.EnsureGlobal(ctx, userID); err != nil {
		return nil, fmt.Errorf("contextengine: ensure global ancestor: %w", err)
	}

	repo := s.repos.Project.WithUser(userID)
	existing, err := repo.Get(ctx, projectID)
	if err == nil {
		return existing, nil
	}
	if apperrors.As(err).Code != apperrors.CodeNotFound {
		return nil, err
	}

	created, err := repo.Create(ctx, &models.Context{
		ID:        projectID,
		Level:     models.ContextLevelProject,
		ProjectID: projectID,
		Settings:  map[string]interface{}{},
		Metadata:  map[string]interface{}{"auto_created": true},
	})
	if err != nil {
		if apperrors.As(err).Code == apperrors.CodeConflict {
			return repo.Get(ctx, projectID)
		}
		return nil, err
	}
	return created, nil
}

// EnsureBranch returns the branch-level context for branchID, creating the
// full global → project → branch chain as needed. projectID must already
// be known to the caller (resolved from the GitBranch entity).
func (s *Service) EnsureBranch(ctx context.Context, userID, projectID, branchID string) (*models.Context, error) {
	if _, err := s.EnsureProject(ctx, userID, projectID); err != nil {
		return nil, fmt.Errorf("contextengine: ensure project ancestor: %w", err)
	}

	repo := s.repos.Branch.WithUser(userID)
	existing, err := repo.Get(ctx, branchID)
	if err == nil {
		return existing, nil
	}
	if apperrors.As(err).Code != apperrors.CodeNotFound {
		return nil, err
	}

	created, err := repo.Create(ctx, &models.Context{
		ID:        branchID,
		Level:     models.ContextLevelBranch,
		ProjectID: projectID,
		BranchID:  branchID,
		Settings:  map[string]interface{}{},
		Metadata:  map[string]interface{}{"auto_created": true},
	})
	if err != nil {
		if apperrors.As(err).Code == apperrors.CodeConflict {
			return repo.Get(ctx, branchID)
		}
		return nil, err
	}
	return created, nil
}

// EnsureTask returns the task-level context for taskID, resolving its
// owning branch (and that branch's project) via lookup, then creating the
// full global → project → branch → task chain as needed.
func (s *Service) EnsureTask(ctx context.Context, userID, taskID string) (*models.Context, error) {
	branchID, err := s.lookup.BranchIDForTask(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("contextengine: resolve branch for task: %w", err)
	}
	projectID, err := s.lookup.ProjectIDForBranch(ctx, userID, branchID)
	if err != nil {
		return nil, fmt.Errorf("contextengine: resolve project for branch: %w", err)
	}

	if _, err := s.EnsureBranch(ctx, userID, projectID, branchID); err != nil {
		return nil, fmt.Errorf("contextengine: ensure branch ancestor: %w", err)
	}

	repo := s.repos.Task.WithUser(userID)
	existing, err := repo.Get(ctx, taskID)
	if err == nil {
		return existing, nil
	}
	if apperrors.As(err).Code != apperrors.CodeNotFound {
		return nil, err
	}

	created, err := repo.Create(ctx, &models.Context{
		ID:        taskID,
		Level:     models.ContextLevelTask,
		ProjectID: projectID,
		BranchID:  branchID,
		Settings:  map[string]interface{}{},
		Metadata:  map[string]interface{}{"auto_created": true},
	})
	if err != nil {
		if apperrors.As(err).Code == apperrors.CodeConflict {
			return repo.Get(ctx, taskID)
		}
		return nil, err
	}
	return created, nil
}

// Create creates a context at the given level, auto-creating any missing
// ancestors first (spec.md §4.7). For the branch level, projectID carries
// the owning project id; for the task level, the owning branch and project
// are resolved via lookup and projectID is ignored.
func (s *Service) Create(ctx context.Context, userID string, level models.ContextLevel, id, projectID string, settings map[string]interface{}) (*models.Context, error) {
	var ancestor *models.Context
	var err error

	switch level {
	case models.ContextLevelGlobal:
		ancestor, err = s.EnsureGlobal(ctx, userID)
	case models.ContextLevelProject:
		ancestor, err = s.EnsureProject(ctx, userID, id)
	case models.ContextLevelBranch:
		if projectID == "" {
			return nil, apperrors.MissingField("project_id")
		}
		ancestor, err = s.EnsureBranch(ctx, userID, projectID, id)
	case models.ContextLevelTask:
		ancestor, err = s.EnsureTask(ctx, userID, id)
	default:
		return nil, apperrors.Validation(fmt.Sprintf("unknown context level %q", level))
	}
	if err != nil {
		return nil, err
	}

	if len(settings) == 0 {
		return ancestor, nil
	}

	repo := s.repoFor(level).WithUser(userID)
	return repo.Update(ctx, ancestor.ID, func(c *models.Context) error {
		mergeInto(c.Settings, settings)
		return nil
	})
}

// Get returns the raw (non-inherited) context at level/id.
func (s *Service) Get(ctx context.Context, userID string, level models.ContextLevel, id string) (*models.Context, error) {
	return s.repoFor(level).WithUser(userID).Get(ctx, id)
}

// GetInherited returns the deep-merged view: ancestor settings first, child
// settings layered on top. It never reads another user's row because every
// repo call here is scoped by userID.
func (s *Service) GetInherited(ctx context.Context, userID string, level models.ContextLevel, id string) (map[string]interface{}, error) {
	leaf, err := s.Get(ctx, userID, level, id)
	if err != nil {
		return nil, err
	}

	chain, err := s.ancestorChain(ctx, userID, leaf)
	if err != nil {
		return nil, err
	}

	merged := map[string]interface{}{}
	for _, c := range chain {
		mergeInto(merged, c.Settings)
	}
	return merged, nil
}

func (s *Service) ancestorChain(ctx context.Context, userID string, leaf *models.Context) ([]*models.Context, error) {
	var chain []*models.Context

	global, err := s.Get(ctx, userID, models.ContextLevelGlobal, GlobalContextID(userID))
	if err == nil {
		chain = append(chain, global)
	} else if apperrors.As(err).Code != apperrors.CodeNotFound {
		return nil, err
	}

	if leaf.Level == models.ContextLevelGlobal {
		return chain, nil
	}

	if leaf.ProjectID != "" {
		proj, err := s.Get(ctx, userID, models.ContextLevelProject, leaf.ProjectID)
		if err == nil {
			chain = append(chain, proj)
		} else if apperrors.As(err).Code != apperrors.CodeNotFound {
			return nil, err
		}
	}
	if leaf.Level == models.ContextLevelProject {
		return chain, nil
	}

	if leaf.BranchID != "" {
		br, err := s.Get(ctx, userID, models.ContextLevelBranch, leaf.BranchID)
		if err == nil {
			chain = append(chain, br)
		} else if apperrors.As(err).Code != apperrors.CodeNotFound {
			return nil, err
		}
	}
	if leaf.Level == models.ContextLevelBranch {
		return chain, nil
	}

	chain = append(chain, leaf)
	return chain, nil
}

// Update merges settings into the context and, when propagate is true,
// invalidates the context's own cache key plus whatever keys the cascades
// registered on the cache derive from it. GetInherited does not read from
// the cache, so inherited reads always recompute the merge.
func (s *Service) Update(ctx context.Context, userID string, level models.ContextLevel, id string, settings map[string]interface{}, propagate bool) (*models.Context, error) {
	repo := s.repoFor(level).WithUser(userID)
	updated, err := repo.Update(ctx, id, func(c *models.Context) error {
		mergeInto(c.Settings, settings)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if propagate && s.cache != nil {
		s.cache.InvalidateEntity(cache.InvalidationEvent{
			EntityType: "context", EntityID: id, Op: "update",
			UserID: userID, Level: string(level), Propagate: true,
		})
	}
	return updated, nil
}

// Delete removes the context at level/id.
func (s *Service) Delete(ctx context.Context, userID string, level models.ContextLevel, id string) error {
	return s.repoFor(level).WithUser(userID).Delete(ctx, id)
}

// List returns every context the caller owns at the given level.
func (s *Service) List(ctx context.Context, userID string, level models.ContextLevel) ([]*models.Context, error) {
	return s.repoFor(level).WithUser(userID).List(ctx)
}

// AddInsight appends a freeform insight string into the context's _custom
// slot under an "insights" array, preserving everything already there.
func (s *Service) AddInsight(ctx context.Context, userID string, level models.ContextLevel, id, insight string) (*models.Context, error) {
	repo := s.repoFor(level).WithUser(userID)
	return repo.Update(ctx, id, func(c *models.Context) error {
		custom, _ := c.Settings["_custom"].(map[string]interface{})
		if custom == nil {
			custom = map[string]interface{}{}
		}
		insights, _ := custom["insights"].([]interface{})
		custom["insights"] = append(insights, map[string]interface{}{
			"text":    insight,
			"at":      time.Now().Format(time.RFC3339),
		})
		if c.Settings == nil {
			c.Settings = map[string]interface{}{}
		}
		c.Settings["_custom"] = custom
		return nil
	})
}

// Delegate moves the named fields from the context at (fromLevel, fromID)
// up to the context at (toLevel, toID), recording the delegation in the
// source's metadata. Returns both updated contexts.
func (s *Service) Delegate(ctx context.Context, userID string, fromLevel models.ContextLevel, fromID string, toLevel models.ContextLevel, toID string, fields []string) (from, to *models.Context, err error) {
	fromRepo := s.repoFor(fromLevel).WithUser(userID)
	toRepo := s.repoFor(toLevel).WithUser(userID)

	source, err := fromRepo.Get(ctx, fromID)
	if err != nil {
		return nil, nil, err
	}

	delegated := map[string]interface{}{}
	for _, f := range fields {
		if v, ok := source.Settings[f]; ok {
			delegated[f] = v
		}
	}
	if len(delegated) == 0 {
		return nil, nil, apperrors.Validation("none of the requested fields exist on the source context")
	}

	to, err = toRepo.Update(ctx, toID, func(c *models.Context) error {
		mergeInto(c.Settings, delegated)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("contextengine: apply delegation to target: %w", err)
	}

	from, err = fromRepo.Update(ctx, fromID, func(c *models.Context) error {
		delegations, _ := c.Metadata["delegations"].([]interface{})
		c.Metadata["delegations"] = append(delegations, map[string]interface{}{
			"to_level": string(toLevel),
			"to_id":    toID,
			"fields":   fields,
			"at":       time.Now().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("contextengine: record delegation on source: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateEntity(cache.InvalidationEvent{
			EntityType: "context", EntityID: toID, Op: "update",
			UserID: userID, Level: string(toLevel), Propagate: true,
		})
	}
	return from, to, nil
}

// mergeInto deep-merges src into dst, overwriting dst's values with src's
// on key conflict, recursing when both sides are maps.
func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]interface{}); ok {
			if dstMap, ok := dst[k].(map[string]interface{}); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
}
