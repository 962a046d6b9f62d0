package contextengine

import (
	"context"

	"hyperion-taskctl/internal/store"
)

// BackendLookup implements ProjectLookup directly against the repository
// backend, scoping every read to userID the same way a facade would.
type BackendLookup struct {
	Backend store.Backend
}

func (l BackendLookup) ProjectIDForBranch(ctx context.Context, userID, branchID string) (string, error) {
	b, err := l.Backend.Branches.WithUser(userID).Get(ctx, branchID)
	if err != nil {
		return "", err
	}
	return b.ProjectID, nil
}

func (l BackendLookup) BranchIDForTask(ctx context.Context, userID, taskID string) (string, error) {
	t, err := l.Backend.Tasks.WithUser(userID).Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.GitBranchID, nil
}
