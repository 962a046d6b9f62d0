package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/enforcement"
	"hyperion-taskctl/internal/models"
)

var manageGitBranchActions = []string{"create", "get", "update", "delete", "list"}

func registerManageGitBranch(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name:        "manage_git_branch",
		Description: "Create, read, update, delete, and list git branches within a project.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"action":        jsonSchemaString("One of: create, get, update, delete, list"),
				"project_id":    jsonSchemaString("Owning project id (create, list)"),
				"git_branch_id": jsonSchemaString("Branch id (get, update, delete)"),
				"name":          jsonSchemaString("Branch name (create, update)"),
				"description":   jsonSchemaString("Branch description (create, update)"),
				"agent_id":      jsonSchemaString("Calling agent, for enforcement compliance tracking and response shaping"),
				"profile":       jsonSchemaString("Response profile override"),
				"debug":         jsonSchemaAny("Request DEBUG profile shaping"),
			},
			Required: []string{"action"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := extractArguments(req)
		if err != nil {
			return createErrorResult(fmt.Sprintf("failed to extract arguments: %s", err.Error())), nil
		}
		return handleManageGitBranch(ctx, deps, args), nil
	})
	return nil
}

func handleManageGitBranch(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	action := getString(args, "action")
	if err := validateAction(action, manageGitBranchActions); err != nil {
		return shapeResult(deps, "manage_git_branch", errorEnvelope("manage_git_branch", err),
			buildRequestContext("manage_git_branch", args, 0, nil), enforcement.Result{})
	}

	userID, err := currentUserID(ctx)
	if err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	return handle(deps, "branch_"+action, args, branchResultLen, func() (interface{}, []string, error) {
		return dispatchManageGitBranch(ctx, deps, userID, action, args)
	})
}

func branchResultLen(data interface{}) int {
	if list, ok := data.([]*models.GitBranch); ok {
		return len(list)
	}
	return 0
}

func dispatchManageGitBranch(ctx context.Context, deps Dependencies, userID, action string, args map[string]interface{}) (interface{}, []string, error) {
	projectID := getString(args, "project_id")
	bf := deps.Facades.Branch(projectID, userID)

	switch action {
	case "create":
		b, err := bf.Create(ctx, projectID, getString(args, "name"), getString(args, "description"))
		return b, nil, err

	case "get":
		branchID := getString(args, "git_branch_id")
		if branchID == "" {
			return nil, nil, apperrors.MissingField("git_branch_id")
		}
		b, err := bf.Get(ctx, branchID)
		return b, nil, err

	case "update":
		branchID := getString(args, "git_branch_id")
		if branchID == "" {
			return nil, nil, apperrors.MissingField("git_branch_id")
		}
		b, err := bf.Update(ctx, branchID, optString(args, "name"), optString(args, "description"))
		return b, nil, err

	case "delete":
		branchID := getString(args, "git_branch_id")
		if branchID == "" {
			return nil, nil, apperrors.MissingField("git_branch_id")
		}
		err := bf.Delete(ctx, branchID)
		return map[string]interface{}{"git_branch_id": branchID, "deleted": true}, nil, err

	case "list":
		if projectID == "" {
			return nil, nil, apperrors.MissingField("project_id")
		}
		list, err := bf.ListByProject(ctx, projectID)
		return list, nil, err
	}

	return nil, nil, apperrors.UnknownAction(action, manageGitBranchActions)
}
