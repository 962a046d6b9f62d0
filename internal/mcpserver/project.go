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

var manageProjectActions = []string{"create", "get", "get_by_name", "update", "delete", "list"}

func registerManageProject(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name:        "manage_project",
		Description: "Create, read, update, delete, and list projects, the top level of the branch/task hierarchy.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"action":      jsonSchemaString("One of: create, get, get_by_name, update, delete, list"),
				"project_id":  jsonSchemaString("Project id (get, update, delete)"),
				"name":        jsonSchemaString("Project name, unique per user (create, update, get_by_name)"),
				"description": jsonSchemaString("Project description (create, update)"),
				"agent_id":    jsonSchemaString("Calling agent, for enforcement compliance tracking and response shaping"),
				"profile":     jsonSchemaString("Response profile override"),
				"debug":       jsonSchemaAny("Request DEBUG profile shaping"),
			},
			Required: []string{"action"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := extractArguments(req)
		if err != nil {
			return createErrorResult(fmt.Sprintf("failed to extract arguments: %s", err.Error())), nil
		}
		return handleManageProject(ctx, deps, args), nil
	})
	return nil
}

func handleManageProject(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	action := getString(args, "action")
	if err := validateAction(action, manageProjectActions); err != nil {
		return shapeResult(deps, "manage_project", errorEnvelope("manage_project", err),
			buildRequestContext("manage_project", args, 0, nil), enforcement.Result{})
	}

	userID, err := currentUserID(ctx)
	if err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	return handle(deps, "project_"+action, args, projectResultLen, func() (interface{}, []string, error) {
		return dispatchManageProject(ctx, deps, userID, action, args)
	})
}

func projectResultLen(data interface{}) int {
	if list, ok := data.([]*models.Project); ok {
		return len(list)
	}
	return 0
}

func dispatchManageProject(ctx context.Context, deps Dependencies, userID, action string, args map[string]interface{}) (interface{}, []string, error) {
	pf := deps.Facades.Project(userID)

	switch action {
	case "create":
		p, err := pf.Create(ctx, getString(args, "name"), getString(args, "description"))
		return p, nil, err

	case "get":
		projectID := getString(args, "project_id")
		if projectID == "" {
			return nil, nil, apperrors.MissingField("project_id")
		}
		p, err := pf.Get(ctx, projectID)
		return p, nil, err

	case "get_by_name":
		name := getString(args, "name")
		if name == "" {
			return nil, nil, apperrors.MissingField("name")
		}
		p, err := pf.GetByName(ctx, name)
		return p, nil, err

	case "update":
		projectID := getString(args, "project_id")
		if projectID == "" {
			return nil, nil, apperrors.MissingField("project_id")
		}
		p, err := pf.Update(ctx, projectID, optString(args, "name"), optString(args, "description"))
		return p, nil, err

	case "delete":
		projectID := getString(args, "project_id")
		if projectID == "" {
			return nil, nil, apperrors.MissingField("project_id")
		}
		err := pf.Delete(ctx, projectID)
		return map[string]interface{}{"project_id": projectID, "deleted": true}, nil, err

	case "list":
		list, err := pf.List(ctx)
		return list, nil, err
	}

	return nil, nil, apperrors.UnknownAction(action, manageProjectActions)
}
