package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/enforcement"
	"hyperion-taskctl/internal/facade"
	"hyperion-taskctl/internal/models"
)

var manageSubtaskActions = []string{"create", "update", "complete", "list", "get", "delete"}

func registerManageSubtask(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name:        "manage_subtask",
		Description: "Create, update, complete, query, and delete subtasks of a task. Every action requires task_id.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"action":              jsonSchemaString("One of: create, update, complete, list, get, delete"),
				"task_id":             jsonSchemaString("Parent task id (required for every action)"),
				"subtask_id":          jsonSchemaString("Subtask id (update, complete, get, delete)"),
				"title":               jsonSchemaString("Subtask title (create, update)"),
				"description":         jsonSchemaString("Subtask description (create, update)"),
				"status":              jsonSchemaString("Subtask status (update)"),
				"progress_percentage": jsonSchemaAny("0-100, accepts int or digit string; 100 is equivalent to complete (update)"),
				"assignees":           jsonSchemaStringArray("Explicit assignees; omit to inherit the parent task's (create)"),
				"completion_summary":  jsonSchemaString("Summary of completed work (complete, or update with progress_percentage=100)"),
				"progress_notes":      jsonSchemaString("Progress narrative (update)"),
				"agent_id":            jsonSchemaString("Calling agent, for enforcement compliance tracking and response shaping"),
				"profile":             jsonSchemaString("Response profile override"),
				"debug":               jsonSchemaAny("Request DEBUG profile shaping"),
			},
			Required: []string{"action", "task_id"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := extractArguments(req)
		if err != nil {
			return createErrorResult(fmt.Sprintf("failed to extract arguments: %s", err.Error())), nil
		}
		return handleManageSubtask(ctx, deps, args), nil
	})
	return nil
}

func handleManageSubtask(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	action := getString(args, "action")
	if err := validateAction(action, manageSubtaskActions); err != nil {
		return shapeResult(deps, "manage_subtask", errorEnvelope("manage_subtask", err),
			buildRequestContext("manage_subtask", args, 0, nil), enforcement.Result{})
	}

	userID, err := currentUserID(ctx)
	if err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	return handle(deps, "subtask_"+action, args, subtaskResultLen, func() (interface{}, []string, error) {
		return dispatchManageSubtask(ctx, deps, userID, action, args)
	})
}

func subtaskResultLen(data interface{}) int {
	if list, ok := data.([]*models.Subtask); ok {
		return len(list)
	}
	return 0
}

func dispatchManageSubtask(ctx context.Context, deps Dependencies, userID, action string, args map[string]interface{}) (interface{}, []string, error) {
	taskID := getString(args, "task_id")
	if taskID == "" {
		return nil, nil, apperrors.MissingField("task_id")
	}
	branchID, err := resolveTaskBranch(ctx, deps, userID, taskID)
	if err != nil {
		return nil, nil, err
	}
	sf := deps.Facades.Subtask(branchID, userID)

	switch action {
	case "create":
		assignees := getStringSlice(args, "assignees")
		s, err := sf.Create(ctx, facade.CreateSubtaskInput{
			TaskID:      taskID,
			Title:       getString(args, "title"),
			Description: getString(args, "description"),
			Assignees:   assignees,
		})
		return s, assignees, err

	case "update":
		subtaskID := getString(args, "subtask_id")
		if subtaskID == "" {
			return nil, nil, apperrors.MissingField("subtask_id")
		}
		progress, err := optInt(args, "progress_percentage")
		if err != nil {
			return nil, nil, err
		}
		var status *models.TaskStatus
		if s := getString(args, "status"); s != "" {
			st := models.TaskStatus(s)
			status = &st
		}
		assignees := getStringSlice(args, "assignees")
		s, err := sf.Update(ctx, subtaskID, facade.UpdateSubtaskInput{
			TaskID:            taskID,
			Title:             optString(args, "title"),
			Description:       optString(args, "description"),
			Status:            status,
			ProgressPercent:   progress,
			Assignees:         assignees,
			CompletionSummary: optString(args, "completion_summary"),
		})
		return s, assignees, err

	case "complete":
		subtaskID := getString(args, "subtask_id")
		if subtaskID == "" {
			return nil, nil, apperrors.MissingField("subtask_id")
		}
		s, err := sf.Complete(ctx, taskID, subtaskID, getString(args, "completion_summary"))
		return s, nil, err

	case "list":
		list, err := sf.List(ctx, taskID)
		return list, nil, err

	case "get":
		subtaskID := getString(args, "subtask_id")
		if subtaskID == "" {
			return nil, nil, apperrors.MissingField("subtask_id")
		}
		s, err := sf.Get(ctx, taskID, subtaskID)
		return s, nil, err

	case "delete":
		subtaskID := getString(args, "subtask_id")
		if subtaskID == "" {
			return nil, nil, apperrors.MissingField("subtask_id")
		}
		err := sf.Delete(ctx, taskID, subtaskID)
		return map[string]interface{}{"subtask_id": subtaskID, "deleted": true}, nil, err
	}

	return nil, nil, apperrors.UnknownAction(action, manageSubtaskActions)
}
