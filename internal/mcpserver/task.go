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
	"hyperion-taskctl/internal/store"
)

var manageTaskActions = []string{
	"create", "update", "complete", "get", "list", "search", "next",
	"add_dependency", "remove_dependency", "delete",
}

func registerManageTask(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name: "manage_task",
		Description: "Create, update, complete, query, and delete tasks within a git branch. " +
			"One action parameter dispatches every task operation.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"action":               jsonSchemaString("One of: create, update, complete, get, list, search, next, add_dependency, remove_dependency, delete"),
				"git_branch_id":        jsonSchemaString("Owning branch id (create, list, next)"),
				"task_id":              jsonSchemaString("Task id (update, complete, get, add_dependency, remove_dependency, delete)"),
				"dependency_id":        jsonSchemaString("Dependency task id (add_dependency, remove_dependency)"),
				"title":                jsonSchemaString("Task title (create, update)"),
				"description":          jsonSchemaString("Task description (create, update)"),
				"status":               jsonSchemaString("Task status (update)"),
				"priority":             jsonSchemaString("Task priority (create, update)"),
				"assignees":            jsonSchemaStringArray("Agent names assigned to this task"),
				"labels":               jsonSchemaStringArray("Free-form labels"),
				"progress_percentage":  jsonSchemaAny("0-100, accepts int or digit string (update)"),
				"estimated_effort":     jsonSchemaString("Estimated effort (create, update)"),
				"completion_summary":   jsonSchemaString("Summary of completed work (complete)"),
				"force":                jsonSchemaAny("Auto-complete incomplete subtasks (complete)"),
				"include_context":      jsonSchemaAny("Merge inherited task context into the result (get)"),
				"query":                jsonSchemaString("Full-text query (search)"),
				"limit":                jsonSchemaAny("Result cap, accepts int or digit string (list, search)"),
				"work_notes":           jsonSchemaString("What is being worked on right now (update)"),
				"progress_made":        jsonSchemaString("What was accomplished since the last update (update)"),
				"agent_id":             jsonSchemaString("Calling agent, for enforcement compliance tracking and response shaping"),
				"profile":              jsonSchemaString("Response profile override: minimal, standard, detailed, debug"),
				"debug":                jsonSchemaAny("Request DEBUG profile shaping"),
			},
			Required: []string{"action"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := extractArguments(req)
		if err != nil {
			return createErrorResult(fmt.Sprintf("failed to extract arguments: %s", err.Error())), nil
		}
		return handleManageTask(ctx, deps, args), nil
	})
	return nil
}

func handleManageTask(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	action := getString(args, "action")
	if err := validateAction(action, manageTaskActions); err != nil {
		return shapeResult(deps, "manage_task", errorEnvelope("manage_task", err),
			buildRequestContext("manage_task", args, 0, nil), enforcement.Result{})
	}

	userID, err := currentUserID(ctx)
	if err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	return handle(deps, action, args, taskResultLen, func() (interface{}, []string, error) {
		return dispatchManageTask(ctx, deps, userID, action, args)
	})
}

func taskResultLen(data interface{}) int {
	if list, ok := data.([]*models.Task); ok {
		return len(list)
	}
	return 0
}

func dispatchManageTask(ctx context.Context, deps Dependencies, userID, action string, args map[string]interface{}) (interface{}, []string, error) {
	gitBranchID := getString(args, "git_branch_id")

	switch action {
	case "create":
		tf := deps.Facades.Task(gitBranchID, userID)
		assignees := getStringSlice(args, "assignees")
		t, err := tf.Create(ctx, facade.CreateTaskInput{
			GitBranchID: gitBranchID,
			Title:       getString(args, "title"),
			Description: getString(args, "description"),
			Priority:    models.TaskPriority(getString(args, "priority")),
			Status:      models.TaskStatus(getString(args, "status")),
			Assignees:   assignees,
			Labels:      getStringSlice(args, "labels"),
		})
		return t, assignees, err

	case "update":
		taskID := getString(args, "task_id")
		if taskID == "" {
			return nil, nil, apperrors.MissingField("task_id")
		}
		branchID, err := resolveTaskBranch(ctx, deps, userID, taskID)
		if err != nil {
			return nil, nil, err
		}
		tf := deps.Facades.Task(branchID, userID)

		progress, err := optInt(args, "progress_percentage")
		if err != nil {
			return nil, nil, err
		}
		var status *models.TaskStatus
		if s := getString(args, "status"); s != "" {
			st := models.TaskStatus(s)
			status = &st
		}
		var priority *models.TaskPriority
		if p := getString(args, "priority"); p != "" {
			pr := models.TaskPriority(p)
			priority = &pr
		}
		assignees := getStringSlice(args, "assignees")
		t, err := tf.Update(ctx, taskID, facade.UpdateTaskInput{
			Title:           optString(args, "title"),
			Description:     optString(args, "description"),
			Status:          status,
			Priority:        priority,
			Assignees:       assignees,
			Labels:          getStringSlice(args, "labels"),
			ProgressPercent: progress,
			EstimatedEffort: optString(args, "estimated_effort"),
		})
		return t, assignees, err

	case "complete":
		taskID := getString(args, "task_id")
		if taskID == "" {
			return nil, nil, apperrors.MissingField("task_id")
		}
		branchID, err := resolveTaskBranch(ctx, deps, userID, taskID)
		if err != nil {
			return nil, nil, err
		}
		tf := deps.Facades.Task(branchID, userID)
		force, err := optBool(args, "force", false)
		if err != nil {
			return nil, nil, err
		}
		t, err := tf.Complete(ctx, deps.subtaskRepo(userID), taskID, getString(args, "completion_summary"), force)
		return t, nil, err

	case "get":
		taskID := getString(args, "task_id")
		if taskID == "" {
			return nil, nil, apperrors.MissingField("task_id")
		}
		branchID, err := resolveTaskBranch(ctx, deps, userID, taskID)
		if err != nil {
			return nil, nil, err
		}
		tf := deps.Facades.Task(branchID, userID)
		t, err := tf.Get(ctx, taskID)
		if err != nil {
			return nil, nil, err
		}
		includeContext, err := optBool(args, "include_context", false)
		if err != nil {
			return nil, nil, err
		}
		if includeContext {
			merged, cerr := deps.Facades.Context(userID).GetInherited(ctx, models.ContextLevelTask, taskID)
			if cerr == nil {
				return map[string]interface{}{"task": t, "context": merged}, t.Assignees, nil
			}
		}
		return t, t.Assignees, nil

	case "list":
		limit, err := optInt(args, "limit")
		if err != nil {
			return nil, nil, err
		}
		filter := store.ListFilter{
			GitBranchID: gitBranchID,
			Status:      getString(args, "status"),
			Priority:    getString(args, "priority"),
			Assignees:   getStringSlice(args, "assignees"),
			Labels:      getStringSlice(args, "labels"),
		}
		if limit != nil {
			if *limit < 1 || *limit > 1000 {
				return nil, nil, apperrors.InvalidParam("limit", "must be between 1 and 1000")
			}
			filter.Limit = *limit
		}
		tf := deps.Facades.Task(gitBranchID, userID)
		list, err := tf.List(ctx, filter)
		return list, nil, err

	case "search":
		query := getString(args, "query")
		limit, err := optInt(args, "limit")
		if err != nil {
			return nil, nil, err
		}
		cap := 100
		if limit != nil {
			if *limit < 1 {
				return nil, nil, apperrors.InvalidParam("limit", "must be at least 1")
			}
			cap = *limit
			if cap > 100 {
				cap = 100
			}
		}
		tf := deps.Facades.Task(gitBranchID, userID)
		list, err := tf.Search(ctx, query, cap)
		return list, nil, err

	case "next":
		tf := deps.Facades.Task(gitBranchID, userID)
		t, err := tf.Next(ctx, gitBranchID)
		return t, nil, err

	case "add_dependency", "remove_dependency":
		taskID := getString(args, "task_id")
		depID := getString(args, "dependency_id")
		if taskID == "" {
			return nil, nil, apperrors.MissingField("task_id")
		}
		if depID == "" {
			return nil, nil, apperrors.MissingField("dependency_id")
		}
		branchID, err := resolveTaskBranch(ctx, deps, userID, taskID)
		if err != nil {
			return nil, nil, err
		}
		tf := deps.Facades.Task(branchID, userID)
		if action == "add_dependency" {
			t, err := tf.AddDependency(ctx, taskID, depID)
			return t, nil, err
		}
		t, err := tf.RemoveDependency(ctx, taskID, depID)
		return t, nil, err

	case "delete":
		taskID := getString(args, "task_id")
		if taskID == "" {
			return nil, nil, apperrors.MissingField("task_id")
		}
		branchID, err := resolveTaskBranch(ctx, deps, userID, taskID)
		if err != nil {
			return nil, nil, err
		}
		tf := deps.Facades.Task(branchID, userID)
		err = tf.Delete(ctx, deps.subtaskRepo(userID), deps.Facades.Context(userID), taskID)
		return map[string]interface{}{"task_id": taskID, "deleted": true}, nil, err
	}

	return nil, nil, apperrors.UnknownAction(action, manageTaskActions)
}

