package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/enforcement"
	"hyperion-taskctl/internal/models"
)

var manageContextActions = []string{"create", "update", "get", "delete", "add_insight", "delegate", "list"}

func registerManageContext(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name: "manage_context",
		Description: "Create, read, update, delete, delegate, and list hierarchical context entries " +
			"(global/project/branch/task), with ancestor auto-creation and inherited-view resolution.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"action":            jsonSchemaString("One of: create, update, get, delete, add_insight, delegate, list"),
				"level":             jsonSchemaString("global, project, branch, or task"),
				"context_id":        jsonSchemaString("Id of the context row at level"),
				"project_id":        jsonSchemaString("Owning project id, required when creating a branch context directly"),
				"data":              jsonSchemaAny("Settings payload to store or merge (create, update), may include arbitrary custom keys"),
				"include_inherited": jsonSchemaAny("Return the deep-merged ancestor chain view (get)"),
				"propagate_changes": jsonSchemaAny("Invalidate descendant caches after update (update)"),
				"insight":           jsonSchemaString("Insight text to append (add_insight)"),
				"from_level":        jsonSchemaString("Source level (delegate)"),
				"from_id":           jsonSchemaString("Source context id (delegate)"),
				"to_level":          jsonSchemaString("Target level (delegate)"),
				"to_id":             jsonSchemaString("Target context id (delegate)"),
				"fields":            jsonSchemaStringArray("Field names to move up (delegate)"),
				"agent_id":          jsonSchemaString("Calling agent, for enforcement compliance tracking and response shaping"),
				"profile":           jsonSchemaString("Response profile override"),
				"debug":             jsonSchemaAny("Request DEBUG profile shaping"),
			},
			Required: []string{"action", "level"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := extractArguments(req)
		if err != nil {
			return createErrorResult(fmt.Sprintf("failed to extract arguments: %s", err.Error())), nil
		}
		return handleManageContext(ctx, deps, args), nil
	})
	return nil
}

func handleManageContext(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	action := getString(args, "action")
	if err := validateAction(action, manageContextActions); err != nil {
		return shapeResult(deps, "manage_context", errorEnvelope("manage_context", err),
			buildRequestContext("manage_context", args, 0, nil), enforcement.Result{})
	}

	userID, err := currentUserID(ctx)
	if err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	return handle(deps, "context_"+action, args, contextResultLen, func() (interface{}, []string, error) {
		return dispatchManageContext(ctx, deps, userID, action, args)
	})
}

func contextResultLen(data interface{}) int {
	if list, ok := data.([]*models.Context); ok {
		return len(list)
	}
	return 0
}

// contextSettings coerces the "data" argument, which may arrive as a map or
// (per spec.md §4.10.5's client_info precedent for embedded JSON strings) as
// a JSON-encoded string, into a settings map.
func contextSettings(args map[string]interface{}) (map[string]interface{}, error) {
	v, ok := args["data"]
	if !ok || v == nil {
		return map[string]interface{}{}, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	if s, ok := v.(string); ok {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, apperrors.InvalidParam("data", "data is not valid JSON: "+err.Error())
		}
		return m, nil
	}
	return nil, apperrors.InvalidParam("data", "data must be an object or a JSON-encoded object string")
}

func dispatchManageContext(ctx context.Context, deps Dependencies, userID, action string, args map[string]interface{}) (interface{}, []string, error) {
	cf := deps.Facades.Context(userID)
	level := models.ContextLevel(getString(args, "level"))
	contextID := getString(args, "context_id")

	switch action {
	case "create":
		settings, err := contextSettings(args)
		if err != nil {
			return nil, nil, err
		}
		c, err := cf.Create(ctx, level, contextID, getString(args, "project_id"), settings)
		return c, nil, err

	case "update":
		if contextID == "" {
			return nil, nil, apperrors.MissingField("context_id")
		}
		settings, err := contextSettings(args)
		if err != nil {
			return nil, nil, err
		}
		propagate, err := optBool(args, "propagate_changes", false)
		if err != nil {
			return nil, nil, err
		}
		c, err := cf.Update(ctx, level, contextID, settings, propagate)
		return c, nil, err

	case "get":
		if contextID == "" {
			return nil, nil, apperrors.MissingField("context_id")
		}
		includeInherited, err := optBool(args, "include_inherited", false)
		if err != nil {
			return nil, nil, err
		}
		if includeInherited {
			merged, err := cf.GetInherited(ctx, level, contextID)
			return merged, nil, err
		}
		c, err := cf.Get(ctx, level, contextID)
		return c, nil, err

	case "delete":
		if contextID == "" {
			return nil, nil, apperrors.MissingField("context_id")
		}
		err := cf.Delete(ctx, level, contextID)
		return map[string]interface{}{"context_id": contextID, "deleted": true}, nil, err

	case "add_insight":
		if contextID == "" {
			return nil, nil, apperrors.MissingField("context_id")
		}
		insight := getString(args, "insight")
		if insight == "" {
			return nil, nil, apperrors.MissingField("insight")
		}
		c, err := cf.AddInsight(ctx, level, contextID, insight)
		return c, nil, err

	case "delegate":
		fromID := getString(args, "from_id")
		toID := getString(args, "to_id")
		if fromID == "" {
			return nil, nil, apperrors.MissingField("from_id")
		}
		if toID == "" {
			return nil, nil, apperrors.MissingField("to_id")
		}
		fields := getStringSlice(args, "fields")
		from, to, err := cf.Delegate(ctx, models.ContextLevel(getString(args, "from_level")), fromID,
			models.ContextLevel(getString(args, "to_level")), toID, fields)
		if err != nil {
			return nil, nil, err
		}
		return map[string]interface{}{"from": from, "to": to}, nil, nil

	case "list":
		list, err := cf.List(ctx, level)
		return list, nil, err
	}

	return nil, nil, apperrors.UnknownAction(action, manageContextActions)
}
