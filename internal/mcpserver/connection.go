package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/enforcement"
)

var manageConnectionActions = []string{"health_check", "server_capabilities", "connection_health", "status", "register_updates"}

func registerManageConnection(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name:        "manage_connection",
		Description: "Inspect server health and capabilities, and register a session for update notifications.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"action":      jsonSchemaString("One of: health_check, server_capabilities, connection_health, status, register_updates"),
				"session_id":  jsonSchemaString("Session id (register_updates); defaults to 'default_session' when omitted"),
				"client_info": jsonSchemaAny("Client metadata, as an object or a JSON-encoded string"),
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
		return handleManageConnection(ctx, deps, args), nil
	})
	return nil
}

func handleManageConnection(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	action := getString(args, "action")
	if err := validateAction(action, manageConnectionActions); err != nil {
		return shapeResult(deps, "manage_connection", errorEnvelope("manage_connection", err),
			buildRequestContext("manage_connection", args, 0, nil), enforcement.Result{})
	}

	userID, err := currentUserID(ctx)
	if err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	if _, err := parseClientInfo(args); err != nil {
		return shapeResult(deps, action, errorEnvelope(action, err), buildRequestContext(action, args, 0, nil), enforcement.Result{})
	}

	return handle(deps, "connection_"+action, args, nil, func() (interface{}, []string, error) {
		return dispatchManageConnection(ctx, deps, userID, action, args)
	})
}

// parseClientInfo parses the optional client_info argument, which may arrive
// as a JSON string, returning INVALID_PARAMETER_FORMAT on malformed JSON
// (spec.md §4.10.5).
func parseClientInfo(args map[string]interface{}) (map[string]interface{}, error) {
	v, ok := args["client_info"]
	if !ok || v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, apperrors.InvalidParam("client_info", "client_info must be an object or a JSON-encoded object string")
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, apperrors.InvalidParam("client_info", "client_info is not valid JSON: "+err.Error())
	}
	return m, nil
}

func dispatchManageConnection(ctx context.Context, deps Dependencies, userID, action string, args map[string]interface{}) (interface{}, []string, error) {
	cf := deps.Facades.Connection(userID)

	switch action {
	case "health_check":
		return cf.HealthCheck(), nil, nil
	case "server_capabilities":
		return cf.ServerCapabilities(), nil, nil
	case "connection_health":
		return cf.ConnectionHealth(), nil, nil
	case "status":
		return cf.Status(), nil, nil
	case "register_updates":
		sessionID := cf.RegisterUpdates(getString(args, "session_id"))
		return map[string]interface{}{"session_id": sessionID, "registered": true}, nil, nil
	}

	return nil, nil, apperrors.UnknownAction(action, manageConnectionActions)
}
