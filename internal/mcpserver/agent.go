package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hyperion-taskctl/internal/agentcatalog"
	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/enforcement"
)

func registerCallAgent(server *mcp.Server, deps Dependencies) error {
	tool := &mcp.Tool{
		Name:        "call_agent",
		Description: "Resolve an agent name against the closed agent catalog and return its capability descriptor.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"agent_name": jsonSchemaString("Agent name, with or without the '@' prefix"),
				"agent_id":   jsonSchemaString("Calling agent, for enforcement compliance tracking and response shaping"),
				"profile":    jsonSchemaString("Response profile override"),
				"debug":      jsonSchemaAny("Request DEBUG profile shaping"),
			},
			Required: []string{"agent_name"},
		},
	}

	server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := extractArguments(req)
		if err != nil {
			return createErrorResult(fmt.Sprintf("failed to extract arguments: %s", err.Error())), nil
		}
		return handleCallAgent(ctx, deps, args), nil
	})
	return nil
}

func handleCallAgent(ctx context.Context, deps Dependencies, args map[string]interface{}) *mcp.CallToolResult {
	if _, err := currentUserID(ctx); err != nil {
		return shapeResult(deps, "call_agent", errorEnvelope("call_agent", err), buildRequestContext("call_agent", args, 0, nil), enforcement.Result{})
	}

	return handle(deps, "call_agent", args, nil, func() (interface{}, []string, error) {
		name := getString(args, "agent_name")
		if name == "" {
			return nil, nil, apperrors.MissingField("agent_name")
		}
		descriptor, ok := agentcatalog.Describe(name)
		if !ok {
			return nil, nil, apperrors.Validation(fmt.Sprintf("%q is not a recognized agent; valid agents: %v", name, agentcatalog.Names()))
		}
		return map[string]interface{}{
			"name":         descriptor.Name,
			"capabilities": descriptor.Capabilities,
			"connected":    descriptor.Connected,
		}, []string{descriptor.Name}, nil
	})
}
