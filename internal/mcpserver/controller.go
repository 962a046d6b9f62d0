// Package mcpserver registers the MCP tool catalog (spec.md §4.10) on top of
// the Application Facades: one tool per aggregate, one `action` dispatch
// parameter per tool, parameter coercion, enforcement, and response shaping
// around every call. Grounded on the teacher's handlers/tools.go
// registration idiom (ToolHandler, RegisterToolHandlers, per-tool
// register<Name> methods, extractArguments/createErrorResult helpers),
// generalized from one-tool-per-operation to one-tool-per-aggregate with an
// internal action dispatch.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/apperrors"
	"hyperion-taskctl/internal/auth"
	"hyperion-taskctl/internal/enforcement"
	"hyperion-taskctl/internal/eventbus"
	"hyperion-taskctl/internal/facade"
	"hyperion-taskctl/internal/optimizer"
	"hyperion-taskctl/internal/store"
)

// Dependencies bundles everything a controller needs to resolve facades,
// enforce parameters, and shape responses. Backend is retained alongside
// Facades because a few facade methods (TaskFacade.Complete/Delete) take a
// raw SubtaskRepository rather than another cached facade.
type Dependencies struct {
	Facades     *facade.Factory
	Backend     store.Backend
	Enforcement *enforcement.Service
	Optimizer   *optimizer.Optimizer
	Bus         *eventbus.Bus
	Logger      *zap.Logger
}

func (d Dependencies) subtaskRepo(userID string) store.SubtaskRepository {
	return d.Backend.Subtasks.WithUser(userID)
}

// resolveTaskBranch looks up a task's own git_branch_id directly from the
// backend (never through a facade cached under a placeholder branch key) so
// every task- or subtask-scoped mutation resolves the right TaskFacade/
// SubtaskFacade cache entry. This is the lookup spec.md §4.10.1 item 3 calls
// out as critical: task_id must never stand in for git_branch_id.
func resolveTaskBranch(ctx context.Context, deps Dependencies, userID, taskID string) (string, error) {
	t, err := deps.Backend.Tasks.WithUser(userID).Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return t.GitBranchID, nil
}

// RegisterAll registers every manage_* and call_agent tool on server.
func RegisterAll(server *mcp.Server, deps Dependencies) error {
	controllers := []func(*mcp.Server, Dependencies) error{
		registerManageTask,
		registerManageSubtask,
		registerManageProject,
		registerManageGitBranch,
		registerManageContext,
		registerManageConnection,
		registerCallAgent,
	}
	for _, register := range controllers {
		if err := register(server, deps); err != nil {
			return fmt.Errorf("mcpserver: %w", err)
		}
	}
	return nil
}

// extractArguments mirrors the teacher's ToolHandler.extractArguments: a
// direct type assertion first, then a JSON round-trip fallback for proper
// type conversion.
func extractArguments(req *mcp.CallToolRequest) (map[string]interface{}, error) {
	if req.Params.Arguments == nil {
		return make(map[string]interface{}), nil
	}
	if args, ok := req.Params.Arguments.(map[string]interface{}); ok {
		return args, nil
	}
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return nil, fmt.Errorf("arguments must be serializable: %w", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("arguments must be unmarshable to map[string]interface{}: %w", err)
	}
	return result, nil
}

var digitsOnly = regexp.MustCompile(`^-?[0-9]+$`)

var truthyStrings = map[string]bool{"true": true, "1": true, "yes": true, "on": true}
var falsyStrings = map[string]bool{"false": true, "0": true, "no": true, "off": true}

// coerceInt implements spec.md §4.10.1's integer coercion rule: accept int
// (any JSON numeric type decodes to float64) or a digit string; reject
// anything else, including empty strings.
func coerceInt(field string, v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		if t == "" || !digitsOnly.MatchString(t) {
			return 0, apperrors.InvalidParam(field, fmt.Sprintf("%q is not a valid integer", t))
		}
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, apperrors.InvalidParam(field, fmt.Sprintf("%q is not a valid integer", t))
		}
		return n, nil
	default:
		return 0, apperrors.InvalidParam(field, fmt.Sprintf("%v is not a valid integer", v))
	}
}

// coerceBool implements spec.md §4.10.1's boolean coercion rule.
func coerceBool(field string, v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		lower := strings.ToLower(t)
		if truthyStrings[lower] {
			return true, nil
		}
		if falsyStrings[lower] {
			return false, nil
		}
		return false, apperrors.InvalidParam(field, fmt.Sprintf("%q is not a valid boolean", t))
	default:
		return false, apperrors.InvalidParam(field, fmt.Sprintf("%v is not a valid boolean", v))
	}
}

// optInt reads an optional integer field, returning nil if absent.
func optInt(args map[string]interface{}, field string) (*int, error) {
	v, ok := args[field]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := coerceInt(field, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// optBool reads an optional boolean field, defaulting to def if absent.
func optBool(args map[string]interface{}, field string, def bool) (bool, error) {
	v, ok := args[field]
	if !ok || v == nil {
		return def, nil
	}
	return coerceBool(field, v)
}

func getString(args map[string]interface{}, field string) string {
	if v, ok := args[field].(string); ok {
		return v
	}
	return ""
}

func optString(args map[string]interface{}, field string) *string {
	v, ok := args[field]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func getStringSlice(args map[string]interface{}, field string) []string {
	v, ok := args[field]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// validateAction returns an UNKNOWN_ACTION error unless action is in valid.
func validateAction(action string, valid []string) error {
	for _, v := range valid {
		if action == v {
			return nil
		}
	}
	return apperrors.UnknownAction(action, valid)
}

// runEnforcement runs the Parameter Enforcement Service for action and
// returns a non-nil error only when STRICT enforcement blocks the call.
func runEnforcement(deps Dependencies, action string, args map[string]interface{}) (enforcement.Result, error) {
	agentID := getString(args, "agent_id")
	result := deps.Enforcement.Enforce(action, args, agentID, "")
	if !result.Allowed {
		return result, &apperrors.AppError{
			Code:    apperrors.CodeEnforcementBlocked,
			Message: result.Message,
			Hint:    strings.Join(result.Hints, "; "),
		}
	}
	return result, nil
}

// buildRequestContext derives the optimizer.RequestContext for one call from
// its arguments and the facade's resulting payload shape.
func buildRequestContext(operation string, args map[string]interface{}, resultLen int, assignees []string) optimizer.RequestContext {
	rc := optimizer.RequestContext{
		Operation:        operation,
		Agent:            getString(args, "agent_id"),
		ResultListLength: resultLen,
		Assignees:        assignees,
	}
	if p, ok := args["profile"].(string); ok {
		rc.ExplicitProfile = optimizer.Profile(p)
	}
	if debug, err := optBool(args, "debug", false); err == nil {
		rc.Debug = debug
	}
	return rc
}

// successEnvelope builds the raw success payload before optimizer shaping.
func successEnvelope(operation string, data interface{}, enf enforcement.Result) map[string]interface{} {
	env := map[string]interface{}{
		"success":      true,
		"operation":    operation,
		"operation_id": newOperationID(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"confirmation": map[string]interface{}{"data_persisted": true},
	}
	if d, ok := toMap(data); ok {
		env["data"] = d
	} else {
		env["data"] = map[string]interface{}{"result": data}
	}
	if len(enf.Hints) > 0 {
		env["hints"] = enf.Hints
	}
	return env
}

func errorEnvelope(operation string, err error) map[string]interface{} {
	ae := apperrors.As(err)
	errObj := map[string]interface{}{
		"code":    string(ae.Code),
		"message": ae.Message,
	}
	if ae.Field != "" {
		errObj["field"] = ae.Field
	}
	if ae.Hint != "" {
		errObj["hint"] = ae.Hint
	}
	if ae.Expected != "" {
		errObj["expected"] = ae.Expected
	}
	return map[string]interface{}{
		"success":      false,
		"operation":    operation,
		"operation_id": newOperationID(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"error":        errObj,
	}
}

// toMap flattens a value into a map via JSON round-trip so the optimizer can
// operate generically over heterogeneous facade return types.
func toMap(v interface{}) (map[string]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

var operationCounter int64

// newOperationID derives a short, monotonically distinguishable id without
// relying on time.Now() granularity collisions across rapid calls.
func newOperationID() string {
	operationCounter++
	return fmt.Sprintf("op-%d-%d", time.Now().UnixNano(), operationCounter)
}

// shapeResult runs the optimizer over a raw envelope and serializes it as
// the tool's single text content block, the way the teacher's handlers
// marshal a result struct into one TextContent.
func shapeResult(deps Dependencies, operation string, raw map[string]interface{}, rc optimizer.RequestContext, enf enforcement.Result) *mcp.CallToolResult {
	hints := enf.Hints
	profile := optimizer.SelectProfile(rc)
	shaped := deps.Optimizer.Shape(raw, profile, hints)

	body, err := json.MarshalIndent(shaped, "", "  ")
	if err != nil {
		return createErrorResult(fmt.Sprintf("failed to marshal response: %s", err.Error()))
	}

	prefix := "✓"
	if success, ok := shaped["success"].(bool); ok && !success {
		prefix = "❌"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s %s\n\n%s", prefix, operation, string(body))}},
	}
}

// createErrorResult mirrors the teacher's createErrorResult helper.
func createErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("❌ Error: %s", message)}},
		IsError: true,
	}
}

// currentUserID resolves the caller's user_id strictly from ctx, never from
// a tool parameter (spec.md §4.10.1 item 4).
func currentUserID(ctx context.Context) (string, error) {
	userID, ok := auth.CurrentUserID(ctx)
	if !ok {
		return "", apperrors.New(apperrors.CodeValidation, "no authenticated user bound to this request")
	}
	return userID, nil
}

// handle runs the common controller pipeline around fn: action validation
// already performed by the caller, enforcement, facade call, and response
// shaping. fn returns the facade's DTO (or nil on error) and any error from
// facade resolution or execution.
func handle(deps Dependencies, operation string, args map[string]interface{}, resultLenOf func(interface{}) int, fn func() (interface{}, []string, error)) *mcp.CallToolResult {
	enf, enfErr := runEnforcement(deps, operation, args)
	if enfErr != nil {
		raw := errorEnvelopeWithHints(operation, enfErr, enf)
		rc := buildRequestContext(operation, args, 0, nil)
		return shapeResult(deps, operation, raw, rc, enf)
	}

	data, assignees, err := fn()
	if err != nil {
		raw := errorEnvelope(operation, err)
		rc := buildRequestContext(operation, args, 0, assignees)
		return shapeResult(deps, operation, raw, rc, enf)
	}

	raw := successEnvelope(operation, data, enf)
	resultLen := 0
	if resultLenOf != nil {
		resultLen = resultLenOf(data)
	}
	rc := buildRequestContext(operation, args, resultLen, assignees)
	return shapeResult(deps, operation, raw, rc, enf)
}

func errorEnvelopeWithHints(operation string, err error, enf enforcement.Result) map[string]interface{} {
	env := errorEnvelope(operation, err)
	if len(enf.MissingRequired) > 0 {
		if errObj, ok := env["error"].(map[string]interface{}); ok {
			errObj["missing_required"] = enf.MissingRequired
		}
	}
	if len(enf.Hints) > 0 {
		env["hints"] = enf.Hints
	}
	if len(enf.Examples) > 0 {
		env["examples"] = enf.Examples
	}
	return env
}

func jsonSchemaString(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func jsonSchemaStringArray(description string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "array",
		Description: description,
		Items:       &jsonschema.Schema{Type: "string"},
	}
}

func jsonSchemaAny(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Description: description}
}
