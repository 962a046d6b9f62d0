// Command bridge exposes the coordinator's MCP tools over stdio JSON-RPC
// for MCP clients that only speak stdio, proxying each request to the
// already-running coordinator's Streamable HTTP endpoint instead of
// spawning it as a subprocess — the teacher's mcp-http-bridge/main.go does
// the reverse (HTTP facade over a spawned stdio subprocess); this bridge
// only needs to go the other way, so it skips the process management
// entirely and talks to coordinator over the network.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Request mirrors a JSON-RPC 2.0 request arriving on stdin.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response mirrors a JSON-RPC 2.0 response written to stdout.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// Bridge forwards newline-delimited JSON-RPC requests read from stdin to
// the coordinator's /mcp Streamable HTTP endpoint and writes the response
// back to stdout, one line per request. It is a single-reader/single-writer
// pair: requests are handled one at a time, in the order they arrive on
// stdin, never parallelized — MCP peers require in-order responses.
type Bridge struct {
	targetURL string
	client    *http.Client
	logger    *zap.Logger

	writeMu sync.Mutex
	out     *bufio.Writer
}

func newBridge(targetURL string, logger *zap.Logger) *Bridge {
	return &Bridge{
		targetURL: targetURL,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		out:       bufio.NewWriter(os.Stdout),
	}
}

func (b *Bridge) run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		b.handleLine(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bridge: reading stdin: %w", err)
	}
	return nil
}

func (b *Bridge) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		b.writeResponse(Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: codeParseError, Message: "parse error: " + err.Error()},
		})
		return
	}

	if req.Method == "" {
		b.writeResponse(Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: codeMethodNotFound, Message: "method is required"},
		})
		return
	}

	if req.Method == "initialize" {
		req.Params = injectClientInfo(req.Params)
	}

	forwarded, err := json.Marshal(req)
	if err != nil {
		b.writeResponse(Response{
			JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: codeInternalError, Message: "failed to re-encode request: " + err.Error()},
		})
		return
	}

	resp, err := b.forward(ctx, forwarded)
	if err != nil {
		b.logger.Warn("mcp forward failed", zap.String("method", req.Method), zap.Error(err))

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			b.writeResponse(Response{
				JSONRPC: "2.0", ID: req.ID,
				Error: &RPCError{
					Code:    statusErr.status,
					Message: fmt.Sprintf("%d: %s", statusErr.status, statusErr.body),
				},
			})
			return
		}

		b.writeResponse(Response{
			JSONRPC: "2.0", ID: req.ID,
			Error: &RPCError{Code: codeInternalError, Message: err.Error()},
		})
		return
	}

	resp.ID = req.ID
	b.writeResponse(resp)
}

// injectClientInfo stamps this bridge's identity onto the initialize
// request's clientInfo, the way the teacher's bridge hardcodes
// "hyperion-coordinator-http-bridge" into its own synthetic initialize call.
func injectClientInfo(params json.RawMessage) json.RawMessage {
	var m map[string]interface{}
	if len(params) == 0 {
		m = map[string]interface{}{}
	} else if err := json.Unmarshal(params, &m); err != nil {
		return params
	}
	m["clientInfo"] = map[string]interface{}{
		"name":    "hyperion-taskctl-bridge",
		"version": "1.0.0",
	}
	out, err := json.Marshal(m)
	if err != nil {
		return params
	}
	return out
}

// httpStatusError carries a non-200 coordinator response so handleLine can
// pass its status and body through as the JSON-RPC error's code and
// message, rather than collapsing every failure into -32603.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("coordinator returned HTTP %d: %s", e.status, e.body)
}

func (b *Bridge) forward(ctx context.Context, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.targetURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("calling coordinator: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading coordinator response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, &httpStatusError{status: httpResp.StatusCode, body: string(respBody)}
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Response{}, fmt.Errorf("decoding coordinator response: %w", err)
	}
	return resp, nil
}

func (b *Bridge) writeResponse(resp Response) {
	if resp.JSONRPC == "" {
		resp.JSONRPC = "2.0"
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error("failed to encode response", zap.Error(err))
		return
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.out.Write(encoded)
	b.out.WriteByte('\n')
	b.out.Flush()
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	targetURL := os.Getenv("COORDINATOR_MCP_URL")
	if targetURL == "" {
		targetURL = "http://localhost:7778/mcp"
	}

	logger.Info("starting stdio bridge", zap.String("target", targetURL))

	bridge := newBridge(targetURL, logger)
	if err := bridge.run(context.Background()); err != nil {
		logger.Fatal("bridge exited with error", zap.Error(err))
	}
}
