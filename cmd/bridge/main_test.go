package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBridge(t *testing.T, targetURL string) (*Bridge, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return &Bridge{
		targetURL: targetURL,
		client:    http.DefaultClient,
		logger:    zap.NewNop(),
		out:       bufio.NewWriter(&buf),
	}, &buf
}

func TestForwardSendsSSEAcceptHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json, text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Result: "ok"})
	}))
	defer ts.Close()

	b, _ := newTestBridge(t, ts.URL)
	resp, err := b.forward(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Result)
}

func TestForwardNonOKStatusBecomesHTTPStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("I am a teapot"))
	}))
	defer ts.Close()

	b, _ := newTestBridge(t, ts.URL)
	_, err := b.forward(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ping"}`))
	require.Error(t, err)

	var statusErr *httpStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTeapot, statusErr.status)
	assert.Equal(t, "I am a teapot", statusErr.body)
}

func TestHandleLinePassesCoordinatorStatusThroughAsRPCError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer ts.Close()

	b, buf := newTestBridge(t, ts.URL)
	b.handleLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"manage_task"}`))

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Error.Code)
	assert.Equal(t, "503: overloaded", resp.Error.Message)
}

func TestHandleLineProcessesSequentiallyInArrivalOrder(t *testing.T) {
	release := make(chan struct{})
	var order []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "slow" {
			<-release
		}
		order = append(order, req.Method)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: "ok"})
	}))
	defer ts.Close()
	close(release) // the slow handler's wait is a no-op; ordering comes from the caller, not the server

	b, buf := newTestBridge(t, ts.URL)

	b.handleLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"slow"}`))
	b.handleLine(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"fast"}`))

	require.Equal(t, []string{"slow", "fast"}, order, "requests must be handled one at a time in stdin arrival order, never reordered")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var first, second Response
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.EqualValues(t, 1, first.ID)
	assert.EqualValues(t, 2, second.ID)
}
