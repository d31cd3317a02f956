package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/stretchr/testify/require"
)

// runSingle runs a workflow made of a webhook trigger followed by n.
func runSingle(t *testing.T, e *Engine, n *workflow.Node, payload map[string]any) *RunResult {
	t.Helper()
	w := &workflow.Workflow{
		ID:    "single",
		Name:  "Single",
		Nodes: []*workflow.Node{node("t", workflow.TypeWebhook, nil), n},
		Edges: []*workflow.Edge{edge("e1", "t", n.ID)},
	}
	result, err := e.Run(context.Background(), w, payload)
	require.NoError(t, err)
	return result
}

func resultOf(t *testing.T, result *RunResult, id string) map[string]any {
	t.Helper()
	require.Empty(t, result.Errors)
	value, ok := result.Results[id].(map[string]any)
	require.True(t, ok, "missing result for %s", id)
	return value
}

func TestWebhookHandler(t *testing.T) {
	e := newTestEngine(t, Options{})

	result := runSingle(t, e, node("w", workflow.TypeWebhook, nil), map[string]any{"webhook": map[string]any{"id": 7}})
	require.Equal(t, map[string]any{"id": 7}, resultOf(t, result, "t")["data"])

	result = runSingle(t, e, node("w", workflow.TypeWebhook, nil), map[string]any{"user": "ada"})
	require.Equal(t, map[string]any{"user": "ada"}, resultOf(t, result, "t")["data"])

	ts, ok := resultOf(t, result, "t")["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
}

func TestHTTPRequestHandler(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotContentType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.Header().Set("X-Request-Id", "abc")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"created":true}`))
	}))
	defer server.Close()

	e := newTestEngine(t, Options{})
	result := runSingle(t, e, node("h", workflow.TypeHTTPRequest, map[string]any{
		"url":     server.URL + "/users/{{data.id}}",
		"method":  "post",
		"headers": map[string]any{"Authorization": "Bearer {{data.token}}"},
		"body":    map[string]any{"name": "Ada"},
	}), map[string]any{"id": "42", "token": "secret"})

	h := resultOf(t, result, "h")
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/users/42", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, map[string]any{"name": "Ada"}, gotBody)
	require.Equal(t, 201, h["status"])
	require.Equal(t, "Created", h["statusText"])
	require.Equal(t, map[string]any{"created": true}, h["data"])
	require.Equal(t, "abc", h["headers"].(map[string]any)["x-request-id"])
}

func TestHTTPRequestTemplatedStringBody(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte("plain text"))
	}))
	defer server.Close()

	e := newTestEngine(t, Options{})
	result := runSingle(t, e, node("h", workflow.TypeHTTPRequest, map[string]any{
		"url":    server.URL,
		"method": "PUT",
		"body":   "hello {{data.name}} from {{results.t.type}}",
	}), map[string]any{"name": "Ada"})

	require.Equal(t, "hello Ada from webhook", gotBody)
	require.Equal(t, "plain text", resultOf(t, result, "h")["data"])
}

func TestHTTPRequestFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := newTestEngine(t, Options{})
	result := runSingle(t, e, node("h", workflow.TypeHTTPRequest, map[string]any{"url": server.URL}), nil)
	require.Equal(t, []string{"Node h: Request failed with status code 404"}, result.Errors)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	e = newTestEngine(t, Options{HTTPTimeout: 50 * time.Millisecond})
	result = runSingle(t, e, node("h", workflow.TypeHTTPRequest, map[string]any{"url": slow.URL}), nil)
	require.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	require.NotContains(t, result.Results, "h")
}

func TestSlackHandler(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	e := newTestEngine(t, Options{})
	result := runSingle(t, e, node("s", workflow.TypeSlack, map[string]any{
		"webhookUrl": server.URL,
		"message":    "New order from {{data.customer}}",
	}), map[string]any{"customer": "Ada"})

	require.Equal(t, map[string]any{"text": "New order from Ada", "channel": "#general"}, got)
	require.Equal(t, true, resultOf(t, result, "s")["success"])

	result = runSingle(t, e, node("s", workflow.TypeSlack, map[string]any{"webhookUrl": server.URL}), nil)
	require.Equal(t, []string{"Node s: Slack node requires webhook URL and message"}, result.Errors)
}

func TestEmailHandler(t *testing.T) {
	e := newTestEngine(t, Options{})
	result := runSingle(t, e, node("m", workflow.TypeEmail, map[string]any{
		"to":      "ops@example.com",
		"subject": "Order {{data.id}}",
		"body":    "Received",
	}), map[string]any{"id": 9})
	m := resultOf(t, result, "m")
	require.Equal(t, "email", m["type"])
	require.Equal(t, true, m["success"])

	result = runSingle(t, e, node("m", workflow.TypeEmail, map[string]any{"to": "ops@example.com"}), nil)
	require.Equal(t, []string{"Node m: Email node requires to, subject, and body"}, result.Errors)
}

func TestDelayHandler(t *testing.T) {
	e := newTestEngine(t, Options{})

	start := time.Now()
	result := runSingle(t, e, node("d", workflow.TypeDelay, map[string]any{"duration": 20}), nil)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Equal(t, 20, resultOf(t, result, "d")["duration"])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w := &workflow.Workflow{
		ID:    "slow",
		Nodes: []*workflow.Node{node("d", workflow.TypeDelay, map[string]any{"duration": 5000})},
	}
	start = time.Now()
	result, err := e.Run(ctx, w, nil)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, []string{"Node d: context deadline exceeded"}, result.Errors)
}

func TestConditionHandler(t *testing.T) {
	e := newTestEngine(t, Options{})

	result := runSingle(t, e, node("c", workflow.TypeCondition, map[string]any{
		"condition": "data.total >= 10 && data.status == 'paid'",
	}), map[string]any{"total": 12, "status": "paid"})
	c := resultOf(t, result, "c")
	require.Equal(t, true, c["result"])
	require.Equal(t, "data.total >= 10 && data.status == 'paid'", c["condition"])

	result = runSingle(t, e, node("c", workflow.TypeCondition, map[string]any{
		"condition": "data.total >",
	}), map[string]any{"total": 12})
	require.Equal(t, false, resultOf(t, result, "c")["result"])

	result = runSingle(t, e, node("c", workflow.TypeCondition, nil), nil)
	require.Equal(t, []string{"Node c: Condition node requires a condition expression"}, result.Errors)
}

func TestCodeHandler(t *testing.T) {
	e := newTestEngine(t, Options{})

	result := runSingle(t, e, node("c", workflow.TypeCode, map[string]any{
		"code": `return {"double": data["n"] * 2, "source": results["t"]["type"]}`,
	}), map[string]any{"n": 21})
	out := resultOf(t, result, "c")["result"].(map[string]any)
	require.EqualValues(t, 42, out["double"])
	require.Equal(t, "webhook", out["source"])

	result = runSingle(t, e, node("c", workflow.TypeCode, map[string]any{
		"code": `return missing_function()`,
	}), nil)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "Node c: Code execution error: ")

	result = runSingle(t, e, node("c", workflow.TypeCode, nil), nil)
	require.Equal(t, []string{"Node c: Code node requires code"}, result.Errors)
}

func TestCodeHandlerTimeout(t *testing.T) {
	e := newTestEngine(t, Options{ScriptTimeout: 50 * time.Millisecond})
	start := time.Now()
	result := runSingle(t, e, node("c", workflow.TypeCode, map[string]any{
		"code": "i := 0\nfor {\n\ti++\n}",
	}), nil)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, []string{"Node c: Code execution error: script timed out"}, result.Errors)
}

func TestStubHandlers(t *testing.T) {
	e := newTestEngine(t, Options{})
	for _, nodeType := range []string{workflow.TypeNotion, workflow.TypeAirtable} {
		result := runSingle(t, e, node("s", nodeType, map[string]any{"action": "create"}), nil)
		s := resultOf(t, result, "s")
		require.Equal(t, nodeType, s["type"])
		require.Equal(t, "create", s["action"])
		require.Equal(t, true, s["success"])
	}
}

func TestBuiltinTypesRegistered(t *testing.T) {
	e := newTestEngine(t, Options{})
	require.Equal(t, workflow.BuiltinTypes(), e.Registry().Types())
}

func TestMilliseconds(t *testing.T) {
	for _, value := range []any{250, int64(250), uint64(250), 250.0, json.Number("250"), " 250 "} {
		ms, ok := milliseconds(value)
		require.True(t, ok, "%#v", value)
		require.Equal(t, 250.0, ms)
	}
	_, ok := milliseconds("soon")
	require.False(t, ok)
}
