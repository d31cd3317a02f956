package export

import (
	"strings"
	"testing"
	"time"

	"github.com/deepnoodle-ai/runnel/workflow"
	"github.com/stretchr/testify/require"
)

func TestSnippet(t *testing.T) {
	w := &workflow.Workflow{
		ID:   "orders",
		Name: "Order </script> Sync",
		Nodes: []*workflow.Node{
			{ID: "t", Type: workflow.TypeWebhook},
			{ID: "h", Type: workflow.TypeHTTPRequest, Data: map[string]any{"url": "https://example.com"}},
		},
		Edges: []*workflow.Edge{{ID: "e1", Source: "t", Target: "h"}},
	}
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	snippet, err := Snippet(w, at)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(snippet, "// Runnel Workflow Snippet - Order <\\/script> Sync\n"))
	require.Contains(t, snippet, "// Generated on 2025-01-02T03:04:05Z")
	require.Contains(t, snippet, `name: "Order \u003c/script\u003e Sync"`)
	require.NotContains(t, snippet, "</script>")
	require.Contains(t, snippet, `"url": "https://example.com"`)
	require.Contains(t, snippet, `"source": "t"`)
	require.Contains(t, snippet, "window.runnelWorkflow = {")
	require.True(t, strings.HasSuffix(snippet, "})();\n"))
}

func TestSnippetEmptyWorkflow(t *testing.T) {
	snippet, err := Snippet(&workflow.Workflow{Name: "line\nbreak"}, time.Now())
	require.NoError(t, err)
	require.Contains(t, snippet, "// Runnel Workflow Snippet - line break\n")
	require.Contains(t, snippet, "nodes: []")
	require.Contains(t, snippet, "edges: []")
}
