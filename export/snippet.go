// Package export renders a workflow as a standalone JavaScript snippet that
// can be embedded in a web page. The snippet is a convenience: it runs
// httpRequest and code nodes in definition order and ignores edges and
// conditions.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/deepnoodle-ai/runnel/workflow"
)

// GlobalName is the window property the snippet assigns.
const GlobalName = "runnelWorkflow"

var snippetTemplate = template.Must(template.New("snippet").Funcs(template.FuncMap{
	"json": toJSON,
}).Parse(`// Runnel Workflow Snippet - {{.Title}}
// Generated on {{.GeneratedAt}}

(function() {
  'use strict';

  const workflow = {
    name: {{json .Name}},
    nodes: {{json .Nodes}},
    edges: {{json .Edges}}
  };

  async function executeWorkflow(inputData = {}) {
    const results = {};
    const errors = [];

    console.log('Executing workflow:', workflow.name);

    for (const node of workflow.nodes) {
      const data = node.data || {};
      try {
        switch (node.type) {
          case 'httpRequest': {
            const response = await fetch(data.url, {
              method: data.method || 'GET',
              headers: data.headers || {},
              body: data.body ? JSON.stringify(data.body) : undefined
            });
            results[node.id] = await response.json();
            break;
          }
          case 'code': {
            const func = new Function('data', 'results', data.code);
            results[node.id] = func(inputData, results);
            break;
          }
          default:
            console.log('Node type not supported in snippet:', node.type);
        }
      } catch (error) {
        errors.push('Node ' + node.id + ': ' + error.message);
      }
    }

    return { success: errors.length === 0, results, errors };
  }

  window.{{.Global}} = {
    execute: executeWorkflow,
    workflow: workflow
  };

  console.log('Runnel workflow loaded:', workflow.name);
})();
`))

type snippetData struct {
	Title       string
	Name        string
	GeneratedAt string
	Global      string
	Nodes       []*workflow.Node
	Edges       []*workflow.Edge
}

// Snippet renders w as JavaScript. generatedAt is stamped into the header.
func Snippet(w *workflow.Workflow, generatedAt time.Time) (string, error) {
	nodes := w.Nodes
	if nodes == nil {
		nodes = []*workflow.Node{}
	}
	edges := w.Edges
	if edges == nil {
		edges = []*workflow.Edge{}
	}
	var buf bytes.Buffer
	err := snippetTemplate.Execute(&buf, snippetData{
		Title:       commentSafe(w.Name),
		Name:        w.Name,
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Global:      GlobalName,
		Nodes:       nodes,
		Edges:       edges,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render snippet: %w", err)
	}
	return buf.String(), nil
}

// toJSON renders v as indented JSON that is safe inside a <script> element.
func toJSON(v any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("    ", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// commentSafe keeps a name on a single comment line and out of reach of
// an enclosing </script> tag.
func commentSafe(name string) string {
	return strings.NewReplacer("\r", " ", "\n", " ", "</", `<\/`).Replace(name)
}
